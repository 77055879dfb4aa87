// Package backup implements backup/restore of a full user session:
// spongos store, id store, identity, and stream address, sealed under
// a password-derived key. See spec §4.7.
package backup

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/ddml"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/sponge"
	"github.com/iotaledger/streams-sub000/store"
	"github.com/iotaledger/streams-sub000/transport"
	"github.com/iotaledger/streams-sub000/user"
)

// exportDomain is absorbed as a domain separator before the password,
// matching spec §4.7 exactly.
const exportDomain = "IOTA Streams user export"

// pbkdf2Salt is a fixed, public salt for the optional PBKDF2 hardening
// pass. It need not be secret — the password is — but it must be
// stable across Backup/Restore so the same password re-derives the
// same key.
var pbkdf2Salt = []byte("streams-sub000 backup pbkdf2 salt v1")

const pbkdf2Iterations = 210_000

// ErrCorrupt is returned by Restore when the backup's trailing MAC does
// not verify, or the stream is truncated mid-field — a wrong password
// or damaged backup file.
var ErrCorrupt = errors.New("backup: corrupt or wrong-password backup")

func deriveKey(password string, pbkdf2Hardening bool) [32]byte {
	s := sponge.New()
	s.Absorb([]byte(exportDomain))
	s.Absorb([]byte(password))
	s.Commit()
	key := s.Squeeze(32)

	var out [32]byte
	if pbkdf2Hardening {
		stretched := pbkdf2.Key(key, pbkdf2Salt, pbkdf2Iterations, 32, sha256.New)
		copy(out[:], stretched)
	} else {
		copy(out[:], key)
	}
	return out
}

func identifierKind(id identity.Identifier) byte { return byte(id.Kind) }

func absorbIdentifier(c *ddml.Context, id identity.Identifier) (identity.Identifier, error) {
	tag, err := c.AbsorbByte(identifierKind(id))
	if err != nil {
		return identity.Identifier{}, err
	}
	kind := identity.Kind(tag)

	var field []byte
	if c.Mode == ddml.Wrap || c.Mode == ddml.SizeOf {
		field = id.Bytes()
	} else {
		payloadLen := 32
		if kind == identity.KindPsk {
			payloadLen = 16
		}
		field = make([]byte, payloadLen)
	}
	payload, err := c.Absorb(field)
	if err != nil {
		return identity.Identifier{}, err
	}
	out := identity.Identifier{Kind: kind}
	switch out.Kind {
	case identity.KindPsk:
		copy(out.PskID[:], payload)
	default:
		copy(out.Ed25519[:], payload)
	}
	return out, nil
}

// Backup serializes u's full session state, sealing private key
// material under a key derived from password. The returned bytes are
// self-contained: Restore needs only them, the password, and a
// transport to resume the session.
func Backup(u *user.User, password string) ([]byte, error) {
	key := deriveKey(password, u.Options().PBKDF2Hardening)

	c := ddml.NewWrap(sponge.New(), nil)
	c.AbsorbExternal(key[:])
	if err := codec(c, u, nil); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	c.Commit()
	if _, err := c.Squeeze(32); err != nil {
		return nil, fmt.Errorf("backup: mac: %w", err)
	}
	return c.Bytes(), nil
}

// restored accumulates what codec reads back during Restore.
type restored struct {
	identitySeed  [32]byte
	identityPsk   [32]byte
	identityKind  identity.Kind
	streamAddress *address.Address
	authorID      *identity.Identifier
	idStore       *store.BranchStore
	spongosStore  *store.Spongos
	psks          map[[16]byte][32]byte
}

// Restore recovers a User from data, given the same password used to
// create it and a (possibly different) transport to resume against.
func Restore(data []byte, password string, t transport.Transport, opts user.Options) (*user.User, error) {
	key := deriveKey(password, opts.PBKDF2Hardening)

	c := ddml.NewUnwrap(sponge.New(), data, nil)
	c.AbsorbExternal(key[:])

	r := &restored{idStore: store.NewBranchStore(), spongosStore: store.NewSpongos(), psks: make(map[[16]byte][32]byte)}
	if err := codec(c, nil, r); err != nil {
		return nil, fmt.Errorf("restore: %w", ErrCorrupt)
	}
	c.Commit()
	if _, err := c.Squeeze(32); err != nil {
		return nil, fmt.Errorf("restore: %w", ErrCorrupt)
	}

	var id *identity.Identity
	switch r.identityKind {
	case identity.KindPsk:
		id = identity.NewPsk(r.identityPsk)
	default:
		id = identity.NewEd25519IdentityFromSeed(r.identitySeed[:])
	}

	return user.Rehydrate(id, t, opts, r.streamAddress, r.authorID, r.idStore, r.spongosStore, r.psks), nil
}

// codec runs the single declarative backup script against c. On Wrap,
// u supplies the fields to emit. On Unwrap, out accumulates what was
// read. Exactly one of u/out is non-nil, matching the Wrap/Unwrap split
// used throughout package message.
func codec(c *ddml.Context, u *user.User, out *restored) error {
	if c.Mode == ddml.Wrap {
		return wrapCodec(c, u)
	}
	return unwrapCodec(c, out)
}

func wrapCodec(c *ddml.Context, u *user.User) error {
	id := u.Identity()
	pubID := id.Identifier()
	if _, err := absorbIdentifier(c, pubID); err != nil {
		return err
	}
	if pubID.Kind == identity.KindPsk {
		if _, err := c.Mask(id.Psk[:]); err != nil {
			return err
		}
	} else {
		if _, err := c.Mask(id.PrivateKey.Seed()); err != nil {
			return err
		}
	}

	streamAddr, hasStream := u.StreamAddress()
	if _, err := c.Maybe(hasStream, func(inner *ddml.Context) error {
		if _, err := inner.Absorb(streamAddr.Base[:]); err != nil {
			return err
		}
		_, err := inner.Absorb(streamAddr.Relative[:])
		return err
	}); err != nil {
		return err
	}

	authorID, hasAuthor := u.AuthorIdentifier()
	if _, err := c.Maybe(hasAuthor, func(inner *ddml.Context) error {
		_, err := absorbIdentifier(inner, authorID)
		return err
	}); err != nil {
		return err
	}

	entries := u.SpongosStore().Entries()
	if _, err := c.AbsorbVarint(uint64(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := c.Absorb(e.MsgID[:]); err != nil {
			return err
		}
		state := e.Spongos.MarshalState()
		if _, err := c.AbsorbVarint(uint64(len(state))); err != nil {
			return err
		}
		if _, err := c.Mask(state); err != nil {
			return err
		}
	}

	topics := u.IDStore().Topics()
	if _, err := c.AbsorbVarint(uint64(len(topics))); err != nil {
		return err
	}
	for _, topic := range topics {
		if _, err := c.AbsorbBytes([]byte(topic)); err != nil {
			return err
		}
		branch := u.IDStore().Branch(topic)

		keys := branch.Keys()
		if _, err := c.AbsorbVarint(uint64(len(keys))); err != nil {
			return err
		}
		for _, ik := range keys {
			if _, err := absorbIdentifier(c, ik.Identifier); err != nil {
				return err
			}
			if _, err := c.Absorb(ik.Key.X25519Pub[:]); err != nil {
				return err
			}
			isPsk := byte(0)
			if ik.Key.IsPsk {
				isPsk = 1
			}
			if _, err := c.AbsorbByte(isPsk); err != nil {
				return err
			}
			if _, err := c.Mask(ik.Key.Psk[:]); err != nil {
				return err
			}
		}

		perms := branch.Permissions()
		if _, err := c.AbsorbVarint(uint64(len(perms))); err != nil {
			return err
		}
		for _, ip := range perms {
			if _, err := absorbIdentifier(c, ip.Identifier); err != nil {
				return err
			}
			if _, err := c.AbsorbByte(byte(ip.Permission.Level)); err != nil {
				return err
			}
			if _, err := c.AbsorbByte(byte(ip.Permission.Duration.Kind)); err != nil {
				return err
			}
			if _, err := c.AbsorbVarint(ip.Permission.Duration.Timestamp); err != nil {
				return err
			}
		}

		cursors := branch.Cursors()
		if _, err := c.AbsorbVarint(uint64(len(cursors))); err != nil {
			return err
		}
		for _, ic := range cursors {
			if _, err := absorbIdentifier(c, ic.Identifier); err != nil {
				return err
			}
			if _, err := c.AbsorbVarint(ic.Cursor); err != nil {
				return err
			}
		}
	}

	psks := u.Psks()
	if _, err := c.AbsorbVarint(uint64(len(psks))); err != nil {
		return err
	}
	for pskID, secret := range psks {
		if _, err := c.Absorb(pskID[:]); err != nil {
			return err
		}
		if _, err := c.Mask(secret[:]); err != nil {
			return err
		}
	}
	return nil
}

func unwrapCodec(c *ddml.Context, out *restored) error {
	pubID, err := absorbIdentifier(c, identity.Identifier{})
	if err != nil {
		return err
	}
	out.identityKind = pubID.Kind
	if pubID.Kind == identity.KindPsk {
		secret, err := c.Mask(make([]byte, 32))
		if err != nil {
			return err
		}
		copy(out.identityPsk[:], secret)
	} else {
		seed, err := c.Mask(make([]byte, 32))
		if err != nil {
			return err
		}
		copy(out.identitySeed[:], seed)
	}

	var streamAddr address.Address
	hasStream, err := c.Maybe(false, func(inner *ddml.Context) error {
		base, err := inner.Absorb(make([]byte, address.AppAddrLen))
		if err != nil {
			return err
		}
		copy(streamAddr.Base[:], base)
		rel, err := inner.Absorb(make([]byte, address.MsgIDLen))
		if err != nil {
			return err
		}
		copy(streamAddr.Relative[:], rel)
		return nil
	})
	if err != nil {
		return err
	}
	if hasStream {
		out.streamAddress = &streamAddr
	}

	var authorID identity.Identifier
	hasAuthor, err := c.Maybe(false, func(inner *ddml.Context) error {
		id, err := absorbIdentifier(inner, identity.Identifier{})
		authorID = id
		return err
	})
	if err != nil {
		return err
	}
	if hasAuthor {
		out.authorID = &authorID
	}

	nEntries, err := c.AbsorbVarint(0)
	if err != nil {
		return err
	}
	for i := uint64(0); i < nEntries; i++ {
		msgIDBytes, err := c.Absorb(make([]byte, address.MsgIDLen))
		if err != nil {
			return err
		}
		var msgID address.MsgID
		copy(msgID[:], msgIDBytes)

		stateLen, err := c.AbsorbVarint(0)
		if err != nil {
			return err
		}
		state, err := c.Mask(make([]byte, stateLen))
		if err != nil {
			return err
		}
		sp, err := sponge.UnmarshalState(state)
		if err != nil {
			return err
		}
		out.spongosStore.Insert(msgID, sp)
	}

	nTopics, err := c.AbsorbVarint(0)
	if err != nil {
		return err
	}
	for i := uint64(0); i < nTopics; i++ {
		topicBytes, err := c.AbsorbBytes(nil)
		if err != nil {
			return err
		}
		topic := address.Topic(topicBytes)
		branch := out.idStore.Branch(topic)

		nKeys, err := c.AbsorbVarint(0)
		if err != nil {
			return err
		}
		for j := uint64(0); j < nKeys; j++ {
			id, err := absorbIdentifier(c, identity.Identifier{})
			if err != nil {
				return err
			}
			xpub, err := c.Absorb(make([]byte, 32))
			if err != nil {
				return err
			}
			isPskByte, err := c.AbsorbByte(0)
			if err != nil {
				return err
			}
			psk, err := c.Mask(make([]byte, 32))
			if err != nil {
				return err
			}
			var key store.Key
			copy(key.X25519Pub[:], xpub)
			copy(key.Psk[:], psk)
			key.IsPsk = isPskByte == 1
			branch.SetKey(id, key)
		}

		nPerms, err := c.AbsorbVarint(0)
		if err != nil {
			return err
		}
		for j := uint64(0); j < nPerms; j++ {
			id, err := absorbIdentifier(c, identity.Identifier{})
			if err != nil {
				return err
			}
			level, err := c.AbsorbByte(0)
			if err != nil {
				return err
			}
			durKind, err := c.AbsorbByte(0)
			if err != nil {
				return err
			}
			timestamp, err := c.AbsorbVarint(0)
			if err != nil {
				return err
			}
			branch.SetPermission(id, identity.Permission{
				Level:      identity.Level(level),
				Identifier: id,
				Duration:   identity.Duration{Kind: identity.DurationKind(durKind), Timestamp: timestamp},
			})
		}

		nCursors, err := c.AbsorbVarint(0)
		if err != nil {
			return err
		}
		for j := uint64(0); j < nCursors; j++ {
			id, err := absorbIdentifier(c, identity.Identifier{})
			if err != nil {
				return err
			}
			cursor, err := c.AbsorbVarint(0)
			if err != nil {
				return err
			}
			branch.SetCursor(id, cursor)
		}
	}

	nPsks, err := c.AbsorbVarint(0)
	if err != nil {
		return err
	}
	for i := uint64(0); i < nPsks; i++ {
		pskIDBytes, err := c.Absorb(make([]byte, 16))
		if err != nil {
			return err
		}
		secret, err := c.Mask(make([]byte, 32))
		if err != nil {
			return err
		}
		var pskID [16]byte
		copy(pskID[:], pskIDBytes)
		var secretArr [32]byte
		copy(secretArr[:], secret)
		out.psks[pskID] = secretArr
	}
	return nil
}
