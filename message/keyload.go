package message

import (
	"crypto/ed25519"
	"fmt"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/ddml"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/sponge"
)

// KeyloadRecipient is one subscriber entry in a keyload: a permission
// grant plus the X25519 public key the session key is encrypted to.
// The identifier here is always Ed25519/decentralized; PSK recipients
// are listed separately as KeyloadPSK entries.
type KeyloadRecipient struct {
	Permission identity.Permission
	X25519Pub  [32]byte
}

// KeyloadPSK is one pre-shared-key entry in a keyload.
type KeyloadPSK struct {
	PskID [16]byte
	Psk   [32]byte
}

// Keyload redefines the access-control set for its subtree and embeds a
// fresh session key, separately encrypted to every recipient. The
// permission list is cleartext (Absorb, not Mask) and so is readable by
// anyone who can reach the message; only the session key is sealed.
type Keyload struct {
	HDF         HDF
	Nonce       [16]byte
	Permissions []identity.Permission
}

func wrapSubscriberEntry(c *ddml.Context, perm identity.Permission, recipientPub [32]byte, sessionKey [32]byte) error {
	return c.Fork(func(inner *ddml.Context) error {
		if _, err := inner.AbsorbByte(byte(perm.Level)); err != nil {
			return err
		}
		if _, err := inner.AbsorbByte(byte(perm.Identifier.Kind)); err != nil {
			return err
		}
		if _, err := inner.Absorb(perm.Identifier.Bytes()); err != nil {
			return err
		}
		_, err := inner.X25519WrapKey(recipientPub, sessionKey[:])
		return err
	})
}

// unwrapSubscriberEntry reads one subscriber entry in full regardless
// of whether it names this reader, so the outer sponge and wire
// position stay in lockstep for every observer. When the entry names
// selfEd25519 and the session key has not yet been recovered, it
// additionally decrypts the session key with selfPriv.
func unwrapSubscriberEntry(c *ddml.Context, selfEd25519 [32]byte, selfPriv *[32]byte, sessionKey *[32]byte, recovered *bool) (identity.Permission, error) {
	var perm identity.Permission
	err := c.Fork(func(inner *ddml.Context) error {
		lvl, err := inner.AbsorbByte(0)
		if err != nil {
			return err
		}
		idTag, err := inner.AbsorbByte(0)
		if err != nil {
			return err
		}
		idPayload, err := inner.Absorb(make([]byte, 32))
		if err != nil {
			return err
		}
		var id identity.Identifier
		id.Kind = identity.Kind(idTag)
		copy(id.Ed25519[:], idPayload)
		perm = identity.Permission{Level: identity.Level(lvl), Identifier: id}

		isMine := selfPriv != nil && !*recovered && id.Ed25519 == selfEd25519
		if isMine {
			key, err := inner.X25519UnwrapKey(*selfPriv, 32)
			if err != nil {
				return err
			}
			copy(sessionKey[:], key)
			*recovered = true
			return nil
		}
		_, err = inner.X25519UnwrapKey([32]byte{}, 32)
		return err
	})
	return perm, err
}

func wrapPSKEntry(c *ddml.Context, entry KeyloadPSK, sessionKey [32]byte) error {
	return c.Fork(func(inner *ddml.Context) error {
		if _, err := inner.Absorb(entry.PskID[:]); err != nil {
			return err
		}
		inner.AbsorbExternal(entry.Psk[:])
		inner.Commit()
		_, err := inner.Mask(sessionKey[:])
		return err
	})
}

// unwrapPSKEntry mirrors unwrapSubscriberEntry for PSK entries: every
// entry is fully consumed, and the session key is recovered only when
// the entry's id is found in selfPsks.
func unwrapPSKEntry(c *ddml.Context, selfPsks map[[16]byte][32]byte, sessionKey *[32]byte, recovered *bool) error {
	return c.Fork(func(inner *ddml.Context) error {
		idBytes, err := inner.Absorb(make([]byte, 16))
		if err != nil {
			return err
		}
		var id [16]byte
		copy(id[:], idBytes)

		psk, found := selfPsks[id]
		matches := found && !*recovered
		inner.AbsorbExternal(psk[:])
		inner.Commit()

		key, err := inner.Mask(make([]byte, 32))
		if err != nil {
			return err
		}
		if matches {
			copy(sessionKey[:], key)
			*recovered = true
		}
		return nil
	})
}

// WrapKeyload encodes a keyload linked to linked, embedding sessionKey
// for every recipient and psk listed. The Ed25519 signature covers
// everything through the permission list; the session key is bound
// into the outer sponge only after the signature, so a recipient who
// cannot recover it still fully verifies and stores this message (see
// KeyMissing in the error taxonomy) — descendants that Join it simply
// fail to decrypt for that recipient.
func WrapKeyload(sp *sponge.Spongos, store ddml.SpongosStore, author *identity.Identity, linked address.MsgID, topic address.Topic, sequence uint64, nonce [16]byte, sessionKey [32]byte, recipients []KeyloadRecipient, psks []KeyloadPSK) ([]byte, error) {
	id := author.Identifier()
	c := ddml.NewWrap(sp, store)

	hdf, err := absorbHDF(c, HDF{MessageType: TypeKeyload, Publisher: id, Topic: topic, Sequence: sequence, Linked: &linked})
	if err != nil {
		return nil, fmt.Errorf("message: wrap keyload: %w", err)
	}
	_ = hdf
	if _, err := c.Join(linked[:]); err != nil {
		return nil, fmt.Errorf("message: wrap keyload: %w", err)
	}
	if _, err := c.Absorb(nonce[:]); err != nil {
		return nil, err
	}
	if _, err := c.AbsorbVarint(uint64(len(recipients) + len(psks))); err != nil {
		return nil, err
	}

	if _, err := c.AbsorbVarint(uint64(len(recipients))); err != nil {
		return nil, err
	}
	for _, r := range recipients {
		if err := wrapSubscriberEntry(c, r.Permission, r.X25519Pub, sessionKey); err != nil {
			return nil, fmt.Errorf("message: wrap keyload recipient: %w", err)
		}
	}

	if _, err := c.AbsorbVarint(uint64(len(psks))); err != nil {
		return nil, err
	}
	for _, p := range psks {
		if err := wrapPSKEntry(c, p, sessionKey); err != nil {
			return nil, fmt.Errorf("message: wrap keyload psk: %w", err)
		}
	}

	c.Commit()
	hash := c.Spongos.Squeeze(64)
	sig, err := author.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("message: wrap keyload sign: %w", err)
	}
	if _, err := c.Absorb(sig); err != nil {
		return nil, err
	}

	c.AbsorbExternal(sessionKey[:])
	return c.Bytes(), nil
}

// UnwrapKeyload decodes and verifies a keyload, attempting to recover
// sessionKey using selfIdentifier's material. recovered reports whether
// the session key was obtained; when false the caller still advances
// cursors and stores the message (it is not an error), but descendants
// that Join it will fail to decrypt for this user.
func UnwrapKeyload(sp *sponge.Spongos, store ddml.SpongosStore, data []byte, selfIdentifier identity.Identifier, selfX25519Priv *[32]byte, selfPsks map[[16]byte][32]byte) (*Keyload, [32]byte, bool, error) {
	c := ddml.NewUnwrap(sp, data, store)
	k := &Keyload{}

	hdf, err := absorbHDF(c, HDF{})
	if err != nil {
		return nil, [32]byte{}, false, fmt.Errorf("message: unwrap keyload: %w", err)
	}
	k.HDF = hdf
	if hdf.Linked == nil {
		return nil, [32]byte{}, false, fmt.Errorf("message: keyload missing linked message")
	}
	if _, err := c.Join(hdf.Linked[:]); err != nil {
		return nil, [32]byte{}, false, err
	}
	nonce, err := c.Absorb(make([]byte, 16))
	if err != nil {
		return nil, [32]byte{}, false, err
	}
	copy(k.Nonce[:], nonce)

	if _, err := c.AbsorbVarint(0); err != nil {
		return nil, [32]byte{}, false, err
	}

	nSub, err := c.AbsorbVarint(0)
	if err != nil {
		return nil, [32]byte{}, false, err
	}

	var sessionKey [32]byte
	var recovered bool
	var selfPriv *[32]byte
	if selfX25519Priv != nil && selfIdentifier.Kind != identity.KindPsk {
		selfPriv = selfX25519Priv
	}

	for i := uint64(0); i < nSub; i++ {
		perm, err := unwrapSubscriberEntry(c, selfIdentifier.Ed25519, selfPriv, &sessionKey, &recovered)
		if err != nil {
			return nil, [32]byte{}, false, fmt.Errorf("message: unwrap keyload recipient: %w", err)
		}
		k.Permissions = append(k.Permissions, perm)
	}

	nPsk, err := c.AbsorbVarint(0)
	if err != nil {
		return nil, [32]byte{}, false, err
	}
	for i := uint64(0); i < nPsk; i++ {
		if err := unwrapPSKEntry(c, selfPsks, &sessionKey, &recovered); err != nil {
			return nil, [32]byte{}, false, fmt.Errorf("message: unwrap keyload psk: %w", err)
		}
	}

	c.Commit()
	hash := c.Spongos.Squeeze(64)
	sig, err := c.Absorb(make([]byte, ed25519.SignatureSize))
	if err != nil {
		return nil, [32]byte{}, false, err
	}
	if !ed25519.Verify(k.HDF.Publisher.Ed25519[:], hash, sig) {
		return nil, [32]byte{}, false, ddml.ErrAuthFailure
	}

	if recovered {
		c.AbsorbExternal(sessionKey[:])
	}

	return k, sessionKey, recovered, nil
}
