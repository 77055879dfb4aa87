// Package identity implements the identifier, identity, and permission
// model: Ed25519 key pairs, X25519-derived encryption keys, pre-shared
// keys, and the permission variants that a keyload grants over a topic.
package identity

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"

	"github.com/iotaledger/streams-sub000/sponge"
)

// ErrPermissionDenied is returned when an operation requires a
// capability an Identity does not hold — most commonly, a PSK attempting
// to sign.
var ErrPermissionDenied = errors.New("identity: permission denied")

// Kind tags the variant of an Identifier or Identity.
type Kind uint8

const (
	KindEd25519 Kind = iota
	KindPsk
	KindDecentralized
)

// Identifier names a participant: an Ed25519 public key paired with its
// derived X25519 encryption key, or a PSK id (which is its own key).
// Every Identity's Identifier carries both keys so that encryption
// targets never need to re-derive one from the other.
type Identifier struct {
	Kind      Kind
	Ed25519   [32]byte // valid when Kind == KindEd25519 or KindDecentralized
	X25519Pub [32]byte // valid when Kind == KindEd25519 or KindDecentralized
	PskID     [16]byte // valid when Kind == KindPsk
}

// Bytes returns the identifier's canonical payload bytes, used for
// absorption into the sponge and for map keys.
func (id Identifier) Bytes() []byte {
	switch id.Kind {
	case KindPsk:
		b := make([]byte, 16)
		copy(b, id.PskID[:])
		return b
	default:
		b := make([]byte, 32)
		copy(b, id.Ed25519[:])
		return b
	}
}

func (id Identifier) String() string {
	switch id.Kind {
	case KindPsk:
		return fmt.Sprintf("psk:%x", id.PskID)
	default:
		return fmt.Sprintf("ed25519:%x", id.Ed25519)
	}
}

// X25519PublicKey returns the identifier's encryption-target public key.
// PSK identifiers have no meaningful X25519 key and return an error.
func (id Identifier) X25519PublicKey() ([32]byte, error) {
	if id.Kind == KindPsk {
		return [32]byte{}, errors.New("identity: psk identifier has no x25519 key")
	}
	return id.X25519Pub, nil
}

// Identity is held only by the local user and knows how to sign and
// (except for PSK) derive an X25519 secret.
type Identity struct {
	Kind         Kind
	PrivateKey   ed25519.PrivateKey // valid for KindEd25519/KindDecentralized
	x25519Priv   [32]byte
	x25519Pub    [32]byte
	Psk          [32]byte // valid for KindPsk
}

// NewEd25519Identity generates a fresh Ed25519 identity with a
// deterministically-derived X25519 key pair for encryption.
func NewEd25519Identity() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("identity: generate ed25519 key: %w", err)
	}
	return newEd25519Identity(priv), nil
}

// NewEd25519IdentityFromSeed deterministically derives an identity from
// a seed, used by the end-to-end test scenarios that require literal,
// reproducible identities.
func NewEd25519IdentityFromSeed(seed []byte) *Identity {
	logrus.WithFields(logrus.Fields{
		"function": "NewEd25519IdentityFromSeed",
		"seed_len": len(seed),
	}).Debug("deriving identity from seed")

	s := sponge.New()
	s.Absorb([]byte("identity-seed"))
	s.Absorb(seed)
	s.Commit()
	digest := s.Squeeze(ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(digest)
	return newEd25519Identity(priv)
}

func newEd25519Identity(priv ed25519.PrivateKey) *Identity {
	id := &Identity{Kind: KindEd25519, PrivateKey: priv}

	s := sponge.New()
	s.Absorb([]byte("identity-x25519"))
	s.Absorb(priv.Seed())
	s.Commit()
	scalar := s.Squeeze(32)
	copy(id.x25519Priv[:], scalar)
	id.x25519Priv[0] &= 248
	id.x25519Priv[31] &= 127
	id.x25519Priv[31] |= 64

	curve25519.ScalarBaseMult(&id.x25519Pub, &id.x25519Priv)
	return id
}

// NewPsk derives a pre-shared-key identity from a secret. The PskId is
// the sponge digest of the secret truncated to 16 bytes.
func NewPsk(secret [32]byte) *Identity {
	return &Identity{Kind: KindPsk, Psk: secret}
}

// Identifier returns the public identifier corresponding to this
// identity.
func (i *Identity) Identifier() Identifier {
	switch i.Kind {
	case KindPsk:
		return Identifier{Kind: KindPsk, PskID: PskID(i.Psk)}
	default:
		var pk [32]byte
		copy(pk[:], i.PrivateKey.Public().(ed25519.PublicKey))
		return Identifier{Kind: i.Kind, Ed25519: pk, X25519Pub: i.x25519Pub}
	}
}

// Sign signs a hash with the identity's private key. PSK identities
// cannot sign and return ErrPermissionDenied, matching the rule that a
// PSK holder can read but never author.
func (i *Identity) Sign(hash []byte) ([]byte, error) {
	if i.Kind == KindPsk {
		return nil, ErrPermissionDenied
	}
	return ed25519.Sign(i.PrivateKey, hash), nil
}

// X25519PrivateKey returns the Curve25519 private scalar derived for
// this identity, used to decrypt material addressed to its public key.
// PSK identities have no X25519 secret.
func (i *Identity) X25519PrivateKey() ([32]byte, error) {
	if i.Kind == KindPsk {
		return [32]byte{}, errors.New("identity: psk identity has no x25519 secret")
	}
	return i.x25519Priv, nil
}

// PskID computes the 16-byte identifier for a pre-shared secret: the
// sponge digest of the secret, truncated.
func PskID(secret [32]byte) [16]byte {
	s := sponge.New()
	s.Absorb(secret[:])
	s.Commit()
	digest := s.Squeeze(16)
	var out [16]byte
	copy(out[:], digest)
	return out
}
