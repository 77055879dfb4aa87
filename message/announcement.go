package message

import (
	"crypto/ed25519"
	"fmt"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/ddml"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/sponge"
)

// Announcement is the root message of a stream or sub-branch: it
// carries the author's identity and X25519 encryption key and
// initializes the sponge state descendants will Join.
type Announcement struct {
	HDF              HDF
	AuthorIdentifier identity.Identifier
	AuthorX25519Pub  [32]byte
	Signature        [64]byte
}

// codec runs the single declarative announcement script against c. On
// Wrap, author supplies the signing key and a's fields describe what to
// emit. On Unwrap, a is populated from the wire and the embedded
// identifier's own Ed25519 key verifies the trailing signature.
func (a *Announcement) codec(c *ddml.Context, author *identity.Identity) error {
	hdf, err := absorbHDF(c, HDF{MessageType: TypeAnnouncement, Publisher: a.HDF.Publisher, Topic: a.HDF.Topic, Sequence: a.HDF.Sequence})
	if err != nil {
		return err
	}
	a.HDF = hdf

	idTag, err := c.Mask([]byte{byte(a.AuthorIdentifier.Kind)})
	if err != nil {
		return fmt.Errorf("message: announcement author_identifier tag: %w", err)
	}
	idPayload, err := c.Mask(a.AuthorIdentifier.Bytes())
	if err != nil {
		return fmt.Errorf("message: announcement author_identifier payload: %w", err)
	}
	if c.Mode == ddml.Unwrap {
		a.AuthorIdentifier = identity.Identifier{Kind: identity.Kind(idTag[0])}
		switch a.AuthorIdentifier.Kind {
		case identity.KindPsk:
			copy(a.AuthorIdentifier.PskID[:], idPayload)
		default:
			copy(a.AuthorIdentifier.Ed25519[:], idPayload)
		}
	}

	xpub, err := c.Mask(a.AuthorX25519Pub[:])
	if err != nil {
		return fmt.Errorf("message: announcement author x25519 key: %w", err)
	}
	if c.Mode == ddml.Unwrap {
		copy(a.AuthorX25519Pub[:], xpub)
	}
	if c.Mode == ddml.Unwrap {
		a.AuthorIdentifier.X25519Pub = a.AuthorX25519Pub
	}

	c.Commit()
	hash := c.Spongos.Squeeze(64)

	switch c.Mode {
	case ddml.Wrap:
		sig, err := author.Sign(hash)
		if err != nil {
			return fmt.Errorf("message: announcement sign: %w", err)
		}
		got, err := c.Absorb(sig)
		if err != nil {
			return err
		}
		copy(a.Signature[:], got)
	case ddml.Unwrap:
		got, err := c.Absorb(make([]byte, ed25519.SignatureSize))
		if err != nil {
			return err
		}
		copy(a.Signature[:], got)
		if !ed25519.Verify(a.AuthorIdentifier.Ed25519[:], hash, a.Signature[:]) {
			return ddml.ErrAuthFailure
		}
	default:
		if _, err := c.Absorb(make([]byte, ed25519.SignatureSize)); err != nil {
			return err
		}
	}
	return nil
}

// SizeOfAnnouncement computes the exact wire length of an announcement
// for topic, used to preallocate the Wrap buffer.
func SizeOfAnnouncement(topic address.Topic) int {
	c := ddml.NewSizeOf()
	a := &Announcement{HDF: HDF{Topic: topic}}
	a.codec(c, nil)
	return c.Size()
}

// WrapAnnouncement encodes, signs, and absorbs an announcement for
// topic at sequence, driven by sp.
func WrapAnnouncement(sp *sponge.Spongos, store ddml.SpongosStore, author *identity.Identity, topic address.Topic, sequence uint64) ([]byte, error) {
	id := author.Identifier()
	xpub, err := id.X25519PublicKey()
	if err != nil {
		return nil, fmt.Errorf("message: wrap announcement: %w", err)
	}
	c := ddml.NewWrap(sp, store)
	a := &Announcement{
		HDF:              HDF{Publisher: id, Topic: topic, Sequence: sequence},
		AuthorIdentifier: id,
		AuthorX25519Pub:  xpub,
	}
	if err := a.codec(c, author); err != nil {
		return nil, fmt.Errorf("message: wrap announcement: %w", err)
	}
	return c.Bytes(), nil
}

// UnwrapAnnouncement decodes and verifies an announcement from data,
// driven by sp.
func UnwrapAnnouncement(sp *sponge.Spongos, store ddml.SpongosStore, data []byte) (*Announcement, error) {
	c := ddml.NewUnwrap(sp, data, store)
	a := &Announcement{}
	if err := a.codec(c, nil); err != nil {
		return nil, fmt.Errorf("message: unwrap announcement: %w", err)
	}
	return a, nil
}
