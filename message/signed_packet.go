package message

import (
	"crypto/ed25519"
	"fmt"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/ddml"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/sponge"
)

// SignedPacket carries a public (authenticated-only) payload and a
// masked (encrypted+authenticated) payload, signed by its publisher.
// Receivers reject it if the publisher's cursor on the topic is not
// strictly greater than the stored cursor.
type SignedPacket struct {
	HDF           HDF
	PublicPayload []byte
	MaskedPayload []byte
	Signature     [64]byte
}

func (p *SignedPacket) codec(c *ddml.Context, publisher *identity.Identity) error {
	hdf, err := absorbHDF(c, p.HDF)
	if err != nil {
		return err
	}
	p.HDF = hdf
	if hdf.Linked == nil {
		return fmt.Errorf("message: signed packet requires a linked message")
	}
	if _, err := c.Join(hdf.Linked[:]); err != nil {
		return err
	}

	pub, err := c.AbsorbBytes(p.PublicPayload)
	if err != nil {
		return fmt.Errorf("message: signed packet public payload: %w", err)
	}
	if c.Mode == ddml.Unwrap {
		p.PublicPayload = pub
	}

	masked, err := c.MaskBytes(p.MaskedPayload)
	if err != nil {
		return fmt.Errorf("message: signed packet masked payload: %w", err)
	}
	if c.Mode == ddml.Unwrap {
		p.MaskedPayload = masked
	}

	c.Commit()
	hash := c.Spongos.Squeeze(64)

	switch c.Mode {
	case ddml.Wrap:
		sig, err := publisher.Sign(hash)
		if err != nil {
			return fmt.Errorf("message: signed packet sign: %w", err)
		}
		got, err := c.Absorb(sig)
		if err != nil {
			return err
		}
		copy(p.Signature[:], got)
	case ddml.Unwrap:
		got, err := c.Absorb(make([]byte, ed25519.SignatureSize))
		if err != nil {
			return err
		}
		copy(p.Signature[:], got)
		if !ed25519.Verify(p.HDF.Publisher.Ed25519[:], hash, p.Signature[:]) {
			return ddml.ErrAuthFailure
		}
	default:
		if _, err := c.Absorb(make([]byte, ed25519.SignatureSize)); err != nil {
			return err
		}
	}
	return nil
}

// WrapSignedPacket encodes and signs a signed packet linked to linked.
func WrapSignedPacket(sp *sponge.Spongos, store ddml.SpongosStore, publisher *identity.Identity, linked address.MsgID, topic address.Topic, sequence uint64, publicPayload, maskedPayload []byte) ([]byte, error) {
	id := publisher.Identifier()
	c := ddml.NewWrap(sp, store)
	p := &SignedPacket{
		HDF:           HDF{MessageType: TypeSignedPacket, Publisher: id, Topic: topic, Sequence: sequence, Linked: &linked},
		PublicPayload: publicPayload,
		MaskedPayload: maskedPayload,
	}
	if err := p.codec(c, publisher); err != nil {
		return nil, fmt.Errorf("message: wrap signed packet: %w", err)
	}
	return c.Bytes(), nil
}

// UnwrapSignedPacket decodes and verifies a signed packet.
func UnwrapSignedPacket(sp *sponge.Spongos, store ddml.SpongosStore, data []byte) (*SignedPacket, error) {
	c := ddml.NewUnwrap(sp, data, store)
	p := &SignedPacket{}
	if err := p.codec(c, nil); err != nil {
		return nil, fmt.Errorf("message: unwrap signed packet: %w", err)
	}
	return p, nil
}
