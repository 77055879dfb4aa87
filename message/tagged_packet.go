package message

import (
	"fmt"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/ddml"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/sponge"
)

// TaggedPacket carries a public and a masked payload authenticated only
// by the sponge MAC, not a signature — sufficient because the sponge
// state at Join is itself secret, derived from a keyload. This is the
// only kind a PSK holder (who cannot sign) may author.
type TaggedPacket struct {
	HDF           HDF
	PublicPayload []byte
	MaskedPayload []byte
	MAC           [32]byte
}

func (p *TaggedPacket) codec(c *ddml.Context) error {
	hdf, err := absorbHDF(c, p.HDF)
	if err != nil {
		return err
	}
	p.HDF = hdf
	if hdf.Linked == nil {
		return fmt.Errorf("message: tagged packet requires a linked message")
	}
	if _, err := c.Join(hdf.Linked[:]); err != nil {
		return err
	}

	pub, err := c.AbsorbBytes(p.PublicPayload)
	if err != nil {
		return fmt.Errorf("message: tagged packet public payload: %w", err)
	}
	if c.Mode == ddml.Unwrap {
		p.PublicPayload = pub
	}

	masked, err := c.MaskBytes(p.MaskedPayload)
	if err != nil {
		return fmt.Errorf("message: tagged packet masked payload: %w", err)
	}
	if c.Mode == ddml.Unwrap {
		p.MaskedPayload = masked
	}

	c.Commit()
	mac, err := c.Squeeze(32)
	if err != nil {
		return err
	}
	copy(p.MAC[:], mac)
	return nil
}

// WrapTaggedPacket encodes a tagged packet linked to linked. publisher
// may be a PSK identity, since no signature is required.
func WrapTaggedPacket(sp *sponge.Spongos, store ddml.SpongosStore, publisher identity.Identifier, linked address.MsgID, topic address.Topic, sequence uint64, publicPayload, maskedPayload []byte) ([]byte, error) {
	c := ddml.NewWrap(sp, store)
	p := &TaggedPacket{
		HDF:           HDF{MessageType: TypeTaggedPacket, Publisher: publisher, Topic: topic, Sequence: sequence, Linked: &linked},
		PublicPayload: publicPayload,
		MaskedPayload: maskedPayload,
	}
	if err := p.codec(c); err != nil {
		return nil, fmt.Errorf("message: wrap tagged packet: %w", err)
	}
	return c.Bytes(), nil
}

// UnwrapTaggedPacket decodes and authenticates a tagged packet.
func UnwrapTaggedPacket(sp *sponge.Spongos, store ddml.SpongosStore, data []byte) (*TaggedPacket, error) {
	c := ddml.NewUnwrap(sp, data, store)
	p := &TaggedPacket{}
	if err := p.codec(c); err != nil {
		return nil, fmt.Errorf("message: unwrap tagged packet: %w", err)
	}
	return p, nil
}
