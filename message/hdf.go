// Package message implements the header common to every message kind
// (HDF) and the six content codecs (announcement, keyload,
// subscription, unsubscription, signed-packet, tagged-packet), each
// written once as a DDML script and dispatched across SizeOf, Wrap, and
// Unwrap by ddml.Context.
package message

import (
	"errors"
	"fmt"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/ddml"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/sponge"
)

// Type tags the six message kinds on the wire.
type Type byte

const (
	TypeAnnouncement Type = 0
	TypeSignedPacket  Type = 1
	TypeTaggedPacket  Type = 2
	TypeKeyload       Type = 3
	TypeSubscription  Type = 4
	TypeUnsubscription Type = 5
)

// Version is the only wire version this implementation emits or
// accepts.
const Version = 0

// frameTypeFinal marks the only frame type this implementation
// produces: messages are never split across frames.
const frameTypeFinal = 0

// ErrUnsupportedVersion is returned when a header names a version this
// implementation does not understand.
var ErrUnsupportedVersion = errors.New("message: unsupported version")

// HDF is the header common to every message kind.
type HDF struct {
	MessageType Type
	Publisher   identity.Identifier
	Topic       address.Topic
	Sequence    uint64
	Linked      *address.MsgID // nil when this message starts a branch
}

// PeekType reads the message_type byte without consuming or verifying
// anything else, so a receiver can dispatch to the right Unwrap
// function before committing to a codec.
func PeekType(data []byte) (Type, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("message: peek type: %w", ErrShortHeader)
	}
	if data[0] != Version {
		return 0, ErrUnsupportedVersion
	}
	return Type(data[1]), nil
}

// ErrShortHeader is returned by PeekType when data is too short to
// contain even the fixed version/message_type prefix.
var ErrShortHeader = errors.New("message: header too short")

// PeekLinked decodes only the HDF block to recover a message's linked
// predecessor address, without running its content codec or touching
// any spongos store. Used by a receiver to key a re-queued orphan on
// its predecessor before the predecessor has arrived.
func PeekLinked(data []byte) (*address.MsgID, error) {
	c := ddml.NewUnwrap(sponge.New(), data, nil)
	hdf, err := absorbHDF(c, HDF{})
	if err != nil {
		return nil, fmt.Errorf("message: peek linked: %w", err)
	}
	return hdf.Linked, nil
}

// absorbIdentifier writes/reads an identifier's variant tag and payload.
func absorbIdentifier(c *ddml.Context, id identity.Identifier) (identity.Identifier, error) {
	tag, err := c.AbsorbByte(byte(id.Kind))
	if err != nil {
		return identity.Identifier{}, err
	}
	field := id.Bytes()
	if c.Mode == ddml.Unwrap {
		// The tag just read decides the payload length: 16 bytes for a
		// PSK identifier, 32 for an Ed25519 one.
		field = make([]byte, 32)
		if identity.Kind(tag) == identity.KindPsk {
			field = make([]byte, 16)
		}
	}
	payload, err := c.Absorb(field)
	if err != nil {
		return identity.Identifier{}, err
	}
	out := identity.Identifier{Kind: identity.Kind(tag)}
	switch out.Kind {
	case identity.KindPsk:
		copy(out.PskID[:], payload)
	default:
		copy(out.Ed25519[:], payload)
	}
	return out, nil
}

// absorbHDF runs the HDF codec against c, returning the header read (on
// Unwrap) or the header passed in as in (on Wrap/SizeOf), normalized so
// callers can treat the return value uniformly.
func absorbHDF(c *ddml.Context, in HDF) (HDF, error) {
	if _, err := c.AbsorbByte(Version); err != nil {
		return HDF{}, fmt.Errorf("message: hdf version: %w", err)
	}
	mt, err := c.AbsorbByte(byte(in.MessageType))
	if err != nil {
		return HDF{}, fmt.Errorf("message: hdf message_type: %w", err)
	}
	if _, err := c.AbsorbByte(frameTypeFinal); err != nil {
		return HDF{}, fmt.Errorf("message: hdf frame_type: %w", err)
	}
	if _, err := c.AbsorbVarint(1); err != nil {
		return HDF{}, fmt.Errorf("message: hdf payload_frame_count: %w", err)
	}

	publisher, err := absorbIdentifier(c, in.Publisher)
	if err != nil {
		return HDF{}, fmt.Errorf("message: hdf publisher: %w", err)
	}

	topicBytes, err := c.AbsorbBytes([]byte(in.Topic))
	if err != nil {
		return HDF{}, fmt.Errorf("message: hdf topic: %w", err)
	}

	sequence, err := c.AbsorbVarint(in.Sequence)
	if err != nil {
		return HDF{}, fmt.Errorf("message: hdf sequence: %w", err)
	}

	var linked *address.MsgID
	present := in.Linked != nil
	var buf address.MsgID
	if present {
		buf = *in.Linked
	}
	ran, err := c.Maybe(present, func(inner *ddml.Context) error {
		got, err := inner.Absorb(buf[:])
		if err != nil {
			return err
		}
		copy(buf[:], got)
		return nil
	})
	if err != nil {
		return HDF{}, fmt.Errorf("message: hdf linked_msg_address: %w", err)
	}
	if ran {
		linked = &buf
	}

	return HDF{
		MessageType: Type(mt),
		Publisher:   publisher,
		Topic:       address.Topic(topicBytes),
		Sequence:    sequence,
		Linked:      linked,
	}, nil
}
