package message

import (
	"crypto/ed25519"
	"fmt"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/ddml"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/sponge"
)

// Unsubscription removes a subscriber from every per-topic store. Its
// Join onto the linked message discloses possession of that message's
// sponge state, proving the subscriber once had read access.
type Unsubscription struct {
	HDF                  HDF
	SubscriberIdentifier identity.Identifier
	Signature            [64]byte
}

func (u *Unsubscription) codec(c *ddml.Context, subscriber *identity.Identity) error {
	hdf, err := absorbHDF(c, u.HDF)
	if err != nil {
		return err
	}
	u.HDF = hdf
	if hdf.Linked == nil {
		return fmt.Errorf("message: unsubscription requires a linked message")
	}
	if _, err := c.Join(hdf.Linked[:]); err != nil {
		return err
	}

	idTag, err := c.Mask([]byte{byte(u.SubscriberIdentifier.Kind)})
	if err != nil {
		return fmt.Errorf("message: unsubscription identifier tag: %w", err)
	}
	idPayload, err := c.Mask(u.SubscriberIdentifier.Bytes())
	if err != nil {
		return fmt.Errorf("message: unsubscription identifier payload: %w", err)
	}
	if c.Mode == ddml.Unwrap {
		u.SubscriberIdentifier = identity.Identifier{Kind: identity.Kind(idTag[0])}
		switch u.SubscriberIdentifier.Kind {
		case identity.KindPsk:
			copy(u.SubscriberIdentifier.PskID[:], idPayload)
		default:
			copy(u.SubscriberIdentifier.Ed25519[:], idPayload)
		}
	}

	c.Commit()
	hash := c.Spongos.Squeeze(64)

	switch c.Mode {
	case ddml.Wrap:
		sig, err := subscriber.Sign(hash)
		if err != nil {
			return fmt.Errorf("message: unsubscription sign: %w", err)
		}
		got, err := c.Absorb(sig)
		if err != nil {
			return err
		}
		copy(u.Signature[:], got)
	case ddml.Unwrap:
		got, err := c.Absorb(make([]byte, ed25519.SignatureSize))
		if err != nil {
			return err
		}
		copy(u.Signature[:], got)
		if !ed25519.Verify(u.SubscriberIdentifier.Ed25519[:], hash, u.Signature[:]) {
			return ddml.ErrAuthFailure
		}
	default:
		if _, err := c.Absorb(make([]byte, ed25519.SignatureSize)); err != nil {
			return err
		}
	}
	return nil
}

// WrapUnsubscription encodes, joins, and signs an unsubscription linked
// to linked, at the given topic and cursor (next_cursor per the
// subscriber's own sequence on that topic).
func WrapUnsubscription(store ddml.SpongosStore, subscriber *identity.Identity, topic address.Topic, sequence uint64, linked address.MsgID) ([]byte, error) {
	id := subscriber.Identifier()
	c := ddml.NewWrap(sponge.New(), store)
	u := &Unsubscription{HDF: HDF{MessageType: TypeUnsubscription, Publisher: id, Topic: topic, Sequence: sequence, Linked: &linked}, SubscriberIdentifier: id}
	if err := u.codec(c, subscriber); err != nil {
		return nil, fmt.Errorf("message: wrap unsubscription: %w", err)
	}
	return c.Bytes(), nil
}

// UnwrapUnsubscription decodes and verifies an unsubscription. It
// returns ddml.ErrUnknownPredecessor if the linked message's sponge
// state is not yet known (an orphan).
func UnwrapUnsubscription(store ddml.SpongosStore, data []byte) (*Unsubscription, error) {
	c := ddml.NewUnwrap(sponge.New(), data, store)
	u := &Unsubscription{}
	if err := u.codec(c, nil); err != nil {
		return nil, err
	}
	return u, nil
}
