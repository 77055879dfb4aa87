package message

import (
	"crypto/ed25519"
	"fmt"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/ddml"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/sponge"
)

// Subscription registers a subscriber's encryption key with the
// author and proves consent to future unsubscription via a shared
// unsubscribe key. It is never inserted into the spongos store, so the
// canonical stream view never depends on which subscriptions a given
// reader observed.
type Subscription struct {
	HDF                 HDF
	UnsubscribeKey      [32]byte
	SubscriberIdentifier identity.Identifier
	SubscriberX25519Pub [32]byte
	Signature           [64]byte
}

func (s *Subscription) codec(c *ddml.Context, subscriber *identity.Identity, authorX25519Pub [32]byte, subscriberX25519Priv [32]byte) error {
	hdf, err := absorbHDF(c, s.HDF)
	if err != nil {
		return err
	}
	s.HDF = hdf

	switch c.Mode {
	case ddml.Wrap:
		if _, err := c.X25519WrapKey(authorX25519Pub, s.UnsubscribeKey[:]); err != nil {
			return fmt.Errorf("message: subscription unsubscribe key: %w", err)
		}
	case ddml.Unwrap:
		key, err := c.X25519UnwrapKey(subscriberX25519Priv, 32)
		if err != nil {
			return fmt.Errorf("message: subscription unsubscribe key: %w", err)
		}
		copy(s.UnsubscribeKey[:], key)
	default:
		if _, err := c.X25519WrapKey(authorX25519Pub, s.UnsubscribeKey[:]); err != nil {
			return err
		}
	}

	idTag, err := c.Mask([]byte{byte(s.SubscriberIdentifier.Kind)})
	if err != nil {
		return fmt.Errorf("message: subscription identifier tag: %w", err)
	}
	idPayload, err := c.Mask(s.SubscriberIdentifier.Bytes())
	if err != nil {
		return fmt.Errorf("message: subscription identifier payload: %w", err)
	}
	if c.Mode == ddml.Unwrap {
		s.SubscriberIdentifier = identity.Identifier{Kind: identity.Kind(idTag[0])}
		switch s.SubscriberIdentifier.Kind {
		case identity.KindPsk:
			copy(s.SubscriberIdentifier.PskID[:], idPayload)
		default:
			copy(s.SubscriberIdentifier.Ed25519[:], idPayload)
		}
	}

	xpub, err := c.Mask(s.SubscriberX25519Pub[:])
	if err != nil {
		return fmt.Errorf("message: subscription x25519 key: %w", err)
	}
	if c.Mode == ddml.Unwrap {
		copy(s.SubscriberX25519Pub[:], xpub)
		s.SubscriberIdentifier.X25519Pub = s.SubscriberX25519Pub
	}

	c.Commit()
	hash := c.Spongos.Squeeze(64)

	switch c.Mode {
	case ddml.Wrap:
		sig, err := subscriber.Sign(hash)
		if err != nil {
			return fmt.Errorf("message: subscription sign: %w", err)
		}
		got, err := c.Absorb(sig)
		if err != nil {
			return err
		}
		copy(s.Signature[:], got)
	case ddml.Unwrap:
		got, err := c.Absorb(make([]byte, ed25519.SignatureSize))
		if err != nil {
			return err
		}
		copy(s.Signature[:], got)
		if !ed25519.Verify(s.SubscriberIdentifier.Ed25519[:], hash, s.Signature[:]) {
			return ddml.ErrAuthFailure
		}
	default:
		if _, err := c.Absorb(make([]byte, ed25519.SignatureSize)); err != nil {
			return err
		}
	}
	return nil
}

// WrapSubscription encodes a subscription linking announcement, driven
// by a fresh sponge (subscriptions are not chained through Join; they
// establish a fresh sponge over the announcement's address instead, per
// the author/subscriber shared-anchor rule).
func WrapSubscription(sp *sponge.Spongos, store ddml.SpongosStore, subscriber *identity.Identity, announcement address.MsgID, authorX25519Pub [32]byte, unsubscribeKey [32]byte) ([]byte, error) {
	id := subscriber.Identifier()
	xpub, err := id.X25519PublicKey()
	if err != nil {
		return nil, fmt.Errorf("message: wrap subscription: %w", err)
	}
	c := ddml.NewWrap(sp, store)
	s := &Subscription{
		HDF:                 HDF{MessageType: TypeSubscription, Publisher: id, Linked: &announcement},
		UnsubscribeKey:      unsubscribeKey,
		SubscriberIdentifier: id,
		SubscriberX25519Pub: xpub,
	}
	if err := s.codec(c, subscriber, authorX25519Pub, [32]byte{}); err != nil {
		return nil, fmt.Errorf("message: wrap subscription: %w", err)
	}
	return c.Bytes(), nil
}

// UnwrapSubscription decodes and verifies a subscription, recovering
// the unsubscribe key under the author's own X25519 secret.
func UnwrapSubscription(sp *sponge.Spongos, store ddml.SpongosStore, data []byte, authorX25519Priv [32]byte) (*Subscription, error) {
	c := ddml.NewUnwrap(sp, data, store)
	s := &Subscription{}
	if err := s.codec(c, nil, [32]byte{}, authorX25519Priv); err != nil {
		return nil, fmt.Errorf("message: unwrap subscription: %w", err)
	}
	return s, nil
}
