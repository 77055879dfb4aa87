package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/ddml"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/message"
	"github.com/iotaledger/streams-sub000/sponge"
	"github.com/iotaledger/streams-sub000/store"
)

// Kind tags which variant of Handled is populated.
type Kind int

const (
	KindAnnouncement Kind = iota
	KindSubscription
	KindUnsubscription
	KindKeyload
	KindSignedPacket
	KindTaggedPacket
)

// Handled is the result of a successfully decoded and verified message,
// tagged by Kind with exactly one of the pointer fields populated.
type Handled struct {
	Kind    Kind
	Address address.Address

	Announcement   *message.Announcement
	Subscription   *message.Subscription
	Unsubscription *message.Unsubscription
	Keyload        *message.Keyload
	SignedPacket   *message.SignedPacket
	TaggedPacket   *message.TaggedPacket

	// KeyloadSessionRecovered reports whether this user recovered the
	// keyload's session key. False is not an error — see spec §4.5's
	// store-update rule — but descendants linked to
	// this keyload will fail to decrypt for this user.
	KeyloadSessionRecovered bool
}

// OrphanError is returned by HandleMessage when the message's linked
// predecessor has not yet been observed. Linked names the predecessor
// so a caller (typically package stream) can re-queue Raw and replay it
// once that predecessor arrives.
type OrphanError struct {
	Linked address.MsgID
	Raw    []byte
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("user: orphan message linked to %s", e.Linked)
}

func (e *OrphanError) Unwrap() error { return ErrOrphan }

// ReceiveMessage fetches the message stored at addr and hands it to
// HandleMessage.
func (u *User) ReceiveMessage(ctx context.Context, addr address.Address) (*Handled, error) {
	raw, err := u.transport.Recv(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("receive_message: %w", err)
	}
	return u.HandleMessage(addr, raw)
}

// HandleMessage decodes raw (stored at addr) and dispatches on its
// message_type. The publisher's cursor is advanced to header.sequence
// only after the message unwraps and verifies; an orphan or a message
// whose signature or MAC fails leaves the cursor unchanged. A keyload
// still verifies when this user cannot recover its session key, so an
// excluded recipient advances past it rather than re-fetching forever.
func (u *User) HandleMessage(addr address.Address, raw []byte) (*Handled, error) {
	log := u.log.WithFields(logrus.Fields{"function": "HandleMessage", "address": addr.String()})

	typ, err := message.PeekType(raw)
	if err != nil {
		return nil, fmt.Errorf("handle_message: %w", err)
	}

	switch typ {
	case message.TypeAnnouncement:
		return u.handleAnnouncement(addr, raw, log)
	case message.TypeSubscription:
		return u.handleSubscription(addr, raw, log)
	case message.TypeUnsubscription:
		return u.handleUnsubscription(addr, raw, log)
	case message.TypeKeyload:
		return u.handleKeyload(addr, raw, log)
	case message.TypeSignedPacket:
		return u.handleSignedPacket(addr, raw, log)
	case message.TypeTaggedPacket:
		return u.handleTaggedPacket(addr, raw, log)
	default:
		return nil, fmt.Errorf("handle_message: unknown message_type %d", typ)
	}
}

func (u *User) asOrphan(err error, raw []byte) error {
	if !errors.Is(err, ddml.ErrUnknownPredecessor) {
		return err
	}
	linked, peekErr := message.PeekLinked(raw)
	if peekErr != nil || linked == nil {
		return err
	}
	return &OrphanError{Linked: *linked, Raw: raw}
}

func (u *User) handleAnnouncement(addr address.Address, raw []byte, log *logrus.Entry) (*Handled, error) {
	sp := sponge.New()
	ann, err := message.UnwrapAnnouncement(sp, u.spongosStore, raw)
	if err != nil {
		return nil, fmt.Errorf("handle_message: announcement: %w", err)
	}
	u.spongosStore.Insert(addr.Relative, sp)

	branch := u.idStore.Branch(ann.HDF.Topic)
	branch.SetCursor(ann.AuthorIdentifier, ann.HDF.Sequence)
	branch.SetKey(ann.AuthorIdentifier, store.Key{X25519Pub: ann.AuthorX25519Pub})

	if u.streamAddress == nil {
		u.streamAddress = &addr
		u.authorIdentifier = &ann.AuthorIdentifier
	}
	log.Info("handled announcement")
	return &Handled{Kind: KindAnnouncement, Address: addr, Announcement: ann}, nil
}

func (u *User) handleSubscription(addr address.Address, raw []byte, log *logrus.Entry) (*Handled, error) {
	priv, err := u.identity.X25519PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("handle_message: subscription: %w", err)
	}
	sub, err := message.UnwrapSubscription(sponge.New(), u.spongosStore, raw, priv)
	if err != nil {
		return nil, fmt.Errorf("handle_message: subscription: %w", err)
	}
	u.idStore.Branch(address.BaseBranch).SetCursor(sub.SubscriberIdentifier, cursorSubscription)
	u.idStore.Branch(address.BaseBranch).SetKey(sub.SubscriberIdentifier, store.Key{X25519Pub: sub.SubscriberX25519Pub})
	log.Info("handled subscription")
	return &Handled{Kind: KindSubscription, Address: addr, Subscription: sub}, nil
}

func (u *User) handleUnsubscription(addr address.Address, raw []byte, log *logrus.Entry) (*Handled, error) {
	unsub, err := message.UnwrapUnsubscription(u.spongosStore, raw)
	if err != nil {
		return nil, u.asOrphan(err, raw)
	}
	for _, topic := range u.idStore.Topics() {
		u.idStore.Branch(topic).RemoveIdentifier(unsub.SubscriberIdentifier)
	}
	log.Info("handled unsubscription")
	return &Handled{Kind: KindUnsubscription, Address: addr, Unsubscription: unsub}, nil
}

func (u *User) handleKeyload(addr address.Address, raw []byte, log *logrus.Entry) (*Handled, error) {
	selfID := u.identity.Identifier()
	var selfPriv *[32]byte
	if selfID.Kind != identity.KindPsk {
		priv, err := u.identity.X25519PrivateKey()
		if err != nil {
			return nil, fmt.Errorf("handle_message: keyload: %w", err)
		}
		selfPriv = &priv
	}

	sp := sponge.New()
	kl, _, recovered, err := message.UnwrapKeyload(sp, u.spongosStore, raw, selfID, selfPriv, u.psks)
	if err != nil {
		return nil, u.asOrphan(err, raw)
	}
	u.spongosStore.Insert(addr.Relative, sp)

	branch := u.idStore.Branch(kl.HDF.Topic)
	branch.SetCursor(kl.HDF.Publisher, kl.HDF.Sequence)
	for _, perm := range kl.Permissions {
		branch.SetPermission(perm.Identifier, perm)
	}

	log.WithField("recovered", recovered).Info("handled keyload")
	return &Handled{Kind: KindKeyload, Address: addr, Keyload: kl, KeyloadSessionRecovered: recovered}, nil
}

func (u *User) handleSignedPacket(addr address.Address, raw []byte, log *logrus.Entry) (*Handled, error) {
	sp := sponge.New()
	pkt, err := message.UnwrapSignedPacket(sp, u.spongosStore, raw)
	if err != nil {
		return nil, u.asOrphan(err, raw)
	}
	branch := u.idStore.Branch(pkt.HDF.Topic)
	if cur, ok := branch.Cursor(pkt.HDF.Publisher); ok && pkt.HDF.Sequence <= cur {
		return nil, fmt.Errorf("handle_message: signed packet: sequence %d is not after stored cursor %d", pkt.HDF.Sequence, cur)
	}
	u.spongosStore.Insert(addr.Relative, sp)
	branch.SetCursor(pkt.HDF.Publisher, pkt.HDF.Sequence)
	log.Info("handled signed packet")
	return &Handled{Kind: KindSignedPacket, Address: addr, SignedPacket: pkt}, nil
}

func (u *User) handleTaggedPacket(addr address.Address, raw []byte, log *logrus.Entry) (*Handled, error) {
	sp := sponge.New()
	pkt, err := message.UnwrapTaggedPacket(sp, u.spongosStore, raw)
	if err != nil {
		return nil, u.asOrphan(err, raw)
	}
	u.spongosStore.Insert(addr.Relative, sp)
	u.idStore.Branch(pkt.HDF.Topic).SetCursor(pkt.HDF.Publisher, pkt.HDF.Sequence)
	log.Info("handled tagged packet")
	return &Handled{Kind: KindTaggedPacket, Address: addr, TaggedPacket: pkt}, nil
}

// Sync walks every known publisher's next address on every known topic
// and applies any message found, returning the number successfully
// applied. It is the non-streaming counterpart to package stream's
// Messages — a single best-effort catch-up pass rather than an
// unbounded iterator.
func (u *User) Sync(ctx context.Context) (int, error) {
	if u.streamAddress == nil {
		return 0, nil
	}
	applied := 0
	for _, topic := range u.idStore.Topics() {
		branch := u.idStore.Branch(topic)
		for _, ic := range branch.Cursors() {
			for {
				next := ic.Cursor + 1
				addr := u.deriveAddress(topic, ic.Identifier, next)
				raw, err := u.transport.Recv(ctx, addr)
				if err != nil {
					break
				}
				if _, err := u.HandleMessage(addr, raw); err != nil {
					var orphan *OrphanError
					if errors.As(err, &orphan) {
						break
					}
					u.log.WithError(err).Warn("sync: dropping unreadable message")
					break
				}
				applied++
				ic.Cursor = next
			}
		}
	}
	return applied, nil
}
