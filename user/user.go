// Package user implements the per-participant session core: cursors,
// key store, spongos store, and the precondition-checked send/receive
// operations that drive the message codecs over a transport.
package user

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/limits"
	"github.com/iotaledger/streams-sub000/message"
	"github.com/iotaledger/streams-sub000/sponge"
	"github.com/iotaledger/streams-sub000/store"
	"github.com/iotaledger/streams-sub000/transport"
)

// cursorInit is the reserved cursor value for the first message a
// newly authorized publisher sends on a branch.
const cursorInit = 1

// cursorAnnouncement and cursorSubscription are the reserved cursor
// values for, respectively, an announcement and a subscription.
const (
	cursorAnnouncement = 0
	cursorSubscription = 0
)

// User is a stream participant's session state: identity, transport,
// and the spongos/id stores the protocol core mutates on successful
// send/receive. Not safe for concurrent use from multiple goroutines —
// operations are strictly sequential per §5 of the concurrency model.
type User struct {
	identity *identity.Identity
	opts     Options
	transport transport.Transport

	streamAddress    *address.Address
	authorIdentifier *identity.Identifier
	streamIndex      uint64

	idStore      *store.BranchStore
	spongosStore *store.Spongos
	psks         map[[16]byte][32]byte

	log *logrus.Entry
}

// New builds a fresh, unattached User for id, talking to t. A PSK
// identity's own secret is registered as one of the user's pre-shared
// keys, so it can unwrap keyload entries addressed to that PSK.
func New(id *identity.Identity, t transport.Transport, opts Options) *User {
	opts = opts.withDefaults()
	u := &User{
		identity:     id,
		opts:         opts,
		transport:    t,
		idStore:      store.NewBranchStore(),
		spongosStore: store.NewSpongos(),
		psks:         make(map[[16]byte][32]byte),
		log:          opts.Logger.WithField("package", "user"),
	}
	if id.Kind == identity.KindPsk {
		u.psks[id.Identifier().PskID] = id.Psk
	}
	return u
}

// Rehydrate reconstructs a User from components recovered by package
// backup's Restore. Not part of the normal construction path — New
// builds every other User.
func Rehydrate(id *identity.Identity, t transport.Transport, opts Options, streamAddress *address.Address, authorIdentifier *identity.Identifier, idStore *store.BranchStore, spongosStore *store.Spongos, psks map[[16]byte][32]byte) *User {
	u := New(id, t, opts)
	u.streamAddress = streamAddress
	u.authorIdentifier = authorIdentifier
	u.idStore = idStore
	u.spongosStore = spongosStore
	u.psks = psks
	return u
}

// Identifier returns this user's public identifier.
func (u *User) Identifier() identity.Identifier {
	return u.identity.Identifier()
}

// Identity returns this user's full identity, including private key
// material. Used by package backup; never serialized in cleartext.
func (u *User) Identity() *identity.Identity {
	return u.identity
}

// AuthorIdentifier returns the identifier of the stream's author, if
// known (set on CreateStream or on handling the base announcement).
func (u *User) AuthorIdentifier() (identity.Identifier, bool) {
	if u.authorIdentifier == nil {
		return identity.Identifier{}, false
	}
	return *u.authorIdentifier, true
}

// Options returns the options this user was constructed with.
func (u *User) Options() Options { return u.opts }

// StreamAddress returns the stream's base address, if one has been
// created or received.
func (u *User) StreamAddress() (address.Address, bool) {
	if u.streamAddress == nil {
		return address.Address{}, false
	}
	return *u.streamAddress, true
}

func (u *User) cursorFor(topic address.Topic, id identity.Identifier) uint64 {
	cur, ok := u.idStore.Branch(topic).Cursor(id)
	if !ok {
		return cursorInit
	}
	return cur + 1
}

func (u *User) deriveAddress(topic address.Topic, id identity.Identifier, cursor uint64) address.Address {
	rel := address.DeriveRelative(u.streamAddress.Base, id, topic, cursor)
	return address.Address{Base: u.streamAddress.Base, Relative: rel}
}

// CreateStream creates a brand-new stream anchored at this user's
// identity, announces it, and sends the announcement. Precondition:
// stream_address must not already be set.
func (u *User) CreateStream(ctx context.Context, streamIndex uint64) (address.Address, error) {
	u.log.WithField("function", "CreateStream").Debug("creating stream")
	if u.streamAddress != nil {
		return address.Address{}, fmt.Errorf("create_stream: %w: stream already created", ErrPrecondition)
	}

	id := u.identity.Identifier()
	base := address.NewAppAddr(id, streamIndex)
	rel := address.DeriveRelative(base, id, address.BaseBranch, cursorAnnouncement)
	addr := address.Address{Base: base, Relative: rel}

	sp := sponge.New()
	wire, err := message.WrapAnnouncement(sp, u.spongosStore, u.identity, address.BaseBranch, cursorAnnouncement)
	if err != nil {
		return address.Address{}, fmt.Errorf("create_stream: %w", err)
	}
	if err := u.transport.Send(ctx, addr, wire); err != nil {
		return address.Address{}, fmt.Errorf("create_stream: %w", err)
	}

	u.spongosStore.Insert(addr.Relative, sp)
	u.streamAddress = &addr
	u.streamIndex = streamIndex
	u.authorIdentifier = &id
	u.idStore.Branch(address.BaseBranch).SetCursor(id, cursorAnnouncement)

	u.log.WithFields(logrus.Fields{"function": "CreateStream", "address": addr.String()}).Info("stream created")
	return addr, nil
}

// NewBranch creates a sub-branch announcement on topic. Precondition:
// stream must exist, caller must be the stream's author, and topic
// must not already be present.
func (u *User) NewBranch(ctx context.Context, topic address.Topic) (address.Address, error) {
	if u.streamAddress == nil || u.authorIdentifier == nil {
		return address.Address{}, fmt.Errorf("new_branch: %w: stream not created", ErrPrecondition)
	}
	id := u.identity.Identifier()
	if id.Ed25519 != u.authorIdentifier.Ed25519 {
		return address.Address{}, fmt.Errorf("new_branch: %w: only the stream author may branch", ErrPrecondition)
	}
	if u.idStore.HasBranch(topic) {
		return address.Address{}, fmt.Errorf("new_branch: %w: topic already present", ErrPrecondition)
	}
	if err := limits.ValidateTopic([]byte(topic)); err != nil {
		return address.Address{}, fmt.Errorf("new_branch: %w", err)
	}

	rel := address.DeriveRelative(u.streamAddress.Base, id, topic, cursorAnnouncement)
	addr := address.Address{Base: u.streamAddress.Base, Relative: rel}

	sp := sponge.New()
	wire, err := message.WrapAnnouncement(sp, u.spongosStore, u.identity, topic, cursorAnnouncement)
	if err != nil {
		return address.Address{}, fmt.Errorf("new_branch: %w", err)
	}
	if err := u.transport.Send(ctx, addr, wire); err != nil {
		return address.Address{}, fmt.Errorf("new_branch: %w", err)
	}

	u.spongosStore.Insert(addr.Relative, sp)
	u.idStore.Branch(topic).SetCursor(id, cursorAnnouncement)
	return addr, nil
}

// Subscribe sends a subscription message linked to the announcement at
// announcementAddr. Precondition: stream_address must be set (from a
// received announcement) and this identity must have an X25519 secret.
func (u *User) Subscribe(ctx context.Context, announcementAddr address.Address) (address.Address, error) {
	if u.streamAddress == nil {
		return address.Address{}, fmt.Errorf("subscribe: %w: no stream known", ErrPrecondition)
	}
	authorID := *u.authorIdentifier
	authorKey, ok := u.idStore.Branch(address.BaseBranch).Key(authorID)
	if !ok {
		return address.Address{}, fmt.Errorf("subscribe: %w: author key unknown", ErrPrecondition)
	}

	id := u.identity.Identifier()
	rel := address.DeriveRelative(u.streamAddress.Base, id, address.BaseBranch, cursorSubscription)
	addr := address.Address{Base: u.streamAddress.Base, Relative: rel}

	var unsubKey [32]byte
	if _, err := rand.Read(unsubKey[:]); err != nil {
		return address.Address{}, fmt.Errorf("subscribe: generate unsubscribe key: %w", err)
	}

	wire, err := message.WrapSubscription(sponge.New(), u.spongosStore, u.identity, announcementAddr.Relative, authorKey.X25519Pub, unsubKey)
	if err != nil {
		return address.Address{}, fmt.Errorf("subscribe: %w", err)
	}
	if err := u.transport.Send(ctx, addr, wire); err != nil {
		return address.Address{}, fmt.Errorf("subscribe: %w", err)
	}
	return addr, nil
}

// SendKeyload sends a keyload on topic linked to linked, granting the
// listed recipients and psks the session key. Precondition: stream
// created, caller is author.
func (u *User) SendKeyload(ctx context.Context, topic address.Topic, linked address.MsgID, recipients []message.KeyloadRecipient, psks []message.KeyloadPSK) (address.Address, [32]byte, error) {
	if u.streamAddress == nil || u.authorIdentifier == nil {
		return address.Address{}, [32]byte{}, fmt.Errorf("send_keyload: %w: stream not created", ErrPrecondition)
	}
	id := u.identity.Identifier()
	if id.Ed25519 != u.authorIdentifier.Ed25519 {
		return address.Address{}, [32]byte{}, fmt.Errorf("send_keyload: %w: only the author may keyload", ErrPrecondition)
	}
	if err := limits.ValidatePermissionListLength(len(recipients) + len(psks)); err != nil {
		return address.Address{}, [32]byte{}, fmt.Errorf("send_keyload: %w", err)
	}

	sequence := u.cursorFor(topic, id)
	addr := u.deriveAddress(topic, id, sequence)

	var nonce [16]byte
	var sessionKey [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return address.Address{}, [32]byte{}, fmt.Errorf("send_keyload: generate nonce: %w", err)
	}
	if _, err := rand.Read(sessionKey[:]); err != nil {
		return address.Address{}, [32]byte{}, fmt.Errorf("send_keyload: generate session key: %w", err)
	}

	sp := sponge.New()
	wire, err := message.WrapKeyload(sp, u.spongosStore, u.identity, linked, topic, sequence, nonce, sessionKey, recipients, psks)
	if err != nil {
		return address.Address{}, [32]byte{}, fmt.Errorf("send_keyload: %w", err)
	}
	if err := u.transport.Send(ctx, addr, wire); err != nil {
		return address.Address{}, [32]byte{}, fmt.Errorf("send_keyload: %w", err)
	}

	u.spongosStore.Insert(addr.Relative, sp)
	branch := u.idStore.Branch(topic)
	branch.SetCursor(id, sequence)
	for _, r := range recipients {
		branch.SetKey(r.Permission.Identifier, store.Key{X25519Pub: r.X25519Pub})
		branch.SetPermission(r.Permission.Identifier, r.Permission)
	}
	for _, p := range psks {
		u.psks[p.PskID] = p.Psk
	}
	return addr, sessionKey, nil
}

// SendSignedPacket sends a signed packet on topic linked to linked.
// Precondition: caller has write permission on topic and an Ed25519
// secret.
func (u *User) SendSignedPacket(ctx context.Context, topic address.Topic, linked address.MsgID, publicPayload, maskedPayload []byte) (address.Address, error) {
	if err := limits.ValidatePublicPayload(publicPayload); err != nil {
		return address.Address{}, fmt.Errorf("send_signed_packet: %w", err)
	}
	if err := limits.ValidateMaskedPayload(maskedPayload); err != nil {
		return address.Address{}, fmt.Errorf("send_signed_packet: %w", err)
	}
	id := u.identity.Identifier()
	if err := u.checkWritePermission(topic, id); err != nil {
		return address.Address{}, fmt.Errorf("send_signed_packet: %w", err)
	}

	sequence := u.cursorFor(topic, id)
	addr := u.deriveAddress(topic, id, sequence)

	sp := sponge.New()
	wire, err := message.WrapSignedPacket(sp, u.spongosStore, u.identity, linked, topic, sequence, publicPayload, maskedPayload)
	if err != nil {
		return address.Address{}, fmt.Errorf("send_signed_packet: %w", err)
	}
	if err := u.transport.Send(ctx, addr, wire); err != nil {
		return address.Address{}, fmt.Errorf("send_signed_packet: %w", err)
	}

	u.spongosStore.Insert(addr.Relative, sp)
	u.idStore.Branch(topic).SetCursor(id, sequence)
	return addr, nil
}

// SendTaggedPacket sends a tagged packet on topic linked to linked.
// Precondition: caller has write permission on topic (PSK holders may
// author tagged packets, since no signature is required).
func (u *User) SendTaggedPacket(ctx context.Context, topic address.Topic, linked address.MsgID, publicPayload, maskedPayload []byte) (address.Address, error) {
	if err := limits.ValidatePublicPayload(publicPayload); err != nil {
		return address.Address{}, fmt.Errorf("send_tagged_packet: %w", err)
	}
	if err := limits.ValidateMaskedPayload(maskedPayload); err != nil {
		return address.Address{}, fmt.Errorf("send_tagged_packet: %w", err)
	}
	id := u.identity.Identifier()
	if err := u.checkWritePermission(topic, id); err != nil {
		return address.Address{}, fmt.Errorf("send_tagged_packet: %w", err)
	}

	sequence := u.cursorFor(topic, id)
	addr := u.deriveAddress(topic, id, sequence)

	sp := sponge.New()
	wire, err := message.WrapTaggedPacket(sp, u.spongosStore, id, linked, topic, sequence, publicPayload, maskedPayload)
	if err != nil {
		return address.Address{}, fmt.Errorf("send_tagged_packet: %w", err)
	}
	if err := u.transport.Send(ctx, addr, wire); err != nil {
		return address.Address{}, fmt.Errorf("send_tagged_packet: %w", err)
	}

	u.spongosStore.Insert(addr.Relative, sp)
	u.idStore.Branch(topic).SetCursor(id, sequence)
	return addr, nil
}

// checkWritePermission enforces the branch permission table, including
// ReadWrite duration expiry via the injected TimeProvider, and the rule
// that the stream author always implicitly holds write/admin rights on
// every branch it created.
func (u *User) checkWritePermission(topic address.Topic, id identity.Identifier) error {
	if u.authorIdentifier != nil && id.Ed25519 == u.authorIdentifier.Ed25519 {
		return nil
	}
	perm, ok := u.idStore.Branch(topic).Permission(id)
	if !ok || !perm.CanWrite(u.opts.Time.Now()) {
		return ErrPermissionDenied
	}
	return nil
}

// Unsubscribe sends an unsubscription linked to linked, revoking this
// user's standing subscription on the base branch.
func (u *User) Unsubscribe(ctx context.Context, linked address.MsgID) (address.Address, error) {
	if u.streamAddress == nil {
		return address.Address{}, fmt.Errorf("unsubscribe: %w: no stream known", ErrPrecondition)
	}
	id := u.identity.Identifier()
	sequence := u.cursorFor(address.BaseBranch, id)
	addr := u.deriveAddress(address.BaseBranch, id, sequence)

	wire, err := message.WrapUnsubscription(u.spongosStore, u.identity, address.BaseBranch, sequence, linked)
	if err != nil {
		return address.Address{}, fmt.Errorf("unsubscribe: %w", err)
	}
	if err := u.transport.Send(ctx, addr, wire); err != nil {
		return address.Address{}, fmt.Errorf("unsubscribe: %w", err)
	}
	u.idStore.Branch(address.BaseBranch).SetCursor(id, sequence)
	return addr, nil
}

// AddSubscriber registers a subscriber's encryption key on topic, so a
// future SendKeyload on that topic can name them as a recipient. This
// is local bookkeeping only — it sends no message — typically called
// after HandleMessage returns a Subscription.
func (u *User) AddSubscriber(topic address.Topic, id identity.Identifier, x25519Pub [32]byte) {
	u.idStore.Branch(topic).SetKey(id, store.Key{X25519Pub: x25519Pub})
}

// RemoveSubscriber removes id from every directory on topic: its key,
// permission, and cursor. Local bookkeeping only; excluding id from the
// next keyload is what actually revokes its access.
func (u *User) RemoveSubscriber(topic address.Topic, id identity.Identifier) {
	u.idStore.Branch(topic).RemoveIdentifier(id)
}

// AddPsk registers a pre-shared key this user can use to unwrap keyload
// entries addressed to it.
func (u *User) AddPsk(secret [32]byte) identity.Identifier {
	id := identity.NewPsk(secret).Identifier()
	u.psks[id.PskID] = secret
	return id
}

// RemovePsk forgets a previously registered pre-shared key.
func (u *User) RemovePsk(pskID [16]byte) {
	delete(u.psks, pskID)
}

// NextAddress derives the address a publisher identified by id would
// use for cursor on topic, for package stream's traversal.
func (u *User) NextAddress(topic address.Topic, id identity.Identifier, cursor uint64) (address.Address, error) {
	if u.streamAddress == nil {
		return address.Address{}, fmt.Errorf("next_address: %w: no stream known", ErrPrecondition)
	}
	return u.deriveAddress(topic, id, cursor), nil
}

// Transport exposes the underlying transport, used by package stream.
func (u *User) Transport() transport.Transport { return u.transport }

// SpongosStore exposes the spongos store, used by package stream and
// package backup.
func (u *User) SpongosStore() *store.Spongos { return u.spongosStore }

// IDStore exposes the per-topic id/cursor/key store, used by package
// stream and package backup.
func (u *User) IDStore() *store.BranchStore { return u.idStore }

// Psks exposes the registered pre-shared keys, used by package backup.
func (u *User) Psks() map[[16]byte][32]byte { return u.psks }
