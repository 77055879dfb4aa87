package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/sponge"
	"github.com/iotaledger/streams-sub000/store"
)

func TestAnnouncementWrapUnwrapRoundTrip(t *testing.T) {
	author := identity.NewEd25519IdentityFromSeed([]byte("author-seed-1"))
	store := store.NewSpongos()

	wireWrap, err := WrapAnnouncement(sponge.New(), store, author, address.BaseBranch, 0)
	require.NoError(t, err)

	ann, err := UnwrapAnnouncement(sponge.New(), store, wireWrap)
	require.NoError(t, err)
	assert.Equal(t, author.Identifier().Ed25519, ann.AuthorIdentifier.Ed25519)
}

func TestAnnouncementRejectsTamperedSignature(t *testing.T) {
	author := identity.NewEd25519IdentityFromSeed([]byte("author-seed-1"))
	store := store.NewSpongos()

	wireWrap, err := WrapAnnouncement(sponge.New(), store, author, address.BaseBranch, 0)
	require.NoError(t, err)
	tampered := append([]byte(nil), wireWrap...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = UnwrapAnnouncement(sponge.New(), store, tampered)
	assert.Error(t, err, "expected auth failure on tampered announcement")
}

func TestSignedPacketRoundTrip(t *testing.T) {
	author := identity.NewEd25519IdentityFromSeed([]byte("author-seed-1"))
	spongosStore := store.NewSpongos()

	annWireSp := sponge.New()
	_, err := WrapAnnouncement(annWireSp, spongosStore, author, address.BaseBranch, 0)
	require.NoError(t, err)
	var annID address.MsgID
	copy(annID[:], []byte("announcement"))
	spongosStore.Insert(annID, annWireSp)

	sp := sponge.New()
	wire, err := WrapSignedPacket(sp, spongosStore, author, annID, address.BaseBranch, 1, []byte("hello"), []byte("secret"))
	require.NoError(t, err)

	pkt, err := UnwrapSignedPacket(sponge.New(), spongosStore, wire)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), pkt.PublicPayload)
	assert.Equal(t, []byte("secret"), pkt.MaskedPayload)
}

func TestSignedPacketUnknownPredecessorIsOrphan(t *testing.T) {
	author := identity.NewEd25519IdentityFromSeed([]byte("author-seed-1"))
	emptyStore := store.NewSpongos()

	var linked address.MsgID
	wrapStore := store.NewSpongos()
	wrapStore.Insert(linked, sponge.New())
	wire, err := WrapSignedPacket(sponge.New(), wrapStore, author, linked, address.BaseBranch, 1, []byte("hello"), []byte("secret"))
	require.NoError(t, err)

	_, err = UnwrapSignedPacket(sponge.New(), emptyStore, wire)
	assert.Error(t, err, "expected unknown predecessor error")
}

func TestTaggedPacketRoundTrip(t *testing.T) {
	publisher := identity.NewPsk([32]byte{1, 2, 3})
	spongosStore := store.NewSpongos()

	var linked address.MsgID
	copy(linked[:], []byte("keyload-addr"))
	keyloadSponge := sponge.New()
	keyloadSponge.Absorb([]byte("shared-state"))
	spongosStore.Insert(linked, keyloadSponge)

	sp := sponge.New()
	wire, err := WrapTaggedPacket(sp, spongosStore, publisher.Identifier(), linked, address.BaseBranch, 1, []byte("pub"), []byte("masked"))
	require.NoError(t, err)

	pkt, err := UnwrapTaggedPacket(sponge.New(), spongosStore, wire)
	require.NoError(t, err)
	assert.Equal(t, []byte("masked"), pkt.MaskedPayload)
}

func TestKeyloadRecipientRecoversSessionKey(t *testing.T) {
	author := identity.NewEd25519IdentityFromSeed([]byte("author-seed-1"))
	subA := identity.NewEd25519IdentityFromSeed([]byte("sub-a-seed"))
	spongosStore := store.NewSpongos()

	var annID address.MsgID
	copy(annID[:], []byte("announcement"))
	spongosStore.Insert(annID, sponge.New())

	subAID := subA.Identifier()
	subAX25519, _ := subAID.X25519PublicKey()

	var nonce [16]byte
	var sessionKey [32]byte
	copy(sessionKey[:], []byte("a fresh 32 byte session key!!!!"))

	wire, err := WrapKeyload(sponge.New(), spongosStore, author, annID, address.BaseBranch, 1, nonce, sessionKey,
		[]KeyloadRecipient{{Permission: identity.Permission{Level: identity.LevelRead, Identifier: subAID}, X25519Pub: subAX25519}},
		nil)
	require.NoError(t, err)

	selfPriv, err := subA.X25519PrivateKey()
	require.NoError(t, err)
	_, recoveredKey, recovered, err := UnwrapKeyload(sponge.New(), spongosStore, wire, subAID, &selfPriv, nil)
	require.NoError(t, err)
	require.True(t, recovered, "expected subscriber to recover the session key")
	assert.Equal(t, sessionKey, recoveredKey)
}

func TestKeyloadExcludedRecipientStillVerifies(t *testing.T) {
	author := identity.NewEd25519IdentityFromSeed([]byte("author-seed-1"))
	subA := identity.NewEd25519IdentityFromSeed([]byte("sub-a-seed"))
	subB := identity.NewEd25519IdentityFromSeed([]byte("sub-b-seed"))
	spongosStore := store.NewSpongos()

	var annID address.MsgID
	copy(annID[:], []byte("announcement"))
	spongosStore.Insert(annID, sponge.New())

	subAID := subA.Identifier()
	subAX25519, _ := subAID.X25519PublicKey()

	var nonce [16]byte
	var sessionKey [32]byte
	copy(sessionKey[:], []byte("a fresh 32 byte session key!!!!"))

	wire, err := WrapKeyload(sponge.New(), spongosStore, author, annID, address.BaseBranch, 1, nonce, sessionKey,
		[]KeyloadRecipient{{Permission: identity.Permission{Level: identity.LevelRead, Identifier: subAID}, X25519Pub: subAX25519}},
		nil)
	require.NoError(t, err)

	subBID := subB.Identifier()
	selfPriv, err := subB.X25519PrivateKey()
	require.NoError(t, err)
	_, _, recovered, err := UnwrapKeyload(sponge.New(), spongosStore, wire, subBID, &selfPriv, nil)
	require.NoError(t, err, "UnwrapKeyload should still verify for an excluded recipient")
	assert.False(t, recovered, "excluded recipient should not recover the session key")
}

func TestKeyloadPSKRecipientRecoversSessionKey(t *testing.T) {
	author := identity.NewEd25519IdentityFromSeed([]byte("author-seed-1"))
	spongosStore := store.NewSpongos()

	var annID address.MsgID
	copy(annID[:], []byte("announcement"))
	spongosStore.Insert(annID, sponge.New())

	var psk [32]byte
	copy(psk[:], []byte("shared secret"))
	pskID := identity.PskID(psk)

	var nonce [16]byte
	var sessionKey [32]byte
	copy(sessionKey[:], []byte("a fresh 32 byte session key!!!!"))

	wire, err := WrapKeyload(sponge.New(), spongosStore, author, annID, address.BaseBranch, 1, nonce, sessionKey,
		nil, []KeyloadPSK{{PskID: pskID, Psk: psk}})
	require.NoError(t, err)

	selfPsks := map[[16]byte][32]byte{pskID: psk}
	_, recoveredKey, recovered, err := UnwrapKeyload(sponge.New(), spongosStore, wire, identity.Identifier{Kind: identity.KindPsk, PskID: pskID}, nil, selfPsks)
	require.NoError(t, err)
	require.True(t, recovered, "PSK recipient did not recover the session key")
	assert.Equal(t, sessionKey, recoveredKey)
}

func TestSubscriptionWrapUnwrapRoundTrip(t *testing.T) {
	author := identity.NewEd25519IdentityFromSeed([]byte("author-seed-1"))
	subA := identity.NewEd25519IdentityFromSeed([]byte("sub-a-seed"))
	store := store.NewSpongos()

	var annID address.MsgID
	copy(annID[:], []byte("announcement"))

	authorID := author.Identifier()
	authorX25519, _ := authorID.X25519PublicKey()

	var unsubscribeKey [32]byte
	copy(unsubscribeKey[:], []byte("the unsubscribe key material!!!"))

	wire, err := WrapSubscription(sponge.New(), store, subA, annID, authorX25519, unsubscribeKey)
	require.NoError(t, err)

	authorPriv, err := author.X25519PrivateKey()
	require.NoError(t, err)
	sub, err := UnwrapSubscription(sponge.New(), store, wire, authorPriv)
	require.NoError(t, err)
	assert.Equal(t, unsubscribeKey, sub.UnsubscribeKey)
	assert.Equal(t, subA.Identifier().Ed25519, sub.SubscriberIdentifier.Ed25519)
}

func TestUnsubscriptionRoundTrip(t *testing.T) {
	subA := identity.NewEd25519IdentityFromSeed([]byte("sub-a-seed"))
	spongosStore := store.NewSpongos()

	var linked address.MsgID
	copy(linked[:], []byte("some-predecessor"))
	spongosStore.Insert(linked, sponge.New())

	wire, err := WrapUnsubscription(spongosStore, subA, address.BaseBranch, 5, linked)
	require.NoError(t, err)

	unsub, err := UnwrapUnsubscription(spongosStore, wire)
	require.NoError(t, err)
	assert.Equal(t, subA.Identifier().Ed25519, unsub.SubscriberIdentifier.Ed25519)
}
