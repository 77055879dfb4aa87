package user

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/message"
	"github.com/iotaledger/streams-sub000/simtransport"
)

func TestHandleMessageOrphanOnUnknownPredecessor(t *testing.T) {
	transport := simtransport.New()
	author := identity.NewEd25519IdentityFromSeed([]byte("orphan-author-seed"))
	authorUser := New(author, transport, Options{})
	annAddr, err := authorUser.CreateStream(context.Background(), 1)
	require.NoError(t, err)
	pktAddr, err := authorUser.SendSignedPacket(context.Background(), "", annAddr.Relative, []byte("hi"), nil)
	require.NoError(t, err)

	reader := identity.NewEd25519IdentityFromSeed([]byte("orphan-reader-seed"))
	readerUser := New(reader, transport, Options{})
	// The reader never saw the announcement, so unwrapping the packet's
	// Join against an empty spongos store must report it as an orphan,
	// not a generic error.
	raw, err := transport.Recv(context.Background(), pktAddr)
	require.NoError(t, err)
	_, err = readerUser.HandleMessage(pktAddr, raw)
	var orphan *OrphanError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, annAddr.Relative, orphan.Linked)
}

func TestHandleMessageRejectsTamperedSignature(t *testing.T) {
	transport := simtransport.New()
	author := identity.NewEd25519IdentityFromSeed([]byte("tamper-author-seed"))
	authorUser := New(author, transport, Options{})
	annAddr, err := authorUser.CreateStream(context.Background(), 1)
	require.NoError(t, err)
	pktAddr, err := authorUser.SendSignedPacket(context.Background(), "", annAddr.Relative, []byte("hi"), nil)
	require.NoError(t, err)

	reader := identity.NewEd25519IdentityFromSeed([]byte("tamper-reader-seed"))
	readerUser := New(reader, transport, Options{})
	_, err = readerUser.ReceiveMessage(context.Background(), annAddr)
	require.NoError(t, err)

	raw, err := transport.Recv(context.Background(), pktAddr)
	require.NoError(t, err)
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = readerUser.HandleMessage(pktAddr, tampered)
	assert.Error(t, err, "expected HandleMessage to reject a tampered signed packet")

	// A rejected message must not advance the cursor: the legitimate
	// message at this slot has not actually been processed yet.
	// The announcement set the author's cursor to 0; it must stay there.
	cursor, _ := readerUser.idStore.Branch("").Cursor(author.Identifier())
	assert.Equal(t, uint64(0), cursor, "tampered message must not advance the publisher's cursor")
}

func TestHandleKeyloadExcludedRecipientStillAdvancesCursor(t *testing.T) {
	transport := simtransport.New()
	author := identity.NewEd25519IdentityFromSeed([]byte("exclude-author-seed"))
	authorUser := New(author, transport, Options{})
	annAddr, err := authorUser.CreateStream(context.Background(), 1)
	require.NoError(t, err)

	included := identity.NewEd25519IdentityFromSeed([]byte("exclude-included-seed"))
	excluded := identity.NewEd25519IdentityFromSeed([]byte("exclude-excluded-seed"))
	excludedUser := New(excluded, transport, Options{})
	_, err = excludedUser.ReceiveMessage(context.Background(), annAddr)
	require.NoError(t, err)

	recipients := []message.KeyloadRecipient{{
		Permission: identity.Permission{Level: identity.LevelRead, Identifier: included.Identifier()},
		X25519Pub:  included.Identifier().X25519Pub,
	}}
	klAddr, _, err := authorUser.SendKeyload(context.Background(), "", annAddr.Relative, recipients, nil)
	require.NoError(t, err)

	handled, err := excludedUser.ReceiveMessage(context.Background(), klAddr)
	require.NoError(t, err, "excluded recipient ReceiveMessage(keyload) should not error")
	assert.False(t, handled.KeyloadSessionRecovered, "excluded recipient should not recover the session key")

	cursor, ok := excludedUser.idStore.Branch("").Cursor(author.Identifier())
	require.True(t, ok, "cursor must advance even without session key recovery")
	assert.Equal(t, handled.Keyload.HDF.Sequence, cursor)
}
