package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/simtransport"
	"github.com/iotaledger/streams-sub000/user"
)

func TestMessagesTraversalOrdersLinkedPackets(t *testing.T) {
	transport := simtransport.New()
	author := identity.NewEd25519IdentityFromSeed([]byte("stream-author-seed"))
	authorUser := user.New(author, transport, user.Options{})

	annAddr, err := authorUser.CreateStream(context.Background(), 1)
	require.NoError(t, err)
	firstAddr, err := authorUser.SendSignedPacket(context.Background(), "", annAddr.Relative, []byte("first"), nil)
	require.NoError(t, err)
	_, err = authorUser.SendSignedPacket(context.Background(), "", firstAddr.Relative, []byte("second"), nil)
	require.NoError(t, err)

	reader := identity.NewEd25519IdentityFromSeed([]byte("stream-reader-seed"))
	readerUser := user.New(reader, transport, user.Options{})
	_, err = readerUser.ReceiveMessage(context.Background(), annAddr)
	require.NoError(t, err)

	m := New(readerUser, nil)

	got1, err := m.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got1)
	require.Equal(t, user.KindSignedPacket, got1.Kind)
	assert.Equal(t, "first", string(got1.SignedPacket.PublicPayload))

	got2, err := m.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got2)
	require.Equal(t, user.KindSignedPacket, got2.Kind)
	assert.Equal(t, "second", string(got2.SignedPacket.PublicPayload))

	got3, err := m.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got3, "no more messages")
}

func TestMessagesFilterBranchExcludesOtherTopics(t *testing.T) {
	transport := simtransport.New()
	author := identity.NewEd25519IdentityFromSeed([]byte("stream-author-seed-2"))
	authorUser := user.New(author, transport, user.Options{})

	annAddr, err := authorUser.CreateStream(context.Background(), 1)
	require.NoError(t, err)
	branchAddr, err := authorUser.NewBranch(context.Background(), "chat")
	require.NoError(t, err)
	_, err = authorUser.SendSignedPacket(context.Background(), "chat", branchAddr.Relative, []byte("chat-msg"), nil)
	require.NoError(t, err)

	reader := identity.NewEd25519IdentityFromSeed([]byte("stream-reader-seed-2"))
	readerUser := user.New(reader, transport, user.Options{})
	_, err = readerUser.ReceiveMessage(context.Background(), annAddr)
	require.NoError(t, err)
	_, err = readerUser.ReceiveMessage(context.Background(), branchAddr)
	require.NoError(t, err)

	m := New(readerUser, FilterBranch(""))
	got, err := m.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got, "filter should exclude the chat-topic signed packet")
}
