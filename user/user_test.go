package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/message"
	"github.com/iotaledger/streams-sub000/simtransport"
)

func TestCreateStreamRejectsDoubleCreate(t *testing.T) {
	author := identity.NewEd25519IdentityFromSeed([]byte("double-create-seed"))
	u := New(author, simtransport.New(), Options{})

	_, err := u.CreateStream(context.Background(), 1)
	require.NoError(t, err)
	_, err = u.CreateStream(context.Background(), 2)
	assert.Error(t, err)
}

func TestSendSignedPacketRequiresWritePermission(t *testing.T) {
	transport := simtransport.New()
	author := identity.NewEd25519IdentityFromSeed([]byte("perm-author-seed"))
	authorUser := New(author, transport, Options{})
	annAddr, err := authorUser.CreateStream(context.Background(), 1)
	require.NoError(t, err)

	stranger := identity.NewEd25519IdentityFromSeed([]byte("perm-stranger-seed"))
	strangerUser := New(stranger, transport, Options{})
	_, err = strangerUser.ReceiveMessage(context.Background(), annAddr)
	require.NoError(t, err)

	_, err = strangerUser.SendSignedPacket(context.Background(), "", annAddr.Relative, []byte("hi"), nil)
	assert.Error(t, err, "expected SendSignedPacket to fail without write permission")
}

func TestKeyloadGrantsWritePermission(t *testing.T) {
	transport := simtransport.New()
	author := identity.NewEd25519IdentityFromSeed([]byte("grant-author-seed"))
	authorUser := New(author, transport, Options{})
	annAddr, err := authorUser.CreateStream(context.Background(), 1)
	require.NoError(t, err)

	writer := identity.NewEd25519IdentityFromSeed([]byte("grant-writer-seed"))
	writerUser := New(writer, transport, Options{})
	_, err = writerUser.ReceiveMessage(context.Background(), annAddr)
	require.NoError(t, err)

	recipients := []message.KeyloadRecipient{{
		Permission: identity.Permission{Level: identity.LevelReadWrite, Identifier: writer.Identifier(), Duration: identity.Duration{Kind: identity.Perpetual}},
		X25519Pub:  writer.Identifier().X25519Pub,
	}}
	klAddr, _, err := authorUser.SendKeyload(context.Background(), "", annAddr.Relative, recipients, nil)
	require.NoError(t, err)

	_, err = writerUser.ReceiveMessage(context.Background(), klAddr)
	require.NoError(t, err)

	_, err = writerUser.SendSignedPacket(context.Background(), "", klAddr.Relative, []byte("now i can write"), nil)
	assert.NoError(t, err)
}

func TestOnlyAuthorCanSendKeyload(t *testing.T) {
	transport := simtransport.New()
	author := identity.NewEd25519IdentityFromSeed([]byte("only-author-seed"))
	authorUser := New(author, transport, Options{})
	annAddr, err := authorUser.CreateStream(context.Background(), 1)
	require.NoError(t, err)

	other := identity.NewEd25519IdentityFromSeed([]byte("only-other-seed"))
	otherUser := New(other, transport, Options{})
	_, err = otherUser.ReceiveMessage(context.Background(), annAddr)
	require.NoError(t, err)

	_, _, err = otherUser.SendKeyload(context.Background(), "", annAddr.Relative, nil, nil)
	assert.Error(t, err, "caller is not the stream author")
}

func TestRemoveSubscriberClearsKeyAndPermission(t *testing.T) {
	u := New(identity.NewEd25519IdentityFromSeed([]byte("remove-sub-seed")), simtransport.New(), Options{})
	sub := identity.NewEd25519IdentityFromSeed([]byte("remove-sub-subscriber-seed")).Identifier()

	u.AddSubscriber("", sub, sub.X25519Pub)
	_, ok := u.idStore.Branch("").Key(sub)
	require.True(t, ok, "AddSubscriber did not register a key")

	u.RemoveSubscriber("", sub)
	_, ok = u.idStore.Branch("").Key(sub)
	assert.False(t, ok, "RemoveSubscriber left the key registered")
}

func TestAddAndRemovePsk(t *testing.T) {
	u := New(identity.NewEd25519IdentityFromSeed([]byte("psk-holder-seed")), simtransport.New(), Options{})
	var secret [32]byte
	copy(secret[:], []byte("psk-test-secret-32-bytes-long!!"))

	id := u.AddPsk(secret)
	_, ok := u.psks[id.PskID]
	require.True(t, ok, "AddPsk did not register the secret")

	u.RemovePsk(id.PskID)
	_, ok = u.psks[id.PskID]
	assert.False(t, ok, "RemovePsk left the secret registered")
}
