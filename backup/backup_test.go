package backup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/message"
	"github.com/iotaledger/streams-sub000/simtransport"
	"github.com/iotaledger/streams-sub000/user"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	transport := simtransport.New()
	author := identity.NewEd25519IdentityFromSeed([]byte("backup-author-seed"))
	u := user.New(author, transport, user.Options{})

	streamAddr, err := u.CreateStream(context.Background(), 1)
	require.NoError(t, err)

	subscriber := identity.NewEd25519IdentityFromSeed([]byte("backup-subscriber-seed"))
	u.AddSubscriber("", subscriber.Identifier(), mustX25519Pub(t, subscriber))

	recipients := []message.KeyloadRecipient{{
		Permission: identity.Permission{Level: identity.LevelRead, Identifier: subscriber.Identifier()},
		X25519Pub:  mustX25519Pub(t, subscriber),
	}}
	_, _, err = u.SendKeyload(context.Background(), "", streamAddr.Relative, recipients, nil)
	require.NoError(t, err)

	data, err := Backup(u, "correct horse battery staple")
	require.NoError(t, err)

	restored, err := Restore(data, "correct horse battery staple", transport, user.Options{})
	require.NoError(t, err)

	assert.Equal(t, author.Identifier().Ed25519, restored.Identifier().Ed25519)
	gotAddr, ok := restored.StreamAddress()
	require.True(t, ok, "restored user has no stream address")
	assert.Equal(t, streamAddr, gotAddr)
	authorID, ok := restored.AuthorIdentifier()
	require.True(t, ok)
	assert.Equal(t, author.Identifier().Ed25519, authorID.Ed25519)

	_, ok = restored.IDStore().Branch("").Key(subscriber.Identifier())
	assert.True(t, ok, "restored id store missing subscriber key")
	assert.Equal(t, u.SpongosStore().Len(), restored.SpongosStore().Len())
}

func TestRestoreWrongPasswordFails(t *testing.T) {
	transport := simtransport.New()
	author := identity.NewEd25519IdentityFromSeed([]byte("backup-author-seed-2"))
	u := user.New(author, transport, user.Options{})
	_, err := u.CreateStream(context.Background(), 1)
	require.NoError(t, err)

	data, err := Backup(u, "correct horse battery staple")
	require.NoError(t, err)

	_, err = Restore(data, "wrong password", transport, user.Options{})
	assert.Error(t, err)
}

func TestRestoreRejectsTruncatedBackup(t *testing.T) {
	transport := simtransport.New()
	author := identity.NewEd25519IdentityFromSeed([]byte("backup-author-seed-3"))
	u := user.New(author, transport, user.Options{})
	_, err := u.CreateStream(context.Background(), 1)
	require.NoError(t, err)

	data, err := Backup(u, "pw")
	require.NoError(t, err)

	_, err = Restore(data[:len(data)-40], "pw", transport, user.Options{})
	assert.Error(t, err)
}

func TestBackupRoundTripsPskIdentity(t *testing.T) {
	transport := simtransport.New()
	var secret [32]byte
	copy(secret[:], []byte("a-pre-shared-secret-of-32-bytes"))
	holder := identity.NewPsk(secret)
	u := user.New(holder, transport, user.Options{})

	data, err := Backup(u, "pw")
	require.NoError(t, err)
	restored, err := Restore(data, "pw", transport, user.Options{})
	require.NoError(t, err)
	assert.Equal(t, holder.Identifier().PskID, restored.Identifier().PskID)
}

func mustX25519Pub(t *testing.T, id *identity.Identity) [32]byte {
	t.Helper()
	pub := id.Identifier()
	return pub.X25519Pub
}
