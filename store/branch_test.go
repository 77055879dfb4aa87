package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/identity"
)

func TestNewBranchStoreHasBaseBranch(t *testing.T) {
	bs := NewBranchStore()
	assert.True(t, bs.HasBranch(address.BaseBranch), "NewBranchStore did not pre-populate the base branch")
}

func TestBranchCreatedOnFirstAccess(t *testing.T) {
	bs := NewBranchStore()
	topic := address.Topic("chat")
	assert.False(t, bs.HasBranch(topic), "topic should not exist before first access")
	bs.Branch(topic)
	assert.True(t, bs.HasBranch(topic), "Branch() did not create the topic")
}

func TestBranchKeySetAndGet(t *testing.T) {
	bs := NewBranchStore()
	b := bs.Branch(address.BaseBranch)

	id := identity.NewEd25519IdentityFromSeed([]byte("author-seed-1")).Identifier()
	k := Key{X25519Pub: id.X25519Pub}
	b.SetKey(id, k)

	got, ok := b.Key(id)
	require.True(t, ok, "Key() did not find a key that was set")
	assert.Equal(t, k.X25519Pub, got.X25519Pub)
}

func TestBranchCursorMonotonic(t *testing.T) {
	bs := NewBranchStore()
	b := bs.Branch(address.BaseBranch)
	id := identity.NewEd25519IdentityFromSeed([]byte("subscriber-seed-1")).Identifier()

	_, ok := b.Cursor(id)
	assert.False(t, ok, "Cursor() should report absent before any SetCursor")

	b.SetCursor(id, 1)
	b.SetCursor(id, 2)
	got, ok := b.Cursor(id)
	require.True(t, ok)
	assert.Equal(t, uint64(2), got)
}

func TestBranchPermissionOverwrite(t *testing.T) {
	bs := NewBranchStore()
	b := bs.Branch(address.BaseBranch)
	id := identity.NewEd25519IdentityFromSeed([]byte("subscriber-seed-2")).Identifier()

	b.SetPermission(id, identity.Permission{Level: identity.LevelRead, Identifier: id})
	b.SetPermission(id, identity.Permission{Level: identity.LevelReadWrite, Identifier: id})

	got, ok := b.Permission(id)
	require.True(t, ok)
	assert.Equal(t, identity.LevelReadWrite, got.Level)
}

func TestBranchRemoveIdentifierClearsAllDirectories(t *testing.T) {
	bs := NewBranchStore()
	b := bs.Branch(address.BaseBranch)
	id := identity.NewEd25519IdentityFromSeed([]byte("subscriber-seed-3")).Identifier()

	b.SetKey(id, Key{X25519Pub: id.X25519Pub})
	b.SetCursor(id, 5)
	b.SetPermission(id, identity.Permission{Level: identity.LevelRead, Identifier: id})

	b.RemoveIdentifier(id)

	_, ok := b.Key(id)
	assert.False(t, ok, "RemoveIdentifier left a key entry")
	_, ok = b.Cursor(id)
	assert.False(t, ok, "RemoveIdentifier left a cursor entry")
	_, ok = b.Permission(id)
	assert.False(t, ok, "RemoveIdentifier left a permission entry")
}

func TestBranchesAreIndependentPerTopic(t *testing.T) {
	bs := NewBranchStore()
	id := identity.NewEd25519IdentityFromSeed([]byte("subscriber-seed-4")).Identifier()

	bs.Branch(address.Topic("a")).SetCursor(id, 1)
	_, ok := bs.Branch(address.Topic("b")).Cursor(id)
	assert.False(t, ok, "cursor leaked across topics")
}

func TestBranchKeysSnapshot(t *testing.T) {
	bs := NewBranchStore()
	b := bs.Branch(address.BaseBranch)

	id1 := identity.NewEd25519IdentityFromSeed([]byte("keys-seed-1")).Identifier()
	id2 := identity.NewEd25519IdentityFromSeed([]byte("keys-seed-2")).Identifier()
	b.SetKey(id1, Key{X25519Pub: id1.X25519Pub})
	b.SetKey(id2, Key{X25519Pub: id2.X25519Pub})

	keys := b.Keys()
	require.Len(t, keys, 2)
	seen := make(map[identity.Identifier]bool)
	for _, k := range keys {
		seen[k.Identifier] = true
		assert.Equal(t, k.Identifier.X25519Pub, k.Key.X25519Pub)
	}
	assert.True(t, seen[id1])
	assert.True(t, seen[id2])
}

func TestBranchPermissionsSnapshot(t *testing.T) {
	bs := NewBranchStore()
	b := bs.Branch(address.BaseBranch)

	id := identity.NewEd25519IdentityFromSeed([]byte("perms-seed-1")).Identifier()
	b.SetPermission(id, identity.Permission{Level: identity.LevelAdmin, Identifier: id})

	perms := b.Permissions()
	require.Len(t, perms, 1)
	assert.Equal(t, id, perms[0].Identifier)
	assert.Equal(t, identity.LevelAdmin, perms[0].Permission.Level)
}
