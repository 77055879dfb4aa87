package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/streams-sub000/identity"
)

func testIdentifier(t *testing.T) identity.Identifier {
	t.Helper()
	id := identity.NewEd25519IdentityFromSeed([]byte("author-seed-1"))
	return id.Identifier()
}

func TestDeriveRelativeIsDeterministic(t *testing.T) {
	id := testIdentifier(t)
	base := NewAppAddr(id, 0)

	a := DeriveRelative(base, id, BaseBranch, 1)
	b := DeriveRelative(base, id, BaseBranch, 1)
	assert.Equal(t, a, b, "DeriveRelative is not deterministic for identical inputs")
}

func TestDeriveRelativeVariesWithCursor(t *testing.T) {
	id := testIdentifier(t)
	base := NewAppAddr(id, 0)

	a := DeriveRelative(base, id, BaseBranch, 1)
	b := DeriveRelative(base, id, BaseBranch, 2)
	assert.NotEqual(t, a, b, "DeriveRelative did not vary with cursor")
}

func TestDeriveRelativeVariesWithTopic(t *testing.T) {
	id := testIdentifier(t)
	base := NewAppAddr(id, 0)

	a := DeriveRelative(base, id, Topic("t1"), 1)
	b := DeriveRelative(base, id, Topic("t2"), 1)
	assert.NotEqual(t, a, b, "DeriveRelative did not vary with topic")
}

func TestAddressStringRoundTrip(t *testing.T) {
	id := testIdentifier(t)
	base := NewAppAddr(id, 0)
	rel := DeriveRelative(base, id, BaseBranch, 1)
	addr := Address{Base: base, Relative: rel}

	parsed, err := ParseAddress(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)
}
