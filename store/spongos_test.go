package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/sponge"
)

func TestSpongosInsertGetContains(t *testing.T) {
	s := NewSpongos()
	var id address.MsgID
	copy(id[:], []byte("msg-id-12345"))

	assert.False(t, s.Contains(id), "Contains reported true before Insert")
	sp := sponge.New()
	sp.Absorb([]byte("some state"))
	s.Insert(id, sp)

	assert.True(t, s.Contains(id), "Contains reported false after Insert")
	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Same(t, sp, got)
}

func TestSpongosLookupTranslatesRawBytes(t *testing.T) {
	s := NewSpongos()
	var id address.MsgID
	copy(id[:], []byte("lookup-msg-1"))
	sp := sponge.New()
	s.Insert(id, sp)

	got, ok := s.Lookup(id[:])
	require.True(t, ok, "Lookup did not resolve the stored sponge from raw bytes")
	assert.Same(t, sp, got)
}

func TestSpongosEntriesSnapshot(t *testing.T) {
	s := NewSpongos()
	var id1, id2 address.MsgID
	copy(id1[:], []byte("entries-msg-1"))
	copy(id2[:], []byte("entries-msg-2"))
	s.Insert(id1, sponge.New())
	s.Insert(id2, sponge.New())

	entries := s.Entries()
	require.Len(t, entries, 2)
	seen := make(map[address.MsgID]bool)
	for _, e := range entries {
		seen[e.MsgID] = true
	}
	assert.True(t, seen[id1])
	assert.True(t, seen[id2])
	assert.Equal(t, 2, s.Len())
}
