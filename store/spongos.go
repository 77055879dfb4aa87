// Package store implements the two persisted directories every user
// session consults: the spongos store (message id -> post-wrap sponge
// state) and the per-topic id/cursor/key store.
package store

import (
	"sync"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/sponge"
)

// Spongos maps a message's relative address to the sponge state left
// after it was successfully wrapped or unwrapped. Entries are inserted
// once and never mutated, satisfying the cross-observer consistency
// invariant: any two users who process the same set of messages end up
// with identical spongos stores regardless of arrival order.
type Spongos struct {
	mu      sync.RWMutex
	entries map[address.MsgID]*sponge.Spongos
}

// NewSpongos creates an empty spongos store.
func NewSpongos() *Spongos {
	return &Spongos{entries: make(map[address.MsgID]*sponge.Spongos)}
}

// Insert records the sponge state for msgID. Called once, after a
// message is successfully handled.
func (s *Spongos) Insert(msgID address.MsgID, sp *sponge.Spongos) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[msgID] = sp
}

// Get returns the stored sponge for msgID, if any.
func (s *Spongos) Get(msgID address.MsgID) (*sponge.Spongos, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.entries[msgID]
	return sp, ok
}

// Lookup implements ddml.SpongosStore, translating the raw 12-byte
// message id the DDML Join command reads off the wire into a typed
// address.MsgID key.
func (s *Spongos) Lookup(msgIDBytes []byte) (*sponge.Spongos, bool) {
	var id address.MsgID
	copy(id[:], msgIDBytes)
	return s.Get(id)
}

// Contains reports whether msgID has a stored entry.
func (s *Spongos) Contains(msgID address.MsgID) bool {
	_, ok := s.Get(msgID)
	return ok
}

// Len returns the number of stored entries.
func (s *Spongos) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entry pairs a message id with its stored sponge, for package
// backup's full-state serialization.
type Entry struct {
	MsgID   address.MsgID
	Spongos *sponge.Spongos
}

// Entries returns a snapshot of every stored (msgID, sponge) pair.
func (s *Spongos) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for id, sp := range s.entries {
		out = append(out, Entry{MsgID: id, Spongos: sp})
	}
	return out
}
