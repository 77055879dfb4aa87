package store

import (
	"sync"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/identity"
)

// Key is the per-topic key directory entry: an identifier's X25519 public
// key (for Ed25519/decentralized identifiers) or PSK secret (for PSK
// identifiers). Cursors are kept separately on the Branch.
type Key struct {
	X25519Pub [32]byte
	Psk       [32]byte
	IsPsk     bool
}

type cursorEntry struct {
	id     identity.Identifier
	cursor uint64
}

type keyEntry struct {
	id  identity.Identifier
	key Key
}

// Branch is a single topic's key directory and cursor map.
type Branch struct {
	mu      sync.RWMutex
	keys    map[string]keyEntry
	cursors map[string]cursorEntry
	perms   map[string]identity.Permission
}

func newBranch() *Branch {
	return &Branch{
		keys:    make(map[string]keyEntry),
		cursors: make(map[string]cursorEntry),
		perms:   make(map[string]identity.Permission),
	}
}

func idKey(id identity.Identifier) string {
	return string(id.Bytes()) + string(rune(id.Kind))
}

// SetKey registers an identifier's encryption key material for this
// branch.
func (b *Branch) SetKey(id identity.Identifier, k Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[idKey(id)] = keyEntry{id: id, key: k}
}

// Key returns the registered key material for id, if any.
func (b *Branch) Key(id identity.Identifier) (Key, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	k, ok := b.keys[idKey(id)]
	return k.key, ok
}

// SetPermission records id's current permission grant on this branch,
// overwriting any prior grant for id. Grants recorded for identifiers
// that a later keyload does not list are left in place.
func (b *Branch) SetPermission(id identity.Identifier, p identity.Permission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.perms[idKey(id)] = p
}

// Permission returns id's current permission on this branch, if any.
func (b *Branch) Permission(id identity.Identifier) (identity.Permission, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.perms[idKey(id)]
	return p, ok
}

// RemoveIdentifier removes id from every directory on this branch
// (unsubscribe/remove-subscriber effect).
func (b *Branch) RemoveIdentifier(id identity.Identifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := idKey(id)
	delete(b.keys, key)
	delete(b.cursors, key)
	delete(b.perms, key)
}

// Cursor returns id's current cursor on this branch and whether one has
// been recorded yet.
func (b *Branch) Cursor(id identity.Identifier) (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.cursors[idKey(id)]
	return c.cursor, ok
}

// SetCursor records id's cursor on this branch. Per the cursor
// monotonicity invariant, callers must only ever increase it.
func (b *Branch) SetCursor(id identity.Identifier, cursor uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursors[idKey(id)] = cursorEntry{id: id, cursor: cursor}
}

// Cursors returns a snapshot of every identifier with a recorded cursor
// on this branch, for the Messages stream's refill step.
func (b *Branch) Cursors() []IdentifierCursor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]IdentifierCursor, 0, len(b.cursors))
	for _, c := range b.cursors {
		out = append(out, IdentifierCursor{Identifier: c.id, Cursor: c.cursor})
	}
	return out
}

// IdentifierCursor pairs an identifier with its cursor on a branch.
type IdentifierCursor struct {
	Identifier identity.Identifier
	Cursor     uint64
}

// IdentifierKey pairs an identifier with its registered key material.
type IdentifierKey struct {
	Identifier identity.Identifier
	Key        Key
}

// IdentifierPermission pairs an identifier with its granted permission.
type IdentifierPermission struct {
	Identifier identity.Identifier
	Permission identity.Permission
}

// Keys returns a snapshot of every identifier with registered key
// material on this branch, for package backup's full-state
// serialization.
func (b *Branch) Keys() []IdentifierKey {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]IdentifierKey, 0, len(b.keys))
	for _, ke := range b.keys {
		out = append(out, IdentifierKey{Identifier: ke.id, Key: ke.key})
	}
	return out
}

// Permissions returns a snapshot of every identifier with a granted
// permission on this branch.
func (b *Branch) Permissions() []IdentifierPermission {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]IdentifierPermission, 0, len(b.perms))
	for _, p := range b.perms {
		out = append(out, IdentifierPermission{Identifier: p.Identifier, Permission: p})
	}
	return out
}

// BranchStore is the topic -> Branch directory (the "id_store" of the
// persisted user state).
type BranchStore struct {
	mu       sync.RWMutex
	branches map[address.Topic]*Branch
}

// NewBranchStore creates a store pre-populated with the base branch, as
// required by the invariant that id_store always contains it.
func NewBranchStore() *BranchStore {
	bs := &BranchStore{branches: make(map[address.Topic]*Branch)}
	bs.branches[address.BaseBranch] = newBranch()
	return bs
}

// Branch returns the Branch for topic, creating it if absent.
func (bs *BranchStore) Branch(topic address.Topic) *Branch {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.branches[topic]
	if !ok {
		b = newBranch()
		bs.branches[topic] = b
	}
	return b
}

// HasBranch reports whether topic has been initialized.
func (bs *BranchStore) HasBranch(topic address.Topic) bool {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	_, ok := bs.branches[topic]
	return ok
}

// Topics returns every initialized topic.
func (bs *BranchStore) Topics() []address.Topic {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	out := make([]address.Topic, 0, len(bs.branches))
	for t := range bs.branches {
		out = append(out, t)
	}
	return out
}
