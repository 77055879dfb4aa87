// Package transport defines the content-addressed store abstraction
// the protocol core talks to, and the sentinel errors that carry the
// duplicate/missing semantics the core relies on for collision
// detection and end-of-branch signaling. Concrete backends (an
// in-memory simulator for tests, or a real content-addressed store in
// production) live outside this package and satisfy Transport.
package transport
