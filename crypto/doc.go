// Package crypto provides the clock abstraction used by the user
// layer's permission-expiry check. All actual encryption, signing, and key derivation
// is done by package sponge's duplex construction and package ddml's
// Ed25519/X25519 commands directly — there is no separate NaCl-based
// primitive layer here, since running a second, independent crypto
// mechanism alongside the sponge would only be a second place for
// a protocol bug to hide.
//
// # Deterministic Testing
//
// Time-dependent code (permission expiry) takes a [TimeProvider]
// rather than calling time.Now() directly, so tests can inject a
// fixed clock.
package crypto
