// Package ddml implements the "data-description markup language"
// command layer: a small fixed vocabulary (Absorb, Mask, Squeeze,
// Commit, Ed25519, X25519, Join, Fork, Repeated, Maybe) that
// simultaneously defines a wire format and drives a sponge. Every
// message codec in package message is written once, as a sequence of
// these commands, and dispatched across three modes so the same script
// both sizes, wraps, and unwraps a message.
package ddml

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"

	"github.com/iotaledger/streams-sub000/sponge"
)

// Mode selects whether a Context counts bytes, writes them, or reads
// them. A single codec function, parameterized by Context, produces all
// three behaviors from one declarative script.
type Mode int

const (
	SizeOf Mode = iota
	Wrap
	Unwrap
)

// ErrUnknownPredecessor is returned by Join when the linked message's
// spongos state is not present in the store — the recoverable "orphan"
// condition.
var ErrUnknownPredecessor = errors.New("ddml: unknown predecessor")

// ErrAuthFailure is returned when an Ed25519 verification or a Squeeze
// integrity check fails during Unwrap.
var ErrAuthFailure = errors.New("ddml: authentication failure")

// ErrShortBuffer is returned by Unwrap commands when the input stream
// is exhausted before a field can be read.
var ErrShortBuffer = errors.New("ddml: unexpected end of stream")

// SpongosStore resolves a previously-stored Spongos by its message id
// bytes, as consulted by Join. Implemented by package store.
type SpongosStore interface {
	Lookup(msgID []byte) (*sponge.Spongos, bool)
}

// Context carries the mode-specific buffer and the sponge state shared
// across a single codec invocation.
type Context struct {
	Mode    Mode
	Spongos *sponge.Spongos

	buf    []byte // Wrap: accumulated output. Unwrap: remaining input.
	size   int    // SizeOf: running byte count.
	Store  SpongosStore
}

// NewSizeOf creates a Context that only counts bytes.
func NewSizeOf() *Context {
	return &Context{Mode: SizeOf, Spongos: sponge.New()}
}

// NewWrap creates a Context that writes to a fresh output buffer,
// driving sp.
func NewWrap(sp *sponge.Spongos, store SpongosStore) *Context {
	return &Context{Mode: Wrap, Spongos: sp, Store: store}
}

// NewUnwrap creates a Context that reads from data, driving sp.
func NewUnwrap(sp *sponge.Spongos, data []byte, store SpongosStore) *Context {
	return &Context{Mode: Unwrap, Spongos: sp, buf: data, Store: store}
}

// Bytes returns the accumulated output of a Wrap context.
func (c *Context) Bytes() []byte {
	return c.buf
}

// Size returns the accumulated count of a SizeOf context.
func (c *Context) Size() int {
	return c.size
}

// Remaining returns the unconsumed tail of an Unwrap context's input.
func (c *Context) Remaining() []byte {
	return c.buf
}

func (c *Context) take(n int) ([]byte, error) {
	if len(c.buf) < n {
		return nil, ErrShortBuffer
	}
	out := c.buf[:n]
	c.buf = c.buf[n:]
	return out, nil
}

// Absorb mixes field's literal bytes into the sponge and, depending on
// mode, writes or reads those same bytes on the wire. On Wrap/SizeOf,
// field supplies the bytes. On Unwrap, the return value holds the bytes
// read from the stream; field is only used for its length.
func (c *Context) Absorb(field []byte) ([]byte, error) {
	switch c.Mode {
	case SizeOf:
		c.size += len(field)
		return field, nil
	case Wrap:
		c.buf = append(c.buf, field...)
		c.Spongos.Absorb(field)
		return field, nil
	default: // Unwrap
		got, err := c.take(len(field))
		if err != nil {
			return nil, fmt.Errorf("ddml: absorb: %w", err)
		}
		c.Spongos.Absorb(got)
		return got, nil
	}
}

// AbsorbByte absorbs a single byte, as used for tags, flags, and
// one-byte length prefixes.
func (c *Context) AbsorbByte(b byte) (byte, error) {
	out, err := c.Absorb([]byte{b})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// AbsorbVarint absorbs n as a little-endian base-128 varint (the
// implementation's fixed choice in place of the legacy trinary
// encoding).
func (c *Context) AbsorbVarint(n uint64) (uint64, error) {
	switch c.Mode {
	case SizeOf:
		c.size += varintLen(n)
		return n, nil
	case Wrap:
		enc := encodeVarint(n)
		if _, err := c.Absorb(enc); err != nil {
			return 0, err
		}
		return n, nil
	default:
		return c.readVarint()
	}
}

func (c *Context) readVarint() (uint64, error) {
	var result uint64
	var shift uint
	for {
		bs, err := c.take(1)
		if err != nil {
			return 0, fmt.Errorf("ddml: absorb varint: %w", err)
		}
		c.Spongos.Absorb(bs)
		b := bs[0]
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, nil
}

func varintLen(n uint64) int {
	l := 1
	for n >= 0x80 {
		n >>= 7
		l++
	}
	return l
}

func encodeVarint(n uint64) []byte {
	var out []byte
	for n >= 0x80 {
		out = append(out, byte(n)|0x80)
		n >>= 7
	}
	out = append(out, byte(n))
	return out
}

// AbsorbBytes absorbs a variable-length byte string as a length-prefixed
// field: AbsorbVarint(len) followed by Absorb(field).
func (c *Context) AbsorbBytes(field []byte) ([]byte, error) {
	switch c.Mode {
	case SizeOf:
		if _, err := c.AbsorbVarint(uint64(len(field))); err != nil {
			return nil, err
		}
		return c.Absorb(field)
	case Wrap:
		if _, err := c.AbsorbVarint(uint64(len(field))); err != nil {
			return nil, err
		}
		return c.Absorb(field)
	default:
		n, err := c.AbsorbVarint(0)
		if err != nil {
			return nil, err
		}
		return c.Absorb(make([]byte, n))
	}
}

// Mask provides confidentiality and authentication for field: Wrap
// emits encrypt(field); Unwrap reads ciphertext of the same length and
// decrypts it into the returned plaintext.
func (c *Context) Mask(field []byte) ([]byte, error) {
	switch c.Mode {
	case SizeOf:
		c.size += len(field)
		return field, nil
	case Wrap:
		ciphertext := c.Spongos.Encrypt(field)
		c.buf = append(c.buf, ciphertext...)
		return field, nil
	default:
		ciphertext, err := c.take(len(field))
		if err != nil {
			return nil, fmt.Errorf("ddml: mask: %w", err)
		}
		return c.Spongos.Decrypt(ciphertext), nil
	}
}

// MaskBytes masks a variable-length byte string as a length-prefixed
// field (length absorbed in the clear, payload masked).
func (c *Context) MaskBytes(field []byte) ([]byte, error) {
	switch c.Mode {
	case SizeOf:
		if _, err := c.AbsorbVarint(uint64(len(field))); err != nil {
			return nil, err
		}
		c.size += len(field)
		return field, nil
	case Wrap:
		if _, err := c.AbsorbVarint(uint64(len(field))); err != nil {
			return nil, err
		}
		return c.Mask(field)
	default:
		n, err := c.AbsorbVarint(0)
		if err != nil {
			return nil, err
		}
		return c.Mask(make([]byte, n))
	}
}

// AbsorbExternal mixes data into the sponge without any wire-format
// effect — used for material both sides already possess (a PSK, or a
// session key propagated from a per-recipient Fork into the outer
// sponge) and so never transmitted again.
func (c *Context) AbsorbExternal(data []byte) {
	if c.Mode != SizeOf {
		c.Spongos.Absorb(data)
	}
}

// Commit finalizes the current absorb phase so subsequent squeezes are
// independent of further absorbs until the next commit.
func (c *Context) Commit() {
	if c.Mode != SizeOf {
		c.Spongos.Commit()
	}
}

// Squeeze produces n bytes as a MAC: Wrap writes them to the stream,
// Unwrap reads n bytes and compares them against the sponge's own
// squeeze output.
func (c *Context) Squeeze(n int) ([]byte, error) {
	switch c.Mode {
	case SizeOf:
		c.size += n
		return make([]byte, n), nil
	case Wrap:
		tag := c.Spongos.Squeeze(n)
		c.buf = append(c.buf, tag...)
		return tag, nil
	default:
		tag, err := c.take(n)
		if err != nil {
			return nil, fmt.Errorf("ddml: squeeze: %w", err)
		}
		if err := c.Spongos.SqueezeCheck(tag); err != nil {
			return nil, ErrAuthFailure
		}
		return tag, nil
	}
}

// Ed25519Sign signs hash with priv: Wrap signs and absorbs+emits the
// 64-byte signature.
func (c *Context) Ed25519Sign(priv ed25519.PrivateKey, hash []byte) error {
	if c.Mode == SizeOf {
		c.size += ed25519.SignatureSize
		return nil
	}
	sig := ed25519.Sign(priv, hash)
	_, err := c.Absorb(sig)
	return err
}

// Ed25519Verify reads a 64-byte signature and verifies it against hash
// under pub. Failure is fatal to unwrap.
func (c *Context) Ed25519Verify(pub ed25519.PublicKey, hash []byte) error {
	if c.Mode == SizeOf {
		c.size += ed25519.SignatureSize
		return nil
	}
	sig, err := c.Absorb(make([]byte, ed25519.SignatureSize))
	if err != nil {
		return err
	}
	if c.Mode == Unwrap {
		if !ed25519.Verify(pub, hash, sig) {
			return ErrAuthFailure
		}
	}
	return nil
}

// X25519WrapKey generates an ephemeral key pair, emits the ephemeral
// public key, derives a shared secret with recipientPub, absorbs it,
// then masks payload under the resulting sponge state.
func (c *Context) X25519WrapKey(recipientPub [32]byte, payload []byte) ([]byte, error) {
	if c.Mode == SizeOf {
		c.size += 32
		return c.Mask(payload)
	}
	kp, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ddml: x25519 ephemeral keygen: %w", err)
	}
	if _, err := c.Absorb(kp.Public); err != nil {
		return nil, err
	}
	shared := noise.DH25519.DH(kp.Private, recipientPub[:])
	c.Spongos.Absorb(shared)
	return c.Mask(payload)
}

// X25519UnwrapKey reads an ephemeral public key, derives the shared
// secret with ownPriv, absorbs it, then unmasks a payload field of
// payloadLen bytes.
func (c *Context) X25519UnwrapKey(ownPriv [32]byte, payloadLen int) ([]byte, error) {
	ephemeralPub, err := c.Absorb(make([]byte, 32))
	if err != nil {
		return nil, err
	}
	shared := noise.DH25519.DH(ownPriv[:], ephemeralPub)
	c.Spongos.Absorb(shared)
	return c.Mask(make([]byte, payloadLen))
}

// Join reads linkedMsgID via Absorb, looks up its Spongos in Store,
// forks it, and joins the fork into self. It returns ErrUnknownPredecessor
// if the lookup misses — the recoverable orphan condition.
func (c *Context) Join(linkedMsgID []byte) ([]byte, error) {
	got, err := c.Absorb(linkedMsgID)
	if err != nil {
		return nil, err
	}
	if c.Mode == SizeOf {
		return got, nil
	}
	predecessor, ok := c.Store.Lookup(got)
	if !ok {
		return got, ErrUnknownPredecessor
	}
	c.Spongos.Join(predecessor)
	return got, nil
}

// Fork clones the current sponge, runs block against an equivalent
// Context sharing the same buffer, then discards the clone — isolating
// per-recipient subscripts so recipient count and order never perturb
// the outer sponge.
func (c *Context) Fork(block func(*Context) error) error {
	clone := &Context{Mode: c.Mode, Spongos: c.Spongos.Fork(), buf: c.buf, size: c.size, Store: c.Store}
	if err := block(clone); err != nil {
		return err
	}
	// Propagate wire-format progress (what was written/read) but not
	// the forked sponge state.
	c.buf = clone.buf
	c.size = clone.size
	return nil
}

// Repeated executes block exactly n times; in Unwrap mode n is itself
// read via AbsorbVarint before the caller's loop begins, so callers
// should derive n from that call rather than hardcoding it.
func (c *Context) Repeated(n int, block func(*Context, int) error) error {
	for i := 0; i < n; i++ {
		if err := block(c, i); err != nil {
			return err
		}
	}
	return nil
}

// Maybe absorbs a one-byte presence flag, running inner only when
// present is true (Wrap/SizeOf) or when the flag read back true
// (Unwrap, reflected in the returned bool).
func (c *Context) Maybe(present bool, inner func(*Context) error) (bool, error) {
	var flag byte
	if present {
		flag = 1
	}
	switch c.Mode {
	case SizeOf:
		c.size++
		if present {
			return true, inner(c)
		}
		return false, nil
	case Wrap:
		if _, err := c.AbsorbByte(flag); err != nil {
			return false, err
		}
		if present {
			return true, inner(c)
		}
		return false, nil
	default:
		got, err := c.AbsorbByte(0)
		if err != nil {
			return false, err
		}
		if got == 1 {
			return true, inner(c)
		}
		return false, nil
	}
}
