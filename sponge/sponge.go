// Package sponge implements the duplex sponge construction (Spongos) that
// every wire codec in this module is built from: absorb, squeeze, encrypt,
// decrypt, commit, fork, and join. It is the sole source of secrecy,
// authentication, and key material for everything layered above it.
package sponge

import "errors"

// RateBytes and CapacityBytes fix the sponge to Keccak-f[1600] with a
// 1344-bit rate and 256-bit capacity, matching the construction this
// protocol was specified against.
const (
	RateBytes     = 168 // 1344 bits
	CapacityBytes = 32  // 256 bits
	StateBytes    = RateBytes + CapacityBytes
	laneCount     = StateBytes / 8
)

// ErrSqueezeMismatch is returned by Spongos.SqueezeCheck when the bytes
// read from a stream do not match the sponge's own squeeze output — the
// DDML Squeeze command's integrity check.
var ErrSqueezeMismatch = errors.New("sponge: squeeze mismatch")

// Spongos is a duplex sponge over Keccak-f[1600]. The zero value is a
// valid, freshly-initialized sponge. Spongos has value semantics: copying
// it (as Fork does) yields two independent spongos.
type Spongos struct {
	state   [laneCount]uint64
	pendLen int
	sqPos   int
	sqValid bool
}

// New returns a freshly initialized Spongos.
func New() *Spongos {
	return &Spongos{}
}

func laneBytes(state *[laneCount]uint64, i int) byte {
	lane := state[i/8]
	shift := uint(i%8) * 8
	return byte(lane >> shift)
}

func xorLaneByte(state *[laneCount]uint64, i int, b byte) {
	shift := uint(i%8) * 8
	state[i/8] ^= uint64(b) << shift
}

// permute runs the Keccak-f[1600] permutation and invalidates any
// in-progress squeeze window.
func (s *Spongos) permute() {
	keccakF1600(&s.state)
	s.sqPos = 0
	s.sqValid = true
}

// Absorb mixes X into the sponge's outer rate. No output is produced.
func (s *Spongos) Absorb(x []byte) {
	s.sqValid = false
	for len(x) > 0 {
		space := RateBytes - s.pendLen
		n := len(x)
		if n > space {
			n = space
		}
		for i := 0; i < n; i++ {
			xorLaneByte(&s.state, s.pendLen+i, x[i])
		}
		s.pendLen += n
		x = x[n:]
		if s.pendLen == RateBytes {
			s.permute()
			s.pendLen = 0
		}
	}
}

// pad applies the pad10*1 multi-rate padding rule to the pending partial
// block and permutes, finalizing any in-progress Absorb.
func (s *Spongos) pad() {
	if s.pendLen == 0 && s.sqValid {
		return
	}
	xorLaneByte(&s.state, s.pendLen, 0x01)
	xorLaneByte(&s.state, RateBytes-1, 0x80)
	s.permute()
	s.pendLen = 0
}

// Commit finalizes the current absorb phase so subsequent squeezes are
// independent of further absorbs until the next commit.
func (s *Spongos) Commit() {
	s.pad()
}

// Squeeze produces n pseudorandom bytes deterministically from the
// current state. It does not itself absorb the output.
func (s *Spongos) Squeeze(n int) []byte {
	s.pad()
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		if s.sqPos == RateBytes {
			s.permute()
		}
		out[i] = laneBytes(&s.state, s.sqPos)
		s.sqPos++
	}
	return out
}

// SqueezeCheck squeezes len(tag) bytes and compares them to tag in
// constant time, implementing the DDML Squeeze command's unwrap-side
// integrity check.
func (s *Spongos) SqueezeCheck(tag []byte) error {
	got := s.Squeeze(len(tag))
	var diff byte
	for i := range tag {
		diff |= got[i] ^ tag[i]
	}
	if diff != 0 {
		return ErrSqueezeMismatch
	}
	return nil
}

// Encrypt computes C = P XOR squeeze(|P|) and absorbs C.
func (s *Spongos) Encrypt(plaintext []byte) []byte {
	keystream := s.Squeeze(len(plaintext))
	ciphertext := make([]byte, len(plaintext))
	for i := range plaintext {
		ciphertext[i] = plaintext[i] ^ keystream[i]
	}
	s.Absorb(ciphertext)
	return ciphertext
}

// Decrypt computes P = C XOR squeeze(|C|) and absorbs C.
func (s *Spongos) Decrypt(ciphertext []byte) []byte {
	keystream := s.Squeeze(len(ciphertext))
	plaintext := make([]byte, len(ciphertext))
	for i := range ciphertext {
		plaintext[i] = ciphertext[i] ^ keystream[i]
	}
	s.Absorb(ciphertext)
	return plaintext
}

// Fork returns an independent copy of s. The original is unchanged by
// subsequent operations on the fork.
func (s *Spongos) Fork() *Spongos {
	f := *s
	return &f
}

// Join absorbs other's current squeeze output into self, mixing two
// independent sponge histories into one. other is left unchanged (Join
// reads via a fork of other, never consuming its state).
func (s *Spongos) Join(other *Spongos) {
	digest := other.Fork().Squeeze(CapacityBytes)
	s.Absorb(digest)
}

// stateMarshalLen is the fixed size of MarshalState's output: the
// permutation state and the three bookkeeping scalars.
const stateMarshalLen = laneCount*8 + 8 + 8 + 1

// MarshalState serializes a sponge's full internal state, so a spongos
// store can be written to and recovered from a backup byte-for-byte,
// rather than only from re-deriving it by replaying messages.
func (s *Spongos) MarshalState() []byte {
	out := make([]byte, 0, stateMarshalLen)
	for _, lane := range s.state {
		var b [8]byte
		putUint64(b[:], lane)
		out = append(out, b[:]...)
	}
	var pendLen, sqPos [8]byte
	putUint64(pendLen[:], uint64(s.pendLen))
	putUint64(sqPos[:], uint64(s.sqPos))
	out = append(out, pendLen[:]...)
	out = append(out, sqPos[:]...)
	if s.sqValid {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

// UnmarshalState reconstructs a Spongos from MarshalState's output.
func UnmarshalState(data []byte) (*Spongos, error) {
	if len(data) != stateMarshalLen {
		return nil, errors.New("sponge: malformed marshaled state")
	}
	s := &Spongos{}
	off := 0
	for i := range s.state {
		s.state[i] = getUint64(data[off:])
		off += 8
	}
	s.pendLen = int(getUint64(data[off:]))
	off += 8
	s.sqPos = int(getUint64(data[off:]))
	off += 8
	s.sqValid = data[off] == 1
	return s, nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
