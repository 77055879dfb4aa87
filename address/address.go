// Package address implements the content-addressed link model: a stream
// is anchored at an AppAddr and individual messages are named by a
// MsgId deterministically derived from (base, publisher, topic, cursor).
package address

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/sponge"
)

const (
	// AppAddrLen is the byte length of a stream's base address:
	// publisher identifier (32 bytes) || big-endian stream index (8 bytes).
	AppAddrLen = 40
	// MsgIDLen is the byte length of a relative message address.
	MsgIDLen = 12
	// MaxTopicLen bounds the topic byte string; it partitions a stream
	// into independent publish sequences.
	MaxTopicLen = 60
)

// BaseBranch names the root partition of a stream.
var BaseBranch = Topic("")

// Topic is an opaque byte string naming a publish branch.
type Topic string

// AppAddr is the 40-byte base address anchoring a stream.
type AppAddr [AppAddrLen]byte

// NewAppAddr builds a stream's base address from its author's
// identifier and a stream index.
func NewAppAddr(author identity.Identifier, streamIndex uint64) AppAddr {
	var a AppAddr
	copy(a[:32], author.Bytes())
	binary.BigEndian.PutUint64(a[32:], streamIndex)
	return a
}

func (a AppAddr) String() string {
	return hex.EncodeToString(a[:])
}

// MsgID is the 12-byte relative address of a single message within a
// stream.
type MsgID [MsgIDLen]byte

func (m MsgID) String() string {
	return hex.EncodeToString(m[:])
}

// Address is the full, printable handle for a message: a stream base
// plus the message's relative id within it.
type Address struct {
	Base     AppAddr
	Relative MsgID
}

// String renders the canonical printable form: lower-case hex of base,
// colon, lower-case hex of relative.
func (a Address) String() string {
	return fmt.Sprintf("%s:%s", a.Base.String(), a.Relative.String())
}

// ParseAddress parses the canonical printable form produced by String.
func ParseAddress(s string) (Address, error) {
	var addr Address
	if len(s) != AppAddrLen*2+1+MsgIDLen*2 {
		return addr, errors.New("address: malformed printable address")
	}
	baseHex := s[:AppAddrLen*2]
	sep := s[AppAddrLen*2]
	relHex := s[AppAddrLen*2+1:]
	if sep != ':' {
		return addr, errors.New("address: malformed printable address")
	}
	baseBytes, err := hex.DecodeString(baseHex)
	if err != nil {
		return addr, fmt.Errorf("address: decode base: %w", err)
	}
	relBytes, err := hex.DecodeString(relHex)
	if err != nil {
		return addr, fmt.Errorf("address: decode relative: %w", err)
	}
	copy(addr.Base[:], baseBytes)
	copy(addr.Relative[:], relBytes)
	return addr, nil
}

// DeriveRelative computes the deterministic relative address for a
// message published by id on topic at cursor, within the stream anchored
// at base. It is a pure function of its inputs.
func DeriveRelative(base AppAddr, id identity.Identifier, topic Topic, cursor uint64) MsgID {
	s := sponge.New()
	s.Absorb(base[:])
	s.Absorb([]byte{byte(id.Kind)})
	s.Absorb(id.Bytes())

	topicBytes := []byte(topic)
	s.Absorb([]byte{byte(len(topicBytes))})
	s.Absorb(topicBytes)

	var cursorBytes [8]byte
	binary.BigEndian.PutUint64(cursorBytes[:], cursor)
	s.Absorb(cursorBytes[:])
	s.Commit()

	digest := s.Squeeze(MsgIDLen)
	var out MsgID
	copy(out[:], digest)
	return out
}
