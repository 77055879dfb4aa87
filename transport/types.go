// Package transport defines the abstract content-addressed transport
// that the user session and message stream talk to. The core never
// assumes a particular backend: send/recv are keyed purely on Address,
// and the collision/missing-address semantics below are relied on by
// the higher layers (duplicate detection, orphan re-queueing).
package transport

import (
	"context"
	"errors"

	"github.com/iotaledger/streams-sub000/address"
)

// ErrMissing is returned by Recv when no message has been stored at the
// requested address. This is an expected, routine condition: it signals
// end-of-branch during preorder traversal, not a failure.
var ErrMissing = errors.New("transport: no message at address")

// ErrDuplicate is returned by Send when a message already occupies the
// requested address. The core relies on this to detect address
// collisions before ever overwriting a stored message.
var ErrDuplicate = errors.New("transport: address already occupied")

// Transport is the abstract content-addressed store every stream
// operation is built on.
type Transport interface {
	// Send stores bytes at addr. It must return ErrDuplicate if addr is
	// already occupied, and must never overwrite an existing message.
	Send(ctx context.Context, addr address.Address, payload []byte) error

	// Recv retrieves the bytes stored at addr. It must return
	// ErrMissing if no message has been stored there.
	Recv(ctx context.Context, addr address.Address) ([]byte, error)
}
