// Package simtransport implements an in-memory content-addressed
// transport for tests: a map from Address to stored bytes, with a
// delivery log for test verification. It is not a real transport —
// every operation is synchronous and in-process — but it implements
// the exact collision and missing-address semantics the core relies on.
package simtransport

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/transport"
)

// DeliveryRecord captures a single send or recv attempt for test
// verification.
type DeliveryRecord struct {
	Address   address.Address
	Operation string // "send" or "recv"
	Size      int
	Timestamp time.Time
	Success   bool
	Error     error
}

// Transport is an in-memory transport.Transport backed by a map keyed
// on the address's printable form.
type Transport struct {
	mu          sync.RWMutex
	store       map[string][]byte
	deliveryLog []DeliveryRecord
}

// New creates an empty simulated transport.
func New() *Transport {
	logrus.Warn("SIMULATION TRANSPORT - NOT A REAL NETWORK")
	return &Transport{
		store: make(map[string][]byte),
	}
}

// Send stores payload at addr, failing with transport.ErrDuplicate if
// the address is already occupied.
func (t *Transport) Send(ctx context.Context, addr address.Address, payload []byte) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Transport.Send",
		"address":  addr.String(),
		"size":     len(payload),
	})

	t.mu.Lock()
	defer t.mu.Unlock()

	key := addr.String()
	if _, exists := t.store[key]; exists {
		logger.Warn("address already occupied")
		t.deliveryLog = append(t.deliveryLog, DeliveryRecord{
			Address: addr, Operation: "send", Size: len(payload),
			Timestamp: time.Now(), Success: false, Error: transport.ErrDuplicate,
		})
		return transport.ErrDuplicate
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)
	t.store[key] = stored

	t.deliveryLog = append(t.deliveryLog, DeliveryRecord{
		Address: addr, Operation: "send", Size: len(payload),
		Timestamp: time.Now(), Success: true,
	})
	logger.Debug("message stored")
	return nil
}

// Recv retrieves the bytes stored at addr, failing with
// transport.ErrMissing if none have been stored there.
func (t *Transport) Recv(ctx context.Context, addr address.Address) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	key := addr.String()
	data, exists := t.store[key]
	if !exists {
		t.deliveryLog = append(t.deliveryLog, DeliveryRecord{
			Address: addr, Operation: "recv",
			Timestamp: time.Now(), Success: false, Error: transport.ErrMissing,
		})
		return nil, transport.ErrMissing
	}

	out := make([]byte, len(data))
	copy(out, data)
	t.deliveryLog = append(t.deliveryLog, DeliveryRecord{
		Address: addr, Operation: "recv", Size: len(out),
		Timestamp: time.Now(), Success: true,
	})
	return out, nil
}

// DeliveryLog returns a copy of every send/recv attempt observed so far,
// for test assertions about ordering and outcome.
func (t *Transport) DeliveryLog() []DeliveryRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]DeliveryRecord, len(t.deliveryLog))
	copy(out, t.deliveryLog)
	return out
}

// Reset clears all stored messages and the delivery log. Intended for
// reuse between test cases.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store = make(map[string][]byte)
	t.deliveryLog = nil
}
