// Package limits provides centralized size limits for the streaming
// protocol core, validated by the user-session layer's send operations.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxTopicLength is the maximum byte length of a Topic; it bounds
	// the branch-partitioning key absorbed into every address
	// derivation and HDF header.
	MaxTopicLength = 60

	// MaxMessageSize is the maximum size, in bytes, of a fully-wrapped
	// message (HDF + PCF + trailing auth) accepted by the transport
	// layer.
	MaxMessageSize = 1024 * 1024

	// MaxPublicPayload bounds the public (authenticated-only) payload
	// of a signed or tagged packet.
	MaxPublicPayload = 64 * 1024

	// MaxMaskedPayload bounds the masked (encrypted+authenticated)
	// payload of a signed or tagged packet.
	MaxMaskedPayload = 64 * 1024

	// MaxPermissionListLength bounds the number of subscriber and PSK
	// entries a single keyload may enumerate.
	MaxPermissionListLength = 4096
)

var (
	// ErrEmpty indicates an empty value was provided where one was required.
	ErrEmpty = errors.New("limits: empty value")

	// ErrTooLarge indicates a value exceeds its maximum size.
	ErrTooLarge = errors.New("limits: value too large")
)

// ValidateTopic checks a topic's length against MaxTopicLength. Unlike
// the other validators, an empty topic is valid — it denotes the base
// branch.
func ValidateTopic(topic []byte) error {
	if len(topic) > MaxTopicLength {
		return fmt.Errorf("%w: topic length %d exceeds %d", ErrTooLarge, len(topic), MaxTopicLength)
	}
	return nil
}

// ValidateMessageSize validates a fully-wrapped message against
// MaxMessageSize.
func ValidateMessageSize(message []byte) error {
	if len(message) == 0 {
		return ErrEmpty
	}
	if len(message) > MaxMessageSize {
		return fmt.Errorf("%w: message size %d exceeds %d", ErrTooLarge, len(message), MaxMessageSize)
	}
	return nil
}

// ValidatePublicPayload validates a signed/tagged packet's public
// payload against MaxPublicPayload.
func ValidatePublicPayload(payload []byte) error {
	if len(payload) > MaxPublicPayload {
		return fmt.Errorf("%w: public payload size %d exceeds %d", ErrTooLarge, len(payload), MaxPublicPayload)
	}
	return nil
}

// ValidateMaskedPayload validates a signed/tagged packet's masked
// payload against MaxMaskedPayload.
func ValidateMaskedPayload(payload []byte) error {
	if len(payload) > MaxMaskedPayload {
		return fmt.Errorf("%w: masked payload size %d exceeds %d", ErrTooLarge, len(payload), MaxMaskedPayload)
	}
	return nil
}

// ValidatePermissionListLength validates a keyload's combined
// subscriber and PSK recipient count against MaxPermissionListLength.
func ValidatePermissionListLength(n int) error {
	if n > MaxPermissionListLength {
		return fmt.Errorf("%w: permission list length %d exceeds %d", ErrTooLarge, n, MaxPermissionListLength)
	}
	return nil
}
