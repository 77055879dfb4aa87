package user

import "errors"

// ErrPrecondition is returned when an operation's required state is not
// met — a caller bug, not a transport or cryptographic failure.
var ErrPrecondition = errors.New("user: precondition not met")

// ErrPermissionDenied is returned when the caller lacks the permission
// an operation requires (no write permission, or a PSK attempting to
// sign).
var ErrPermissionDenied = errors.New("user: permission denied")

// ErrOrphan is returned by ReceiveMessage when a message's linked
// predecessor is not yet known. The raw bytes are preserved on the
// returned *OrphanError so callers (typically the Messages stream) can
// re-queue and replay it once the predecessor arrives.
var ErrOrphan = errors.New("user: orphan message")
