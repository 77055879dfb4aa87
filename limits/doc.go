// Package limits provides centralized size constants and validation
// functions for the streaming protocol core. The validators are called
// by the user-session layer's send operations.
//
// # Size Hierarchy
//
//   - MaxTopicLength (60 bytes): bounds the branch-partitioning topic
//     absorbed into every HDF header and address derivation.
//   - MaxPublicPayload / MaxMaskedPayload (64KB each): bound a signed or
//     tagged packet's public and masked payloads independently.
//   - MaxPermissionListLength (4096): bounds the combined subscriber and
//     PSK recipient count a single keyload may enumerate.
//   - MaxMessageSize (1MB): the absolute maximum for a fully-wrapped
//     message accepted by the transport layer.
//
// # Error Types
//
//   - ErrEmpty: returned when an empty value is provided where one is required.
//   - ErrTooLarge: returned when a value exceeds its maximum size; wrapped
//     with the offending size and the limit for diagnostics.
package limits
