package models

import "errors"

// Error taxonomy shared by the storage, cache, chat and transport layers.
// Callers match with errors.Is; layers add context with fmt.Errorf("...: %w").
var (
	// ErrAuthenticationFailed means the handshake credential was missing,
	// malformed or expired. The connection is refused, no session is created.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAccessDenied means the user is not a participant of the target
	// conversation, or is not the sender of the message being mutated.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound means the referenced conversation or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the (conversation, idempotency key) pair was already
	// used. The store returns the original message alongside this error.
	ErrConflict = errors.New("duplicate idempotency key")

	// ErrInvalidTransition means a delivery status update would regress
	// (e.g. read -> delivered).
	ErrInvalidTransition = errors.New("invalid delivery status transition")

	// ErrDependencyUnavailable means the ephemeral cache could not serve the
	// call. Never surfaced to clients; every call site falls back to the
	// durable store.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
