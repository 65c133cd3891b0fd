// Package ledger holds the installment credit rules: schedule generation,
// the monthly disbursement limit guard, payment reconciliation and
// manifest aggregation. Everything here is pure; persistence is the
// caller's job through the repository port.
package ledger

import "errors"

// Error kinds surfaced to callers. Layers wrap these with fmt.Errorf and
// %w; the HTTP boundary matches them with errors.Is.
var (
	// ErrValidation marks malformed or out-of-range input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrLimitExceeded marks a disbursement limit guard rejection.
	ErrLimitExceeded = errors.New("monthly lending limit exceeded")

	// ErrNotFound marks a missing referenced entity.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a lost concurrent-mutation race. Callers retry
	// the whole logical operation, never a stale patch.
	ErrConflict = errors.New("conflict")

	// ErrStoreUnavailable marks a transient store failure. Retryable by
	// the caller with backoff; nothing in this codebase retries silently.
	ErrStoreUnavailable = errors.New("store unavailable")
)
