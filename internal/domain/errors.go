package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across store adapters and the repository. Callers
// classify failures with errors.Is; adapters wrap these with context via
// fmt.Errorf and %w.
var (
	// ErrNotFound means a referenced identifier does not exist at read or
	// delete time.
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated means no owner identity was resolved; every
	// operation fails immediately with it.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrStoreUnavailable is a transient connectivity or I/O failure.
	// Retrying with backoff is safe.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConflict means a guarded read-modify-write lost its race past the
	// store's retry budget. Nothing was applied.
	ErrConflict = errors.New("concurrency conflict")
)

// ValidationError describes a malformed entity rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for the given field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
