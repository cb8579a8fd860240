package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors shared across the service
var (
	// ErrConcurrency is returned when an append races with another writer
	// on the same stream. Callers reload the aggregate and reapply.
	ErrConcurrency = errors.New("concurrency conflict: stream version mismatch")

	// ErrNotFound is returned when an aggregate has no stream yet.
	ErrNotFound = errors.New("aggregate not found")

	// ErrPoisonMessage marks a message that can never be processed
	// (malformed payload, unknown type). These are dead-lettered, never requeued.
	ErrPoisonMessage = errors.New("poison message")
)

// ValidationError rejects a command before any state change. Non-retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidationError reports whether err is a command validation failure
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
