package payment

import (
	"errors"
	"fmt"

	"clubdues/internal/domain/calendar"
)

// Domain errors. Validation errors are wrapped with request detail via %w.
var (
	ErrInvalidStatus = errors.New("invalid payment status")
	ErrOutOfRange    = errors.New("month outside session billing period")
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid payment request")

	// ErrInvalidRange is the calendar error for malformed session bounds.
	ErrInvalidRange = calendar.ErrInvalidRange
)

// StorageError is an opaque persistence failure. It is surfaced to callers as-is
// and never retried.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidRange)
}
