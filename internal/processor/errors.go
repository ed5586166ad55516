package processor

import (
	"errors"
	"fmt"
)

// ErrNotPending is returned by Process when the durable record is no longer
// PENDING: it was cancelled, or another delivery already claimed it.
var ErrNotPending = errors.New("transaction is not pending")

// ErrInterrupted is returned by Process when its context ended the run
// before any balance step applied. The record is PENDING again.
var ErrInterrupted = errors.New("processing interrupted")

// ValidationError is a business-rule rejection. It is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a business-rule rejection.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
