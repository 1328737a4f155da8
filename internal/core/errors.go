package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDate      = errors.New("invalid date")
	ErrEmptyDescription = errors.New("empty description")
	ErrUnknownMember    = errors.New("unknown member")
	ErrAlreadySettled   = errors.New("expense already fully cleared")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("rejected by concurrent modification")
)

// OverclearingError is returned when a clearing amount exceeds the true
// remaining balance. It carries the remaining amount at the time of the
// check so callers can report the corrected figure instead of the
// possibly-stale one they started from.
type OverclearingError struct {
	Remaining Money
}

func (e *OverclearingError) Error() string {
	return fmt.Sprintf("amount exceeds remaining balance of %s", e.Remaining)
}

// TransportError wraps a network or authority-unreachable failure. The
// outcome of the wrapped operation is unknown: callers must resynchronize
// against the authority instead of retrying blindly.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is terminal for a single clearing
// operation. Validation errors are surfaced verbatim; they never trigger
// an automatic retry or resynchronization.
func IsValidationError(err error) bool {
	var oc *OverclearingError
	if errors.As(err, &oc) {
		return true
	}
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUnknownMember) ||
		errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrPermissionDenied)
}
