package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrSyncInProgress = errors.New("sync cycle already in progress")
	ErrLockHeld       = errors.New("lock already held")
)

// ValidationError reports a rejected input. It is always surfaced to the
// caller and never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InsufficientLotsError is returned when a sell exceeds the total quantity
// available across a symbol's lots. Short positions are not modeled.
type InsufficientLotsError struct {
	Symbol    string
	Requested int64
	Available int64
}

func (e *InsufficientLotsError) Error() string {
	return fmt.Sprintf("insufficient lots for %s: requested %d, available %d",
		e.Symbol, e.Requested, e.Available)
}
