package domain

import (
	"errors"
	"fmt"
)

// Error classes. Concrete errors wrap one of these so callers can branch with
// errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrStore        = errors.New("store unavailable")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("state conflict")
)

var (
	ErrNotAvailable   = fmt.Errorf("%w: the selected time is no longer available", ErrConflict)
	ErrSlotTaken      = fmt.Errorf("%w: this time slot is already booked", ErrNotAvailable)
	ErrFinalized      = fmt.Errorf("%w: booking is already finalized, no further changes allowed", ErrConflict)
	ErrNotPending     = fmt.Errorf("%w: only pending bookings can be changed", ErrConflict)
	ErrCodeExhausted  = errors.New("could not allocate a unique confirmation code")
	ErrDateMismatch   = errors.New("stored booking date does not match the requested date")
	ErrInvalidStatus  = fmt.Errorf("%w: status must be completed or cancelled", ErrValidation)
	ErrOutOfArea      = fmt.Errorf("%w: we don't currently service this ZIP code", ErrValidation)
	ErrDraftNotFound  = fmt.Errorf("%w: booking draft expired or does not exist", ErrNotFound)
	ErrRateLimited    = errors.New("too many requests")
	ErrDraftUnpriced  = fmt.Errorf("%w: select at least one service", ErrValidation)
	ErrDraftUnplanned = fmt.Errorf("%w: choose a date and time first", ErrValidation)
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StoreError marks a persistence failure.
func StoreError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
}

// FinalizedError carries the terminal status in its message.
func FinalizedError(status string) error {
	return fmt.Errorf("%w (booking is %s)", ErrFinalized, status)
}
