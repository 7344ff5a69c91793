package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure: no infrastructure dependency.

var (
	// Lookup errors
	ErrNotFound           = errors.New("not found")
	ErrUnknownAchievement = errors.New("unknown achievement code")
	ErrUserNotFound       = errors.New("user not found")

	// Validation errors
	ErrInvalidAmount   = errors.New("xp amount must be a non-negative integer")
	ErrAmountTooLarge  = errors.New("xp amount exceeds the per-award maximum")
	ErrXPOverflow      = errors.New("lifetime xp would exceed the supported maximum")
	ErrInvalidScope    = errors.New("invalid streak scope")
	ErrInvalidActivity = errors.New("invalid activity event")
	ErrInvalidEntity   = errors.New("invalid tracked entity")
	ErrMissingUser     = errors.New("user id is required")

	// Concurrency errors
	ErrConflict      = errors.New("concurrent update conflict")
	ErrAlreadyEarned = errors.New("achievement already earned")
)

// ValidationError reports a rejected input before any write happened.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid wraps err as a validation failure on field.
func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
