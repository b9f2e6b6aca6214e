// Package apperr holds the error taxonomy shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or out-of-range input (400).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing user, order or referral link (404).
	ErrNotFound = errors.New("not found")
	// ErrDeletionFailed marks a deletion transaction that could not commit (500).
	ErrDeletionFailed = errors.New("order deletion failed")
)

// Validation builds an ErrValidation with a user-facing reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrNotFound naming the missing entity.
func NotFound(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}

// InsufficientCreditsError is returned when a balance cannot cover a charge.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}
