package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrTransient         = errors.New("transient backend failure")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid conversation transition")
	ErrNotParticipant    = errors.New("user is not a participant of this conversation")
	ErrContractViolation = errors.New("scoring oracle response violates contract")
	ErrUnauthenticated   = errors.New("no current user session")
)

// ValidationError names the offending field so callers can surface it inline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
