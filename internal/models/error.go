package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced by the auth core
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTwoFactorRequired  = errors.New("two-factor authentication required")
	ErrTwoFactorInvalid   = errors.New("invalid two-factor code")
	ErrConflict           = errors.New("resource already exists")
	ErrTransient          = errors.New("temporarily unavailable")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal server error")

	// Never leaves the session registry: resolved by eviction
	ErrSessionLimitReached = errors.New("session limit reached")

	// Store-level conditions
	ErrNotFound   = errors.New("resource not found")
	ErrStaleWrite = errors.New("record was modified concurrently")
)

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// LockedError carries the time left before a locked account reopens.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return ErrAccountLocked.Error()
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// TransientError marks a store failure the caller may retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}
