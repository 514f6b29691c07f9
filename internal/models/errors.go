package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across store and server layers.
var (
	ErrNotFound       = errors.New("not found")
	ErrSessionStopped = errors.New("session already stopped")
)

// ValidationError marks a client-side input problem (missing field, unknown
// event type, oversized body, bad query parameter). The server maps these to
// 4xx responses and never logs them as system faults.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
