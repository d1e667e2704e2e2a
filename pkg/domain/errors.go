package domain

import (
	"errors"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrRasterization = errors.New("rasterization failed")
	ErrEncoding      = errors.New("encoding failed")
	ErrStorage       = errors.New("storage failure")
	ErrPersistence   = errors.New("persistence failure")
	ErrNotFound      = errors.New("not found")
)

// ValidationError is a user-facing input error.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError with the given message.
func Invalid(msg string) error {
	return &ValidationError{Message: msg}
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
