package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record is absent. Handlers also map
// ownership mismatches to this error so callers cannot distinguish "missing"
// from "not yours".
var ErrNotFound = errors.New("record not found")

// ErrInvalidCredentials is returned when login verification fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrNotImplemented is returned by operations a resource deliberately does
// not support. Handlers map it to a 501 reply.
var ErrNotImplemented = errors.New("operation not implemented")

// ValidationError marks create/update input that is missing required fields
// or carries malformed values. Handlers map it to a 400 reply.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Validationf constructs a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
