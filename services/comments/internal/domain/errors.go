package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrAccessDenied = errors.New("access denied")
	ErrNotFound     = errors.New("not found")
)

// Error is a caller-visible failure with a stable code and a human message.
type Error struct {
	Kind    error
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func Invalid(code, msg string) error {
	return &Error{Kind: ErrValidation, Code: code, Message: msg}
}

func Denied(code, msg string) error {
	return &Error{Kind: ErrAccessDenied, Code: code, Message: msg}
}

func NotFound(code, msg string) error {
	return &Error{Kind: ErrNotFound, Code: code, Message: msg}
}

// Invalidf is Invalid with a formatted message.
func Invalidf(code, format string, args ...any) error {
	return Invalid(code, fmt.Sprintf(format, args...))
}

// NotFoundf is NotFound with a formatted message.
func NotFoundf(code, format string, args ...any) error {
	return NotFound(code, fmt.Sprintf(format, args...))
}

// AsError extracts the *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
