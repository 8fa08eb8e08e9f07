package server

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the service matches exactly one of
// ErrValidation, ErrNotFound or ErrUpstream through errors.Is; adapters
// return the more specific ErrStorageUnavailable, ErrPersistence and
// ErrConfiguration.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrUpstream           = errors.New("upstream failure")
	ErrConfiguration      = errors.New("configuration error")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrPersistence        = errors.New("persistence error")
)

// Error is a classified error. Message is safe to return to API clients,
// Err holds the underlying cause and is only meant for logs.
type Error struct {
	Kind    error
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Is reports whether target is the kind of this error
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// clientMessage returns the client-safe message carried by err, or
// fallback if err is not classified.
func clientMessage(err error, fallback string) string {
	var classified *Error
	if errors.As(err, &classified) && classified.Message != "" {
		return classified.Message
	}
	return fallback
}
