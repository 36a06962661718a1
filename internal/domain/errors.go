// Package domain holds the claim lifecycle types and canonical error types
// shared across the engine.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound reports an operation on an unknown or deleted claim. Callers
// decide whether to surface it or quietly stop (a poller tick for a
// since-deleted claim does the latter).
var ErrNotFound = errors.New("not found")

// ErrorType represents the category of an engine error.
type ErrorType string

const (
	// ErrorTypeNotFound indicates the claim (or message) does not exist.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeTransport indicates a network failure or non-2xx reply
	// from an external collaborator.
	ErrorTypeTransport ErrorType = "transport"

	// ErrorTypeNotAllowed indicates the lifecycle policy rejected an
	// operator action for the claim's current state.
	ErrorTypeNotAllowed ErrorType = "not_allowed"

	// ErrorTypeInvalidRequest indicates a malformed operator request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeServer indicates an internal failure.
	ErrorTypeServer ErrorType = "server"
)

// StateError is a canonical engine error that handlers can translate to an
// HTTP status.
type StateError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// NewStateError creates a StateError with the given type and message.
func NewStateError(t ErrorType, format string, args ...any) *StateError {
	return &StateError{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap lets errors.Is(err, ErrNotFound) work on not-found state errors.
func (e *StateError) Unwrap() error {
	if e.Type == ErrorTypeNotFound {
		return ErrNotFound
	}
	return nil
}

// HTTPStatusCode returns the HTTP status appropriate for the error type.
func (e *StateError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeNotAllowed:
		return http.StatusConflict
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
