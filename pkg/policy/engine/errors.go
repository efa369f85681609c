package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrInvalidRequest indicates a transaction context that cannot be evaluated.
	ErrInvalidRequest = errors.New("invalid evaluation request")

	// ErrTransactionNotFound indicates Confirm for a transaction with no held reservations.
	ErrTransactionNotFound = errors.New("no pending reservations for transaction")

	// ErrClosed indicates the engine has been closed.
	ErrClosed = errors.New("engine closed")
)

// RequestError describes why a transaction context was rejected.
type RequestError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidRequest.
func (e *RequestError) Unwrap() error {
	return ErrInvalidRequest
}
