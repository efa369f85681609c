package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateRecord is returned when a record ID is stored twice.
	ErrDuplicateRecord = errors.New("audit record already exists")

	// ErrChainBroken is returned by VerifyChain when a hash link does not hold.
	ErrChainBroken = errors.New("audit hash chain broken")
)

// StorageError represents an error from a storage backend.
type StorageError struct {
	Backend   string // "memory", "sqlite"
	Operation string // "store", "query", "delete", ...
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// QueryError represents an invalid query.
type QueryError struct {
	Query *Query
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %v", e.Cause)
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

// NewQueryError creates a new QueryError.
func NewQueryError(query *Query, cause error) *QueryError {
	return &QueryError{
		Query: query,
		Cause: cause,
	}
}

// RecorderError represents a record that could not be accepted for writing.
type RecorderError struct {
	RecordID string
	Cause    error
}

func (e *RecorderError) Error() string {
	return fmt.Sprintf("recorder error [record_id=%s]: %v", e.RecordID, e.Cause)
}

func (e *RecorderError) Unwrap() error {
	return e.Cause
}

// NewRecorderError creates a new RecorderError.
func NewRecorderError(recordID string, cause error) *RecorderError {
	return &RecorderError{
		RecordID: recordID,
		Cause:    cause,
	}
}

// ChainError locates the first record whose hash link does not hold.
type ChainError struct {
	Index    int
	RecordID string
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit hash chain broken at index %d (record %s): %s", e.Index, e.RecordID, e.Reason)
}

func (e *ChainError) Unwrap() error {
	return ErrChainBroken
}
