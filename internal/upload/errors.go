package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the session is unknown or owned by another user.
	ErrNotFound = errors.New("upload: session not found")
	// ErrConflict indicates the session is no longer accepting the operation.
	ErrConflict = errors.New("upload: session not in uploading state")
	// ErrValidation indicates a malformed identifier or declaration.
	ErrValidation = errors.New("upload: invalid request")
	// ErrInvalidChunkIndex indicates an index outside [0, chunk_count).
	ErrInvalidChunkIndex = errors.New("upload: chunk index out of range")
	// ErrChunkTooLarge indicates a payload above the configured maximum.
	ErrChunkTooLarge = errors.New("upload: chunk exceeds maximum size")
	// ErrIncomplete indicates completion was attempted with chunks missing.
	ErrIncomplete = errors.New("upload: chunks missing")
)

// IncompleteError reports how many chunks a failed completion expected and
// how many receipts actually existed, so the client can retry the gap.
type IncompleteError struct {
	Expected int
	Actual   int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("upload: chunks missing: expected %d, got %d", e.Expected, e.Actual)
}

func (e *IncompleteError) Unwrap() error {
	return ErrIncomplete
}

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
