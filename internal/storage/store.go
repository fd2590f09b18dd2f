package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrBlobNotFound indicates that no blob exists at the requested path.
var ErrBlobNotFound = errors.New("storage: blob not found")

// StorageError wraps a backend I/O failure with the operation and path involved.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ChunkStore is the contract every blob backend satisfies. Implementations
// are stateless and safe for concurrent use; the selected backend is
// constructed once at startup and shared.
type ChunkStore interface {
	// Write stores data at path, overwriting any existing blob.
	Write(ctx context.Context, path string, data []byte) error
	// Read returns the blob at path, or an error wrapping ErrBlobNotFound.
	Read(ctx context.Context, path string) ([]byte, error)
	// Delete removes the blob at path; deleting an absent blob is a no-op.
	Delete(ctx context.Context, path string) error
	// Exists reports whether a blob is present at path. Absence is
	// (false, nil); a backend failure is (false, err) so callers can tell
	// a missing blob from an unreachable backend.
	Exists(ctx context.Context, path string) (bool, error)
}

// ChunkPath derives the storage path for a chunk. The layout is
// {user_id}/{session_id[:2]}/{session_id}/chunk_{index:05d}; the
// two-character prefix bounds how many entries a single directory or
// object-store prefix must hold. The derivation is identical across
// backends and stable for a given (user, session, index).
func ChunkPath(userID, sessionID string, chunkIndex int) string {
	prefix := sessionID
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return fmt.Sprintf("%s/%s/%s/chunk_%05d", userID, prefix, sessionID, chunkIndex)
}
