package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var errMissingRoot = errors.New("storage: filesystem root is required")

// FilesystemStore keeps chunk blobs under a configured root directory on
// local disk.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates the root directory if necessary and returns a
// store rooted there.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errMissingRoot
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: root, Err: err}
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) resolve(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// Write stores data at path, creating parent directories on demand.
func (s *FilesystemStore) Write(_ context.Context, path string, data []byte) error {
	target := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := os.WriteFile(target, data, 0o640); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Read returns the blob contents at path.
func (s *FilesystemStore) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, path)
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// Delete removes the blob at path; an absent blob is not an error.
func (s *FilesystemStore) Delete(_ context.Context, path string) error {
	err := os.Remove(s.resolve(path))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return &StorageError{Op: "delete", Path: path, Err: err}
}

// Exists reports whether a blob is present at path.
func (s *FilesystemStore) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(s.resolve(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &StorageError{Op: "stat", Path: path, Err: err}
}
