package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *FilesystemStore {
	t.Helper()
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func TestFilesystemWriteCreatesParentDirectories(t *testing.T) {
	store := newTestStore(t)
	path := ChunkPath("user-1", "deadbeef-session", 0)

	if err := store.Write(context.Background(), path, []byte("ciphertext")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	data, err := store.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if !bytes.Equal(data, []byte("ciphertext")) {
		t.Fatalf("unexpected blob contents: %q", data)
	}
}

func TestFilesystemWriteOverwrites(t *testing.T) {
	store := newTestStore(t)
	path := "user-1/ab/ab-session/chunk_00001"

	if err := store.Write(context.Background(), path, []byte("first")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := store.Write(context.Background(), path, []byte("second")); err != nil {
		t.Fatalf("unexpected overwrite error: %v", err)
	}

	data, err := store.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("expected overwritten contents, got %q", data)
	}
}

func TestFilesystemReadMissingBlob(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Read(context.Background(), "user-1/ab/ab-session/chunk_00000")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestFilesystemDeleteAbsentBlobIsNoOp(t *testing.T) {
	store := newTestStore(t)

	if err := store.Delete(context.Background(), "user-1/ab/ab-session/chunk_00000"); err != nil {
		t.Fatalf("expected nil for absent delete, got %v", err)
	}
}

func TestFilesystemDeleteRemovesBlob(t *testing.T) {
	store := newTestStore(t)
	path := "user-1/ab/ab-session/chunk_00002"

	if err := store.Write(context.Background(), path, []byte("data")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := store.Delete(context.Background(), path); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	exists, err := store.Exists(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected exists error: %v", err)
	}
	if exists {
		t.Fatalf("blob should be gone after delete")
	}
}

func TestFilesystemExistsDistinguishesAbsence(t *testing.T) {
	store := newTestStore(t)
	path := "user-1/ab/ab-session/chunk_00003"

	exists, err := store.Exists(context.Background(), path)
	if err != nil {
		t.Fatalf("absence must not be an error, got %v", err)
	}
	if exists {
		t.Fatalf("expected absent blob")
	}

	if err := store.Write(context.Background(), path, []byte("data")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	exists, err = store.Exists(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected exists error: %v", err)
	}
	if !exists {
		t.Fatalf("expected blob to exist")
	}
}

func TestNewFilesystemStoreRequiresRoot(t *testing.T) {
	if _, err := NewFilesystemStore("   "); err == nil {
		t.Fatalf("expected error for blank root")
	}
}

func TestFilesystemResolveStaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewFilesystemStore(root)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	path := ChunkPath("user-1", "cdef-session", 4)
	if err := store.Write(context.Background(), path, []byte("data")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	onDisk := filepath.Join(root, "user-1", "cd", "cdef-session", "chunk_00004")
	if _, err := os.Stat(onDisk); err != nil {
		t.Fatalf("blob not at expected location: %v", err)
	}
}
