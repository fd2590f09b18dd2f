package storage

import "testing"

func TestChunkPathIsStable(t *testing.T) {
	first := ChunkPath("user-1", "0199aa00-upload", 7)
	second := ChunkPath("user-1", "0199aa00-upload", 7)
	if first != second {
		t.Fatalf("path derivation not stable: %q vs %q", first, second)
	}
	if first != "user-1/01/0199aa00-upload/chunk_00007" {
		t.Fatalf("unexpected path layout: %q", first)
	}
}

func TestChunkPathZeroPadsIndex(t *testing.T) {
	path := ChunkPath("user-1", "ab-session", 0)
	if path != "user-1/ab/ab-session/chunk_00000" {
		t.Fatalf("unexpected path: %q", path)
	}
	wide := ChunkPath("user-1", "ab-session", 123456)
	if wide != "user-1/ab/ab-session/chunk_123456" {
		t.Fatalf("unexpected wide-index path: %q", wide)
	}
}

func TestChunkPathDisjointAcrossTuples(t *testing.T) {
	paths := map[string]string{}
	tuples := []struct {
		user    string
		session string
		index   int
	}{
		{"user-1", "aaaa-session", 0},
		{"user-1", "aaaa-session", 1},
		{"user-1", "bbbb-session", 0},
		{"user-2", "aaaa-session", 0},
		{"user-2", "bbbb-session", 1},
	}
	for _, tuple := range tuples {
		path := ChunkPath(tuple.user, tuple.session, tuple.index)
		if prior, ok := paths[path]; ok {
			t.Fatalf("path collision: %q for %v and %s", path, tuple, prior)
		}
		paths[path] = tuple.user
	}
}

func TestChunkPathShortSessionID(t *testing.T) {
	path := ChunkPath("u", "a", 3)
	if path != "u/a/a/chunk_00003" {
		t.Fatalf("unexpected path for short session id: %q", path)
	}
}
