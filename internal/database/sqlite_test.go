package database

import (
	"path/filepath"
	"testing"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zkvault.db")

	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close() //nolint:errcheck

	for _, table := range []string{"users", "devices", "backup_files", "chunks"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %q after migration", table)
		}
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
