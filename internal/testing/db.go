// Package testing provides test helpers shared across packages.
package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/instrument-sync/internal/database"
	"github.com/aristath/instrument-sync/internal/storage"
	"github.com/rs/zerolog"
)

// NewTestDB creates a migrated SQLite database in a temporary file.
// Each call gets an isolated file; it is closed and removed when the test ends.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	tmpPath := filepath.Join(t.TempDir(), "test_"+name+".db")

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	t.Cleanup(func() {
		// Already closed by a store under test is fine
		_ = db.Close()
		_ = os.Remove(tmpPath)
	})

	return db
}

// NewTestStore returns a store backed by NewTestDB
func NewTestStore(t *testing.T) *storage.Store {
	t.Helper()
	return storage.NewSQLiteStore(NewTestDB(t, "instruments"), zerolog.Nop())
}

// WriteTickersFile writes lines to a temporary identifier file and returns its path
func WriteTickersFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "t.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write tickers file: %v", err)
	}
	return path
}
