package testutil

import (
	"testing"

	"ndr-go/internal/database"
)

// NewTestDatabase creates a migrated in-memory SQLite archive index that is
// closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
