// Package dbtest provides a migrated SQLite database for repository tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/Svyat0y/form-builder-backend/internal/db"
	"github.com/Svyat0y/form-builder-backend/internal/db/migrate"
	"github.com/jmoiron/sqlx"
)

// NewSQLite returns a freshly migrated SQLite database under t.TempDir. It is closed on cleanup.
func NewSQLite(t testing.TB) *sqlx.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	if err := migrate.Run(db.DriverSQLite, path, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
