package db

import "embed"

// MigrationFS embeds SQL migration files for both dialects, one directory per driver.
// Used by the migrate runner (cmd/migrate and SQLite auto-migrate on startup).
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var MigrationFS embed.FS

// MigrationDir returns the directory within MigrationFS holding the migrations for driver.
func MigrationDir(driver string) string {
	return "migrations/" + driver
}
