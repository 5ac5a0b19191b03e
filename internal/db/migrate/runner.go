// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Svyat0y/form-builder-backend/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// Run applies migrations for driver in the given direction. For postgres dsn is the
// connection URL; for sqlite it is the database file path.
// direction must be "up" or "down". Returns nil on success and when already at the target.
func Run(driver, dsn, direction string) error {
	if strings.TrimSpace(dsn) == "" {
		return errors.New("database location is not set; set DATABASE_URL (postgres) or SQLITE_PATH (sqlite)")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	url, err := databaseURL(driver, dsn)
	if err != nil {
		return err
	}

	sourceDriver, err := iofs.New(db.MigrationFS, db.MigrationDir(driver))
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, url)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func databaseURL(driver, dsn string) (string, error) {
	switch driver {
	case db.DriverPostgres:
		return dsn, nil
	case db.DriverSQLite:
		return "sqlite://" + db.SQLiteDSN(dsn), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}
