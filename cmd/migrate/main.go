// migrate applies the embedded SQL migrations to the configured database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/Svyat0y/form-builder-backend/internal/config"
	"github.com/Svyat0y/form-builder-backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	dsn := cfg.DatabaseURL
	if cfg.DatabaseDriver == config.DriverSQLite {
		dsn = cfg.SQLitePath
	}
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL (or SQLITE_PATH for sqlite) is not set")
		os.Exit(1)
	}

	if err := migrate.Run(cfg.DatabaseDriver, dsn, *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
