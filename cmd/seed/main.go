// seed creates the SUPER_ADMIN account from SEED_EMAIL, SEED_PASSWORD and SEED_NAME.
// Idempotent: an existing account with that email is promoted instead.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Svyat0y/form-builder-backend/internal/config"
	"github.com/Svyat0y/form-builder-backend/internal/db"
	identityrepo "github.com/Svyat0y/form-builder-backend/internal/identity/repository"
	identityservice "github.com/Svyat0y/form-builder-backend/internal/identity/service"
	"github.com/Svyat0y/form-builder-backend/internal/platform/logger"
	"github.com/Svyat0y/form-builder-backend/internal/security"
	sessionrepo "github.com/Svyat0y/form-builder-backend/internal/session/repository"
	userdomain "github.com/Svyat0y/form-builder-backend/internal/user/domain"
	userrepo "github.com/Svyat0y/form-builder-backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Dev: cfg.LogDev})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	email := strings.ToLower(strings.TrimSpace(cfg.SeedEmail))
	if email == "" || cfg.SeedPassword == "" {
		log.Fatal("seed: SEED_EMAIL and SEED_PASSWORD are required")
	}
	name := cfg.SeedName
	if name == "" {
		name = "Super Admin"
	}

	dsn := cfg.DatabaseURL
	if cfg.DatabaseDriver == config.DriverSQLite {
		dsn = cfg.SQLitePath
	}
	conn, err := db.Open(cfg.DatabaseDriver, dsn)
	if err != nil {
		log.Fatal("seed: open database", zap.Error(err))
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users := userrepo.NewSQLRepository(conn)
	auth := identityservice.NewAuthService(users, identityrepo.NewSQLRepository(conn), sessionrepo.NewSQLRepository(conn),
		security.NewHasher(cfg.BcryptCost), nil, identityservice.Options{Logger: log})

	u, err := users.GetByEmail(ctx, email)
	if err != nil {
		log.Fatal("seed: lookup", zap.Error(err))
	}
	if u == nil {
		u, err = auth.Register(ctx, identityservice.RegisterInput{Email: email, Name: name, Password: cfg.SeedPassword})
		if err != nil {
			log.Fatal("seed: register", zap.Error(err))
		}
		log.Info("seed: created user", zap.String("user_id", u.ID), zap.String("email", u.Email))
	}
	if u.Role == userdomain.RoleSuperAdmin {
		log.Info("seed: super admin already present", zap.String("email", u.Email))
		return
	}
	if _, err := users.UpdateRole(ctx, u.ID, userdomain.RoleSuperAdmin); err != nil {
		log.Fatal("seed: promote", zap.Error(err))
	}
	log.Info("seed: promoted to SUPER_ADMIN", zap.String("user_id", u.ID))
}
