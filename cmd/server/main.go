package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/Svyat0y/form-builder-backend/internal/audit"
	auditrepo "github.com/Svyat0y/form-builder-backend/internal/audit/repository"
	"github.com/Svyat0y/form-builder-backend/internal/config"
	"github.com/Svyat0y/form-builder-backend/internal/db"
	"github.com/Svyat0y/form-builder-backend/internal/db/migrate"
	healthhandler "github.com/Svyat0y/form-builder-backend/internal/health/handler"
	identityhandler "github.com/Svyat0y/form-builder-backend/internal/identity/handler"
	"github.com/Svyat0y/form-builder-backend/internal/identity/oauth"
	identityrepo "github.com/Svyat0y/form-builder-backend/internal/identity/repository"
	identityservice "github.com/Svyat0y/form-builder-backend/internal/identity/service"
	"github.com/Svyat0y/form-builder-backend/internal/platform/logger"
	"github.com/Svyat0y/form-builder-backend/internal/policy/engine"
	"github.com/Svyat0y/form-builder-backend/internal/security"
	"github.com/Svyat0y/form-builder-backend/internal/server"
	"github.com/Svyat0y/form-builder-backend/internal/server/middleware"
	sessionhandler "github.com/Svyat0y/form-builder-backend/internal/session/handler"
	sessionrepo "github.com/Svyat0y/form-builder-backend/internal/session/repository"
	"github.com/Svyat0y/form-builder-backend/internal/telemetry"
	telemetryotel "github.com/Svyat0y/form-builder-backend/internal/telemetry/otel"
	"github.com/Svyat0y/form-builder-backend/internal/telemetry/producer"
	userhandler "github.com/Svyat0y/form-builder-backend/internal/user/handler"
	userrepo "github.com/Svyat0y/form-builder-backend/internal/user/repository"
	userservice "github.com/Svyat0y/form-builder-backend/internal/user/service"
)

const (
	serviceName     = "form-builder-backend"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Dev: cfg.LogDev, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := cfg.DatabaseURL
	if cfg.DatabaseDriver == config.DriverSQLite {
		dsn = cfg.SQLitePath
		if err := migrate.Run(db.DriverSQLite, dsn, "up"); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	}
	conn, err := db.Open(cfg.DatabaseDriver, dsn)
	if err != nil {
		return err
	}
	defer conn.Close()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			log.Warn("otel shutdown", zap.Error(err))
		}
	}()
	metrics, err := telemetryotel.NewMetrics(providers.MeterProvider)
	if err != nil {
		return err
	}
	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider), metrics}
	if brokers := cfg.TelemetryKafkaBrokersList(); len(brokers) > 0 {
		kp := producer.NewKafkaProducer(brokers, cfg.TelemetryKafkaTopic, log)
		defer kp.Close()
		emitters = append(emitters, kp)
		log.Info("auth events published to kafka", zap.Strings("brokers", brokers), zap.String("topic", cfg.TelemetryKafkaTopic))
	}
	events := telemetry.Multi(emitters...)

	tokens, err := newTokenProvider(cfg)
	if err != nil {
		return err
	}

	users := userrepo.NewSQLRepository(conn)
	sessions := sessionrepo.NewSQLRepository(conn)
	audits := auditrepo.NewSQLRepository(conn)
	auditLogger := audit.NewLogger(audits, middleware.ClientIPFrom, log)

	touch, closeTouch, err := newTouchLimiter(cfg)
	if err != nil {
		return err
	}
	defer closeTouch()

	auth := identityservice.NewAuthService(users, identityrepo.NewSQLRepository(conn), sessions,
		security.NewHasher(cfg.BcryptCost), tokens, identityservice.Options{
			MaxActiveSessions: cfg.MaxActiveSessions,
			Audit:             auditLogger,
			Events:            events,
			Logger:            log,
		})

	extra, err := engine.LoadModules(cfg.PolicyDir)
	if err != nil {
		return err
	}
	policy, err := engine.NewOPAEvaluator(ctx, extra)
	if err != nil {
		return err
	}

	checker := healthhandler.NewChecker(conn, policy, log)
	registry := oauth.NewRegistry(
		oauth.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL),
		oauth.NewFacebook(cfg.FacebookClientID, cfg.FacebookClientSecret, cfg.FacebookCallbackURL),
	)

	router := server.NewRouter(server.Deps{
		Auth: identityhandler.NewAuthHandler(auth, identityhandler.RegistryProviders(registry),
			identityhandler.CookieConfig{Secure: cfg.IsProduction(), RefreshTTL: tokens.RefreshTTL()}, log),
		Users:          userhandler.NewUserHandler(userservice.NewUserService(users, audits, auth, policy, auditLogger, log), log),
		Sessions:       sessionhandler.NewSessionHandler(auth, log),
		Health:         checker,
		Authenticator:  middleware.NewAuthenticator(tokens, sessions, touch, users, log),
		Audit:          auditLogger,
		Tracer:         providers.TracerProvider.Tracer(serviceName),
		Metrics:        metrics,
		Events:         events,
		Logger:         log,
		CORSOrigins:    cfg.CORSOriginList(),
		RequestTimeout: cfg.RequestTimeoutDuration(),
	})

	errCh := make(chan error, 2)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = server.NewGRPCServer(checker)
		go func() {
			log.Info("grpc health server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	err = httpSrv.Shutdown(sctx)

	// Emitters and OTel providers close in deferred calls after this returns.
	dctx, dcancel := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
	defer dcancel()
	if !telemetry.Drain(dctx) {
		log.Warn("telemetry: async emits still pending at shutdown")
	}
	return err
}

func newTokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.UsesKeyPair() {
		signer, pub, err := security.ParseKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, err
		}
		return security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
	}
	return security.NewHMACTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
}

// newTouchLimiter uses Redis when REDIS_URL is set so the debounce holds across instances.
func newTouchLimiter(cfg *config.Config) (middleware.TouchLimiter, func(), error) {
	if cfg.RedisURL == "" {
		return sessionrepo.NewMemoryTouchLimiter(cfg.TouchInterval()), func() {}, nil
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := goredis.NewClient(opts)
	return sessionrepo.NewRedisTouchLimiter(client, cfg.TouchInterval()), func() { _ = client.Close() }, nil
}
