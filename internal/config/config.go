// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers accepted by DATABASE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// minSecretLen is the minimum JWT_SECRET length in bytes for HS256.
const minSecretLen = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :3000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the optional address for the gRPC health endpoint; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment ("development", "production"). Secure cookies are set only in production.
	Env string `mapstructure:"APP_ENV"`

	// DatabaseDriver selects the store: "postgres" or "sqlite".
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	// DatabaseURL is the Postgres DSN; required when DatabaseDriver is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SQLitePath is the SQLite database file; required when DatabaseDriver is sqlite.
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	// RedisURL is an optional redis:// URL used to debounce session last-used updates.
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTSecret is the HS256 signing secret. Either it or the key pair below must be set.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "60m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// MaxActiveSessions caps concurrent non-revoked sessions per user.
	MaxActiveSessions int `mapstructure:"MAX_ACTIVE_SESSIONS"`
	// SessionTouchInterval is the minimum gap between last-used updates for one session (e.g. "1m").
	SessionTouchInterval string `mapstructure:"SESSION_TOUCH_INTERVAL"`
	// RequestTimeout bounds each HTTP request (e.g. "15s").
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`
	// PolicyDir is an optional directory of extra .rego modules loaded next to the built-in user policy.
	PolicyDir string `mapstructure:"POLICY_DIR"`
	// CORSOrigins is a comma-separated list of allowed origins; empty disables CORS headers.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogDev switches to the human-readable development logger.
	LogDev bool `mapstructure:"LOG_DEV"`
	// LogFile, when set, also writes logs to daily-rotated files with this path prefix.
	LogFile string `mapstructure:"LOG_FILE"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty uses no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Telemetry (optional). When Kafka brokers are set, auth events are also written to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for auth events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the worker's event forwarder.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the worker pushes auth events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// CleanupInterval is how often the worker purges expired and revoked sessions.
	CleanupInterval string `mapstructure:"CLEANUP_INTERVAL"`
	// CleanupKeepRevoked is how many of each user's most recent revoked sessions survive a purge.
	CleanupKeepRevoked int `mapstructure:"CLEANUP_KEEP_REVOKED"`

	GoogleClientID       string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL    string `mapstructure:"GOOGLE_CALLBACK_URL"`
	FacebookClientID     string `mapstructure:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string `mapstructure:"FACEBOOK_CLIENT_SECRET"`
	FacebookCallbackURL  string `mapstructure:"FACEBOOK_CALLBACK_URL"`

	// Seed-only: the super admin account created by cmd/seed.
	SeedEmail    string `mapstructure:"SEED_EMAIL"`
	SeedPassword string `mapstructure:"SEED_PASSWORD"`
	SeedName     string `mapstructure:"SEED_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are
// invalid, including when no token signing material is configured.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATABASE_DRIVER", DriverPostgres)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "data/form-builder.db")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "form-builder-auth")
	v.SetDefault("JWT_AUDIENCE", "form-builder-api")
	v.SetDefault("JWT_ACCESS_TTL", "60m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("MAX_ACTIVE_SESSIONS", 10)
	v.SetDefault("SESSION_TOUCH_INTERVAL", "1m")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("POLICY_DIR", "")
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEV", false)
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "form-builder-auth-events")
	v.SetDefault("KAFKA_GROUP_ID", "form-builder-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("CLEANUP_INTERVAL", "1h")
	v.SetDefault("CLEANUP_KEEP_REVOKED", 5)
	for _, k := range []string{
		"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_CALLBACK_URL",
		"FACEBOOK_CLIENT_ID", "FACEBOOK_CLIENT_SECRET", "FACEBOOK_CALLBACK_URL",
		"SEED_EMAIL", "SEED_PASSWORD", "SEED_NAME",
	} {
		v.SetDefault(k, "")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, errors.New("config: DATABASE_DRIVER must be postgres or sqlite")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.MaxActiveSessions <= 0 {
		return nil, errors.New("config: MAX_ACTIVE_SESSIONS must be positive")
	}
	if cfg.CleanupKeepRevoked < 0 {
		return nil, errors.New("config: CLEANUP_KEEP_REVOKED must not be negative")
	}

	if err := cfg.validateSigning(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateSigning fails closed: tokens are never issued without signing material.
func (c *Config) validateSigning() error {
	hasPair := c.JWTPrivateKey != "" || c.JWTPublicKey != ""
	if hasPair {
		if c.JWTPrivateKey == "" || c.JWTPublicKey == "" {
			return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
		}
		return nil
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET (or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY) must be set")
	}
	if len(c.JWTSecret) < minSecretLen {
		return errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	return nil
}

// UsesKeyPair reports whether tokens are signed with an asymmetric key pair instead of JWT_SECRET.
func (c *Config) UsesKeyPair() bool {
	return c.JWTPrivateKey != "" && c.JWTPublicKey != ""
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 60m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 60*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// TouchInterval parses SessionTouchInterval. Returns 1m if unset or invalid.
func (c *Config) TouchInterval() time.Duration {
	return parseDuration(c.SessionTouchInterval, time.Minute)
}

// RequestTimeoutDuration parses RequestTimeout. Returns 15s if unset or invalid.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return parseDuration(c.RequestTimeout, 15*time.Second)
}

// CleanupEvery parses CleanupInterval. Returns 1h if unset or invalid.
func (c *Config) CleanupEvery() time.Duration {
	return parseDuration(c.CleanupInterval, time.Hour)
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka publishing is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

// CORSOriginList returns allowed CORS origins from the comma-separated config.
func (c *Config) CORSOriginList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSOrigins)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
