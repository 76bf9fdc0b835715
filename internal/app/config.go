// Package app assembles the allocation service from environment
// configuration. The server, worker and codectl binaries share it.
package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"codealloc/internal/core/code"
	"codealloc/internal/domain/allocation"
)

// Backend names accepted by SEQUENCE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config is the process configuration.
type Config struct {
	DatabaseURL string
	Port        string
	Env         string
	LogLevel    string

	// Backend selects where sequence counters live
	Backend        string
	RedisAddr      string
	StorageTimeout time.Duration

	MaxBatch uint64

	// AdminJWTSecret enables bearer authentication on admin routes
	AdminJWTSecret string

	IdempotencyEnabled bool
	IdempotencyTTL     time.Duration

	// Defaults initialize a kind on first use
	Defaults map[code.Kind]code.PrefixFields

	MetricsEnabled bool

	// PrefixCacheTTL enables the in-process prefix cache when positive.
	// Only used with Postgres, which publishes prefix changes.
	PrefixCacheTTL time.Duration
}

// Development reports whether APP_ENV is development.
func (c Config) Development() bool {
	return c.Env == "development"
}

// UsesPostgres reports whether a database connection is needed.
func (c Config) UsesPostgres() bool {
	return c.Backend == BackendPostgres || (c.Backend == BackendRedis && c.DatabaseURL != "")
}

// LoadEnv reads .env when present and then the process environment.
func LoadEnv() (Config, error) {
	_ = godotenv.Load(".env")
	return LoadConfig(os.Getenv)
}

// LoadConfig builds a Config from lookup, typically os.Getenv.
func LoadConfig(lookup func(string) string) (Config, error) {
	e := env(lookup)
	cfg := Config{
		DatabaseURL:        e.str("DATABASE_URL", ""),
		Port:               e.str("APP_PORT", "8080"),
		Env:                e.str("APP_ENV", "development"),
		LogLevel:           e.str("LOG_LEVEL", "info"),
		Backend:            strings.ToLower(e.str("SEQUENCE_BACKEND", BackendPostgres)),
		RedisAddr:          e.str("REDIS_ADDR", ""),
		StorageTimeout:     e.duration("STORAGE_TIMEOUT", 2*time.Second),
		AdminJWTSecret:     e.str("ADMIN_JWT_SECRET", ""),
		IdempotencyEnabled: e.bool("IDEMPOTENCY_ENABLED", false),
		IdempotencyTTL:     e.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		MetricsEnabled:     e.bool("METRICS_ENABLED", true),
		PrefixCacheTTL:     e.duration("PREFIX_CACHE_TTL", 30*time.Second),
		Defaults:           map[code.Kind]code.PrefixFields{},
	}

	maxBatch := e.int("MAX_BATCH", allocation.DefaultMaxBatch)
	if maxBatch <= 0 {
		return cfg, fmt.Errorf("MAX_BATCH must be positive, got %d", maxBatch)
	}
	cfg.MaxBatch = uint64(maxBatch)

	country, registrant := e.str("DEFAULT_ISRC_COUNTRY", ""), e.str("DEFAULT_ISRC_REGISTRANT", "")
	if country != "" || registrant != "" {
		cfg.Defaults[code.KindISRC] = code.PrefixFields{CountryCode: country, RegistrantCode: registrant}
	}
	if m := e.str("DEFAULT_UPC_MANUFACTURER", ""); m != "" {
		cfg.Defaults[code.KindUPC] = code.PrefixFields{ManufacturerCode: m}
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Backend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s backend", c.Backend)
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the %s backend", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown SEQUENCE_BACKEND %q", c.Backend)
	}
	// Misconfigured defaults surface at startup, not on the first allocation.
	for kind, fields := range c.Defaults {
		if err := code.ValidatePrefixFields(kind, fields); err != nil {
			return fmt.Errorf("default %s prefix: %w", kind, err)
		}
	}
	return nil
}

type env func(string) string

func (e env) str(key, defaultValue string) string {
	if value := e(key); value != "" {
		return value
	}
	return defaultValue
}

func (e env) int(key string, defaultValue int) int {
	if value := e(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func (e env) duration(key string, defaultValue time.Duration) time.Duration {
	if value := e(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (e env) bool(key string, defaultValue bool) bool {
	if value := e(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
