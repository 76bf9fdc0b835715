package app

import (
	"context"
	"fmt"

	"codealloc/internal/core/tx"
	"codealloc/internal/domain/allocation"
	"codealloc/internal/domain/auth"
	"codealloc/internal/domain/prefix"
	"codealloc/internal/infrastructure/cache"
	"codealloc/internal/infrastructure/metrics"
	"codealloc/internal/infrastructure/storage/memory"
	"codealloc/internal/infrastructure/storage/postgres"
	"codealloc/internal/infrastructure/storage/redis"
	"codealloc/pkg/logger"
)

// App holds the assembled components. Fields for storage a backend does not
// use are nil.
type App struct {
	Config Config

	Pool        *postgres.Pool
	TxManager   *postgres.TxManager
	Redis       *redis.Client
	Audit       *postgres.AuditLog
	Idempotency *postgres.IdempotencyStore

	Store    allocation.SequenceStore
	Registry *prefix.Registry
	// Prefixes fronts Registry with a cache when one is configured
	Prefixes cache.PrefixResolver
	Cache    *cache.PrefixCache
	Engine   *allocation.Service
	Metrics  *metrics.Metrics
	JWT      *auth.JWTService
}

// New connects the configured backend and builds the engine on top of it.
func New(ctx context.Context, cfg Config) (*App, error) {
	a := &App{Config: cfg}
	if cfg.MetricsEnabled {
		a.Metrics = metrics.New()
	}
	if cfg.AdminJWTSecret != "" {
		a.JWT = auth.NewJWTService(auth.DefaultJWTConfig(cfg.AdminJWTSecret))
	}

	if cfg.UsesPostgres() {
		pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.Pool = pool
		a.TxManager = postgres.NewTxManager(pool)
		audit, err := postgres.NewAuditLog(a.TxManager, cfg.StorageTimeout)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("audit log: %w", err)
		}
		a.Audit = audit
		a.Idempotency = postgres.NewIdempotencyStore(a.TxManager, cfg.IdempotencyTTL, cfg.StorageTimeout)
	}

	var (
		repo prefix.Repository
		txm  tx.Manager
	)
	if a.TxManager != nil {
		repo = postgres.NewPrefixRepo(a.TxManager, cfg.StorageTimeout)
		txm = a.TxManager
	} else {
		repo = memory.NewPrefixRepo()
	}

	switch cfg.Backend {
	case BackendPostgres:
		a.Store = postgres.NewSequenceStore(a.Pool, cfg.StorageTimeout)
	case BackendRedis:
		a.Redis = redis.NewClient(cfg.RedisAddr)
		if err := a.Redis.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Store = redis.NewSequenceStore(a.Redis, cfg.StorageTimeout)
	default:
		a.Store = memory.NewSequenceStore()
	}

	regCfg := prefix.Config{Defaults: cfg.Defaults, Timeout: cfg.StorageTimeout}
	engineCfg := allocation.Config{MaxBatch: cfg.MaxBatch}
	if a.Audit != nil {
		regCfg.Auditor = a.Audit
		engineCfg.Auditor = a.Audit
	}
	if a.Metrics != nil {
		engineCfg.Recorder = a.Metrics
	}
	a.Registry = prefix.NewRegistry(repo, txm, regCfg)
	a.Prefixes = a.Registry
	if a.Pool != nil && cfg.PrefixCacheTTL > 0 {
		a.Cache = cache.NewPrefixCache(a.Registry, cfg.PrefixCacheTTL, cache.WithListener(a.Pool.Pool))
		a.Prefixes = a.Cache
	}
	a.Engine = allocation.NewService(a.Prefixes, a.Store, engineCfg)

	logger.Info(ctx, "allocation engine ready",
		"backend", cfg.Backend,
		"postgres", a.Pool != nil,
		"audit", a.Audit != nil,
		"prefix_cache", a.Cache != nil,
		"max_batch", cfg.MaxBatch,
	)
	return a, nil
}

// Migrate applies the embedded schema. It is a no-op without Postgres.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	if a.TxManager == nil {
		return nil, nil
	}
	return postgres.Migrate(ctx, a.TxManager)
}

// Start runs background listeners of long-lived processes.
func (a *App) Start(ctx context.Context) {
	if a.Cache != nil {
		a.Cache.Start(ctx)
	}
}

// Close stops listeners and releases connections.
func (a *App) Close() {
	if a.Cache != nil {
		a.Cache.Stop()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn(context.Background(), "redis close failed", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
