// Package main is the entry point for the code allocation API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codealloc/internal/app"
	v1 "codealloc/internal/infrastructure/http/v1"
	"codealloc/internal/infrastructure/http/v1/handlers"
	"codealloc/pkg/logger"
)

var version = "dev"

func main() {
	cfg, err := app.LoadEnv()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting codealloc server", "version", version, "backend", cfg.Backend)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to initialize storage", "error", err)
	}
	defer a.Close()

	if applied, err := a.Migrate(ctx); err != nil {
		log.Fatalw("failed to apply migrations", "error", err)
	} else if len(applied) > 0 {
		log.Infow("migrations applied", "files", applied)
	}
	a.Start(ctx)

	// --- Health ---
	checks := map[string]handlers.Pinger{}
	if a.Pool != nil {
		checks["postgres"] = a.Pool
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis
	}
	health := handlers.NewHealthHandler(cfg.Backend, version, checks)
	if a.Pool != nil {
		health.WithStats("database", func() any { return a.Pool.Stats() })
	}
	if a.Cache != nil {
		health.WithStats("prefix_cache", func() any { return a.Cache.Stats() })
	}

	// --- Router ---
	routerCfg := v1.RouterConfig{
		Logger:   log,
		Engine:   a.Engine,
		Registry: a.Prefixes,
		Health:   health,
		Debug:    cfg.Development(),
	}
	if a.Audit != nil {
		routerCfg.Audit = a.Audit
	}
	if a.JWT != nil {
		routerCfg.JWTValidator = a.JWT
	} else {
		log.Warn("ADMIN_JWT_SECRET not set, admin routes are unauthenticated")
	}
	if cfg.IdempotencyEnabled {
		if a.Idempotency != nil {
			routerCfg.Idempotency = a.Idempotency
		} else {
			log.Warn("idempotency requires DATABASE_URL, X-Idempotency-Key is ignored")
		}
	}
	if a.Metrics != nil {
		routerCfg.Metrics = a.Metrics.Handler()
	}
	router := v1.NewRouter(routerCfg)

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
