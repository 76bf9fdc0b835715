// Package main is the entry point for the background maintenance worker.
// It rolls prefixes over proactively at period boundaries and expires
// idempotency keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codealloc/internal/app"
	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	"codealloc/pkg/logger"
)

func main() {
	cfg, err := app.LoadEnv()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting codealloc worker")

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to initialize storage", "error", err)
	}
	defer a.Close()

	w := NewWorker(a.Registry, log)
	if a.Idempotency != nil {
		w.cleaner = a.Idempotency
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// PrefixResolver resolves, and if needed rolls over, the active prefix.
type PrefixResolver interface {
	CurrentPrefix(ctx context.Context, kind code.Kind) (*code.PrefixConfig, error)
}

// ExpiredCleaner deletes expired idempotency keys.
type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Worker runs periodic maintenance.
type Worker struct {
	prefixes PrefixResolver
	cleaner  ExpiredCleaner
	log      *logger.Logger

	rolloverInterval time.Duration
	cleanupInterval  time.Duration
}

// NewWorker creates a worker. Cleanup is skipped until a cleaner is set.
func NewWorker(prefixes PrefixResolver, log *logger.Logger) *Worker {
	return &Worker{
		prefixes:         prefixes,
		log:              log.WithComponent("worker"),
		rolloverInterval: time.Minute,
		cleanupInterval:  time.Hour,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	rollover := time.NewTicker(w.rolloverInterval)
	defer rollover.Stop()
	cleanup := time.NewTicker(w.cleanupInterval)
	defer cleanup.Stop()

	w.rollover(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-rollover.C:
			w.rollover(ctx)
		case <-cleanup.C:
			w.cleanupIdempotency(ctx)
		}
	}
}

// rollover touches every kind so the first request of a new period does not
// pay for the rotation.
func (w *Worker) rollover(ctx context.Context) {
	for _, kind := range code.Kinds() {
		cfg, err := w.prefixes.CurrentPrefix(ctx, kind)
		switch {
		case err == nil:
			w.log.Debugw("prefix checked", "kind", kind, "sequence_key", cfg.Key().String())
		case apperror.IsConfigMissing(err):
			w.log.Debugw("kind not configured", "kind", kind)
		default:
			w.log.Errorw("prefix rollover failed", "kind", kind, "error", err)
		}
	}
}

func (w *Worker) cleanupIdempotency(ctx context.Context) {
	if w.cleaner == nil {
		return
	}
	n, err := w.cleaner.CleanupExpired(ctx)
	if err != nil {
		w.log.Errorw("idempotency cleanup failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Infow("cleaned up idempotency keys", "count", n)
	}
}
