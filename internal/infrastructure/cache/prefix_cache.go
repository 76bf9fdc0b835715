// Package cache keeps active prefixes in process memory with PostgreSQL
// LISTEN/NOTIFY invalidation.
package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"codealloc/internal/core/code"
	"codealloc/internal/infrastructure/storage/postgres"
	"codealloc/pkg/logger"
)

// DefaultTTL bounds how long an entry is trusted when a notification is lost.
const DefaultTTL = 30 * time.Second

// PrefixResolver is the registry surface the cache fronts.
type PrefixResolver interface {
	CurrentPrefix(ctx context.Context, kind code.Kind) (*code.PrefixConfig, error)
	RotatePrefix(ctx context.Context, kind code.Kind, fields code.PrefixFields, reason string) (*code.PrefixConfig, error)
	History(ctx context.Context, kind code.Kind, limit int) ([]code.PrefixConfig, error)
}

// Stats are cache counters exposed on the info endpoint.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
	Entries       int    `json:"entries"`
}

type entry struct {
	cfg      code.PrefixConfig
	loadedAt time.Time
}

// PrefixCache serves CurrentPrefix from memory while the cached period is
// still current. Period rollover always goes through the upstream registry,
// so the compare-and-swap there stays the single point of coordination.
type PrefixCache struct {
	upstream PrefixResolver
	pool     *pgxpool.Pool
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[code.Kind]entry
	// gens and epoch move on every invalidation; a load started before one
	// must not be stored.
	gens  map[code.Kind]uint64
	epoch uint64

	hits, misses, invalidations atomic.Uint64

	// Lifecycle
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// Option configures a PrefixCache.
type Option func(*PrefixCache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *PrefixCache) { c.now = now }
}

// WithListener enables LISTEN on pool once Start is called.
func WithListener(pool *pgxpool.Pool) Option {
	return func(c *PrefixCache) { c.pool = pool }
}

// NewPrefixCache fronts upstream. A non-positive ttl uses DefaultTTL.
func NewPrefixCache(upstream PrefixResolver, ttl time.Duration, opts ...Option) *PrefixCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &PrefixCache{
		upstream: upstream,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[code.Kind]entry),
		gens:     make(map[code.Kind]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentPrefix returns the cached prefix of kind, loading it from upstream
// when absent, expired, or from an earlier period.
func (c *PrefixCache) CurrentPrefix(ctx context.Context, kind code.Kind) (*code.PrefixConfig, error) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[kind]
	gen, epoch := c.gens[kind], c.epoch
	c.mu.RUnlock()

	if ok && now.Sub(e.loadedAt) < c.ttl && !code.PeriodAfter(kind.PeriodFor(now), e.cfg.Period) {
		c.hits.Add(1)
		out := e.cfg
		return &out, nil
	}

	c.misses.Add(1)
	cfg, err := c.upstream.CurrentPrefix(ctx, kind)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gens[kind] == gen && c.epoch == epoch {
		// Keep the newer version when a concurrent load raced us.
		if cur, ok := c.entries[kind]; !ok || cur.cfg.Version <= cfg.Version {
			c.entries[kind] = entry{cfg: *cfg, loadedAt: now}
		}
	}
	c.mu.Unlock()
	return cfg, nil
}

// RotatePrefix rotates through upstream and drops the local entry.
func (c *PrefixCache) RotatePrefix(ctx context.Context, kind code.Kind, fields code.PrefixFields, reason string) (*code.PrefixConfig, error) {
	cfg, err := c.upstream.RotatePrefix(ctx, kind, fields, reason)
	c.Invalidate(kind)
	return cfg, err
}

// History is not cached.
func (c *PrefixCache) History(ctx context.Context, kind code.Kind, limit int) ([]code.PrefixConfig, error) {
	return c.upstream.History(ctx, kind, limit)
}

// Invalidate drops the entry of kind.
func (c *PrefixCache) Invalidate(kind code.Kind) {
	c.mu.Lock()
	delete(c.entries, kind)
	c.gens[kind]++
	c.mu.Unlock()
	c.invalidations.Add(1)
}

// InvalidateAll drops every entry.
func (c *PrefixCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[code.Kind]entry)
	c.epoch++
	c.mu.Unlock()
	c.invalidations.Add(1)
}

// Stats returns a snapshot of the cache counters.
func (c *PrefixCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Entries:       n,
	}
}

// Start begins listening for prefix change notifications. Without a
// listener pool it only relies on the TTL.
func (c *PrefixCache) Start(ctx context.Context) {
	if c.pool == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.wg.Add(1)
	go c.listenLoop()
	logger.Info(c.ctx, "prefix cache started", "ttl", c.ttl.String())
}

// Stop gracefully stops the listener.
func (c *PrefixCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	logger.Info(context.Background(), "prefix cache stopped")
}

func (c *PrefixCache) listenLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		// Dedicated connection for LISTEN
		conn, err := c.pool.Acquire(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			logger.Error(c.ctx, "failed to acquire connection for LISTEN", "error", err)
			c.sleep(time.Second)
			continue
		}

		if _, err = conn.Exec(c.ctx, "LISTEN "+postgres.PrefixChangedChannel); err != nil {
			logger.Error(c.ctx, "failed to LISTEN", "channel", postgres.PrefixChangedChannel, "error", err)
			conn.Release()
			c.sleep(time.Second)
			continue
		}

		// Anything published while we were not subscribed is lost.
		c.InvalidateAll()
		logger.Info(c.ctx, "listening for prefix notifications", "channel", postgres.PrefixChangedChannel)

		c.waitForNotifications(conn)
		// The session still holds the LISTEN; do not return it to the pool.
		conn.Hijack().Close(context.Background())
	}
}

func (c *PrefixCache) waitForNotifications(conn *pgxpool.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		notification, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if conn.Conn().IsClosed() {
				logger.Warn(c.ctx, "LISTEN connection lost", "error", err)
				return
			}
			continue
		}

		logger.Debug(c.ctx, "received notification",
			"channel", notification.Channel,
			"payload", notification.Payload)
		c.HandleNotification(notification.Channel, notification.Payload)
	}
}

// HandleNotification applies one NOTIFY event. The payload is the kind; an
// unrecognized payload drops everything.
func (c *PrefixCache) HandleNotification(channel, payload string) {
	if channel != postgres.PrefixChangedChannel {
		return
	}
	kind, err := code.ParseKind(strings.TrimSpace(payload))
	if err != nil {
		c.InvalidateAll()
		return
	}
	c.Invalidate(kind)
}

func (c *PrefixCache) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
	case <-t.C:
	}
}
