package cache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	"codealloc/internal/domain/prefix"
	"codealloc/internal/infrastructure/cache"
	"codealloc/internal/infrastructure/storage/memory"
	"codealloc/internal/infrastructure/storage/postgres"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// countingRegistry counts upstream lookups.
type countingRegistry struct {
	*prefix.Registry
	lookups atomic.Int32
}

func (r *countingRegistry) CurrentPrefix(ctx context.Context, kind code.Kind) (*code.PrefixConfig, error) {
	r.lookups.Add(1)
	return r.Registry.CurrentPrefix(ctx, kind)
}

// pausingRegistry parks the first CurrentPrefix call after it has read
// from the registry until release is closed.
type pausingRegistry struct {
	*prefix.Registry
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (r *pausingRegistry) CurrentPrefix(ctx context.Context, kind code.Kind) (*code.PrefixConfig, error) {
	cfg, err := r.Registry.CurrentPrefix(ctx, kind)
	r.once.Do(func() {
		close(r.loaded)
		<-r.release
	})
	return cfg, err
}

func newRegistry(now func() time.Time) *prefix.Registry {
	return prefix.NewRegistry(memory.NewPrefixRepo(), nil, prefix.Config{
		Defaults: map[code.Kind]code.PrefixFields{
			code.KindISRC: {CountryCode: "US", RegistrantCode: "ABC"},
			code.KindUPC:  {ManufacturerCode: "012345"},
		},
		Clock: now,
	})
}

func setup(t *testing.T) (*cache.PrefixCache, *countingRegistry, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, time.December, 31, 23, 0, 0, 0, time.UTC)}
	upstream := &countingRegistry{Registry: newRegistry(clk.Now)}
	return cache.NewPrefixCache(upstream, time.Minute, cache.WithClock(clk.Now)), upstream, clk
}

func TestPrefixCache_ServesFromMemory(t *testing.T) {
	c, upstream, _ := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cfg, err := c.CurrentPrefix(ctx, code.KindISRC)
		require.NoError(t, err)
		assert.Equal(t, "ISRC/US-ABC/24", cfg.Key().String())
	}

	assert.EqualValues(t, 1, upstream.lookups.Load())
	stats := c.Stats()
	assert.EqualValues(t, 4, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestPrefixCache_ReturnsCopies(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()

	cfg, err := c.CurrentPrefix(ctx, code.KindUPC)
	require.NoError(t, err)
	cfg.ManufacturerCode = "999999"

	again, err := c.CurrentPrefix(ctx, code.KindUPC)
	require.NoError(t, err)
	assert.Equal(t, "012345", again.ManufacturerCode)
}

func TestPrefixCache_PeriodBoundaryBypassesCache(t *testing.T) {
	c, upstream, clk := setup(t)
	ctx := context.Background()

	_, err := c.CurrentPrefix(ctx, code.KindISRC)
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	cfg, err := c.CurrentPrefix(ctx, code.KindISRC)
	require.NoError(t, err)
	assert.Equal(t, "ISRC/US-ABC/25", cfg.Key().String())
	assert.EqualValues(t, 2, upstream.lookups.Load())
}

func TestPrefixCache_CenturyBoundaryBypassesCache(t *testing.T) {
	clk := &clock{t: time.Date(2099, time.December, 31, 23, 30, 0, 0, time.UTC)}
	upstream := &countingRegistry{Registry: newRegistry(clk.Now)}
	c := cache.NewPrefixCache(upstream, time.Hour, cache.WithClock(clk.Now))
	ctx := context.Background()

	_, err := c.CurrentPrefix(ctx, code.KindISRC)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	cfg, err := c.CurrentPrefix(ctx, code.KindISRC)
	require.NoError(t, err)
	assert.Equal(t, "ISRC/US-ABC/00", cfg.Key().String())
	assert.EqualValues(t, 2, upstream.lookups.Load())
}

func TestPrefixCache_ExpiresAfterTTL(t *testing.T) {
	c, upstream, clk := setup(t)
	ctx := context.Background()

	_, err := c.CurrentPrefix(ctx, code.KindUPC)
	require.NoError(t, err)
	clk.Advance(30 * time.Second)
	_, err = c.CurrentPrefix(ctx, code.KindUPC)
	require.NoError(t, err)
	assert.EqualValues(t, 1, upstream.lookups.Load())

	clk.Advance(31 * time.Second)
	_, err = c.CurrentPrefix(ctx, code.KindUPC)
	require.NoError(t, err)
	assert.EqualValues(t, 2, upstream.lookups.Load())
}

func TestPrefixCache_RotateInvalidates(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()

	_, err := c.CurrentPrefix(ctx, code.KindISRC)
	require.NoError(t, err)

	rotated, err := c.RotatePrefix(ctx, code.KindISRC, code.PrefixFields{CountryCode: "GB", RegistrantCode: "XYZ"}, "label change")
	require.NoError(t, err)
	assert.Equal(t, "ISRC/GB-XYZ/24", rotated.Key().String())

	cfg, err := c.CurrentPrefix(ctx, code.KindISRC)
	require.NoError(t, err)
	assert.Equal(t, "ISRC/GB-XYZ/24", cfg.Key().String())

	history, err := c.History(ctx, code.KindISRC, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ISRC/US-ABC/24", history[0].Key().String())
}

func TestPrefixCache_HandleNotification(t *testing.T) {
	c, upstream, _ := setup(t)
	ctx := context.Background()

	for _, kind := range code.Kinds() {
		_, err := c.CurrentPrefix(ctx, kind)
		require.NoError(t, err)
	}
	require.Equal(t, 2, c.Stats().Entries)

	c.HandleNotification("unrelated_channel", "isrc")
	assert.Equal(t, 2, c.Stats().Entries)

	c.HandleNotification(postgres.PrefixChangedChannel, " isrc ")
	assert.Equal(t, 1, c.Stats().Entries)

	_, err := c.CurrentPrefix(ctx, code.KindISRC)
	require.NoError(t, err)
	assert.EqualValues(t, 3, upstream.lookups.Load())

	c.HandleNotification(postgres.PrefixChangedChannel, "garbage")
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestPrefixCache_ErrorsAreNotCached(t *testing.T) {
	reg := prefix.NewRegistry(memory.NewPrefixRepo(), nil, prefix.Config{})
	upstream := &countingRegistry{Registry: reg}
	c := cache.NewPrefixCache(upstream, 0)

	for i := 0; i < 2; i++ {
		_, err := c.CurrentPrefix(context.Background(), code.KindISRC)
		assert.True(t, apperror.IsConfigMissing(err))
	}
	assert.EqualValues(t, 2, upstream.lookups.Load())
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestPrefixCache_StartWithoutPoolIsNoop(t *testing.T) {
	c, _, _ := setup(t)
	c.Start(context.Background())
	c.Stop()
}

func TestPrefixCache_LoadRacingRotationIsDropped(t *testing.T) {
	clk := &clock{t: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)}
	upstream := &pausingRegistry{
		Registry: newRegistry(clk.Now),
		loaded:   make(chan struct{}),
		release:  make(chan struct{}),
	}
	c := cache.NewPrefixCache(upstream, time.Hour, cache.WithClock(clk.Now))
	ctx := context.Background()

	done := make(chan *code.PrefixConfig)
	go func() {
		cfg, err := c.CurrentPrefix(ctx, code.KindISRC)
		assert.NoError(t, err)
		done <- cfg
	}()

	<-upstream.loaded
	rotated, err := c.RotatePrefix(ctx, code.KindISRC, code.PrefixFields{CountryCode: "GB", RegistrantCode: "XYZ"}, "label change")
	require.NoError(t, err)
	close(upstream.release)

	stale := <-done
	require.NotNil(t, stale)
	assert.Equal(t, "ISRC/US-ABC/24", stale.Key().String())

	cfg, err := c.CurrentPrefix(ctx, code.KindISRC)
	require.NoError(t, err)
	assert.Equal(t, rotated.Key(), cfg.Key())
	assert.Equal(t, "ISRC/GB-XYZ/24", cfg.Key().String())
}

func TestPrefixCache_LoadRacingInvalidateAllIsDropped(t *testing.T) {
	clk := &clock{t: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)}
	upstream := &pausingRegistry{
		Registry: newRegistry(clk.Now),
		loaded:   make(chan struct{}),
		release:  make(chan struct{}),
	}
	c := cache.NewPrefixCache(upstream, time.Hour, cache.WithClock(clk.Now))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.CurrentPrefix(context.Background(), code.KindUPC)
		assert.NoError(t, err)
	}()

	<-upstream.loaded
	c.HandleNotification(postgres.PrefixChangedChannel, "")
	close(upstream.release)
	<-done

	assert.Equal(t, 0, c.Stats().Entries)
}
