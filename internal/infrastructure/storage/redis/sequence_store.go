// Package redis provides a Redis-backed sequence store.
//
// Bound check and increment run in one Lua script, which Redis executes
// atomically. Counters are only as durable as the server's persistence
// settings; run it with appendonly yes and appendfsync always when codes
// must never be reissued after a crash.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	"codealloc/internal/domain/allocation"
)

// Evaler abstracts the minimal surface needed from a Redis client.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
}

// DefaultTimeout bounds a single script call.
const DefaultTimeout = time.Second

// KeyPrefix namespaces counter keys.
const KeyPrefix = "codealloc:seq:"

// reserveScript returns the new counter value, or -1 when it would pass the limit.
const reserveScript = `
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if cur + n > limit then
  return -1
end
return redis.call('INCRBY', KEYS[1], n)
`

const peekScript = `return tonumber(redis.call('GET', KEYS[1]) or '0')`

// advanceScript raises the counter to ARGV[1] and never lowers it.
const advanceScript = `
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local target = tonumber(ARGV[1])
if target > cur then
  redis.call('SET', KEYS[1], target)
  return target
end
return cur
`

// CounterKey returns the Redis key holding the counter of key.
func CounterKey(key code.SequenceKey) string {
	return KeyPrefix + key.String()
}

// SequenceStore is an allocation.SequenceStore on Redis.
type SequenceStore struct {
	client  Evaler
	timeout time.Duration
}

var (
	_ allocation.SequenceStore    = (*SequenceStore)(nil)
	_ allocation.SequenceAdvancer = (*SequenceStore)(nil)
)

// NewSequenceStore creates a store. A zero timeout uses DefaultTimeout.
func NewSequenceStore(client Evaler, timeout time.Duration) *SequenceStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SequenceStore{client: client, timeout: timeout}
}

// NextSequence increments key by one.
func (s *SequenceStore) NextSequence(ctx context.Context, key code.SequenceKey, limit uint64) (uint64, error) {
	return s.ReserveBatch(ctx, key, 1, limit)
}

// ReserveBatch reserves count consecutive numbers under key and returns the first.
func (s *SequenceStore) ReserveBatch(ctx context.Context, key code.SequenceKey, count, limit uint64) (uint64, error) {
	if count == 0 {
		return 0, apperror.NewValidation("count must be positive")
	}
	if count > limit {
		return 0, apperror.NewSequenceOverflow(key.String(), limit)
	}

	last, err := s.eval(ctx, "reserve_sequence", reserveScript, key, count, limit)
	if err != nil {
		return 0, err
	}
	if last < 0 {
		return 0, apperror.NewSequenceOverflow(key.String(), limit)
	}
	return uint64(last) - count + 1, nil
}

// PeekSequence returns the last issued value of key, 0 if none.
func (s *SequenceStore) PeekSequence(ctx context.Context, key code.SequenceKey) (uint64, error) {
	last, err := s.eval(ctx, "peek_sequence", peekScript, key)
	if err != nil {
		return 0, err
	}
	return uint64(last), nil
}

// AdvanceTo raises the counter of key to at least last and returns the
// resulting value.
func (s *SequenceStore) AdvanceTo(ctx context.Context, key code.SequenceKey, last uint64) (uint64, error) {
	cfg, err := key.Config()
	if err != nil {
		return 0, err
	}
	if limit := code.Capacity(cfg); last > limit {
		return 0, apperror.NewSequenceOverflow(key.String(), limit)
	}
	got, err := s.eval(ctx, "advance_sequence", advanceScript, key, last)
	if err != nil {
		return 0, err
	}
	return uint64(got), nil
}

func (s *SequenceStore) eval(ctx context.Context, op, script string, key code.SequenceKey, args ...any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.client.Eval(ctx, script, []string{CounterKey(key)}, args...)
	if err != nil {
		return 0, apperror.NewStorageUnavailable(op, fmt.Errorf("redis eval %s: %w", key, err))
	}
	n, ok := res.(int64)
	if !ok {
		return 0, apperror.NewStorageUnavailable(op, fmt.Errorf("redis eval %s: unexpected reply %T", key, res))
	}
	return n, nil
}

// Client wraps go-redis to implement Evaler.
type Client struct {
	c *goredis.Client
}

// NewClient connects to addr, e.g. "127.0.0.1:6379".
func NewClient(addr string) *Client {
	return &Client{c: goredis.NewClient(&goredis.Options{Addr: addr})}
}

// Eval runs script.
func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return c.c.Eval(ctx, script, keys, args...).Result()
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.c.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.c.Close()
}
