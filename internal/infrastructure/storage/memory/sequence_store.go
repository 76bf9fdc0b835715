// Package memory provides process-local storage backends.
// Counters do not survive a restart; use it for tests and single-node demos.
package memory

import (
	"context"
	"hash/fnv"
	"sync"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	"codealloc/internal/domain/allocation"
)

const shardCount = 16

type shard struct {
	mu       sync.Mutex
	counters map[code.SequenceKey]uint64
}

// SequenceStore is an in-memory allocation.SequenceStore.
// Keys are spread over mutex-guarded shards so unrelated keys do not contend.
type SequenceStore struct {
	shards [shardCount]*shard

	// failNext makes the next mutating call fail without touching the counter.
	failMu   sync.Mutex
	failNext error
}

var (
	_ allocation.SequenceStore    = (*SequenceStore)(nil)
	_ allocation.SequenceAdvancer = (*SequenceStore)(nil)
)

// NewSequenceStore creates an empty store.
func NewSequenceStore() *SequenceStore {
	s := &SequenceStore{}
	for i := range s.shards {
		s.shards[i] = &shard{counters: make(map[code.SequenceKey]uint64)}
	}
	return s
}

// NextSequence increments key by one.
func (s *SequenceStore) NextSequence(ctx context.Context, key code.SequenceKey, limit uint64) (uint64, error) {
	return s.ReserveBatch(ctx, key, 1, limit)
}

// ReserveBatch reserves count consecutive numbers under key.
func (s *SequenceStore) ReserveBatch(ctx context.Context, key code.SequenceKey, count, limit uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperror.NewStorageUnavailable("reserve_batch", err)
	}
	if err := s.takeFailure(); err != nil {
		return 0, apperror.NewStorageUnavailable("reserve_batch", err)
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	last := sh.counters[key]
	if count > limit || last > limit-count {
		return 0, apperror.NewSequenceOverflow(key.String(), limit)
	}
	sh.counters[key] = last + count
	return last + 1, nil
}

// PeekSequence returns the last issued value of key.
func (s *SequenceStore) PeekSequence(ctx context.Context, key code.SequenceKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperror.NewStorageUnavailable("peek_sequence", err)
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.counters[key], nil
}

// AdvanceTo raises the counter of key to at least last and returns the
// resulting value. It never lowers a counter.
func (s *SequenceStore) AdvanceTo(ctx context.Context, key code.SequenceKey, last uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperror.NewStorageUnavailable("advance_sequence", err)
	}
	cfg, err := key.Config()
	if err != nil {
		return 0, err
	}
	if limit := code.Capacity(cfg); last > limit {
		return 0, apperror.NewSequenceOverflow(key.String(), limit)
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.counters[key] < last {
		sh.counters[key] = last
	}
	return sh.counters[key], nil
}

// Seed sets the counter of key. Used to import existing numbering.
func (s *SequenceStore) Seed(key code.SequenceKey, last uint64) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.counters[key] = last
	sh.mu.Unlock()
}

// FailNext makes the next reservation fail with err.
func (s *SequenceStore) FailNext(err error) {
	s.failMu.Lock()
	s.failNext = err
	s.failMu.Unlock()
}

func (s *SequenceStore) takeFailure() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *SequenceStore) shardFor(key code.SequenceKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return s.shards[h.Sum32()%shardCount]
}
