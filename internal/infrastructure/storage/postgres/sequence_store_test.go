package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
)

type mockRow struct {
	val int64
	err error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int64); ok {
			*ptr = m.val
		}
	}
	return nil
}

// mockQuerier simulates the code_sequences table for the statements issued
// by SequenceStore.
type mockQuerier struct {
	mu       sync.Mutex
	counters map[string]int64
	err      error
}

func newMockQuerier() *mockQuerier {
	return &mockQuerier{counters: make(map[string]int64)}
}

func (m *mockQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return &mockRow{err: m.err}
	}

	key := args[0].(string)
	cur, exists := m.counters[key]
	switch {
	case strings.Contains(sql, "GREATEST"):
		m.counters[key] = max(cur, args[2].(int64))
		return &mockRow{val: m.counters[key]}
	case strings.Contains(sql, "INSERT"):
		n, limit := args[2].(int64), args[3].(int64)
		if exists && cur+n > limit {
			return &mockRow{err: pgx.ErrNoRows}
		}
		m.counters[key] = cur + n
		return &mockRow{val: m.counters[key]}
	default:
		if !exists {
			return &mockRow{err: pgx.ErrNoRows}
		}
		return &mockRow{val: cur}
	}
}

var pgKey = code.SequenceKey{Kind: code.KindISRC, Prefix: "US-ABC", Period: "24"}

func TestSequenceStore_Reserve(t *testing.T) {
	q := newMockQuerier()
	s := NewSequenceStore(q, 0)
	ctx := context.Background()

	first, err := s.NextSequence(ctx, pgKey, 99999)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)

	first, err = s.ReserveBatch(ctx, pgKey, 50, 99999)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), first)

	last, err := s.PeekSequence(ctx, pgKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(51), last)
}

func TestSequenceStore_PeekUnknownKey(t *testing.T) {
	s := NewSequenceStore(newMockQuerier(), 0)

	last, err := s.PeekSequence(context.Background(), pgKey)
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestSequenceStore_NoRowsMeansOverflow(t *testing.T) {
	q := newMockQuerier()
	q.counters[pgKey.String()] = 99999
	s := NewSequenceStore(q, 0)

	_, err := s.NextSequence(context.Background(), pgKey, 99999)
	require.Error(t, err)
	assert.True(t, apperror.IsSequenceOverflow(err))
	assert.Equal(t, int64(99999), q.counters[pgKey.String()])
}

func TestSequenceStore_BatchLargerThanCapacity(t *testing.T) {
	s := NewSequenceStore(newMockQuerier(), 0)

	_, err := s.ReserveBatch(context.Background(), pgKey, 100000, 99999)
	assert.True(t, apperror.IsSequenceOverflow(err))
}

func TestSequenceStore_DriverErrorIsStorageUnavailable(t *testing.T) {
	q := newMockQuerier()
	q.err = errors.New("connection refused")
	s := NewSequenceStore(q, 0)

	_, err := s.NextSequence(context.Background(), pgKey, 99999)
	require.Error(t, err)
	assert.True(t, apperror.IsStorageUnavailable(err))
	assert.ErrorIs(t, err, q.err)

	_, err = s.PeekSequence(context.Background(), pgKey)
	assert.True(t, apperror.IsStorageUnavailable(err))
}

func TestSequenceStore_AdvanceToNeverLowers(t *testing.T) {
	q := newMockQuerier()
	s := NewSequenceStore(q, 0)
	ctx := context.Background()

	got, err := s.AdvanceTo(ctx, pgKey, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got)

	got, err = s.AdvanceTo(ctx, pgKey, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got)

	_, err = s.AdvanceTo(ctx, pgKey, 100000)
	assert.True(t, apperror.IsSequenceOverflow(err))
}
