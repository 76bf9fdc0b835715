package redis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
)

// fakeRedisEvaler interprets the scripts against an in-memory map.
type fakeRedisEvaler struct {
	mu        sync.Mutex
	values    map[string]int64
	calls     int
	returnErr error
	reply     any
}

func newFake() *fakeRedisEvaler {
	return &fakeRedisEvaler{values: make(map[string]int64)}
}

func (f *fakeRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.returnErr != nil {
		return nil, f.returnErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.reply != nil {
		return f.reply, nil
	}

	cur := f.values[keys[0]]
	switch script {
	case peekScript:
		return cur, nil
	case advanceScript:
		target := int64(args[0].(uint64))
		if target > cur {
			f.values[keys[0]] = target
			return target, nil
		}
		return cur, nil
	}
	n := int64(args[0].(uint64))
	limit := int64(args[1].(uint64))
	if cur+n > limit {
		return int64(-1), nil
	}
	f.values[keys[0]] = cur + n
	return cur + n, nil
}

var redisKey = code.SequenceKey{Kind: code.KindUPC, Prefix: "012345", Period: code.NoPeriod}

func TestCounterKey(t *testing.T) {
	assert.Equal(t, "codealloc:seq:UPC/012345/-", CounterKey(redisKey))
}

func TestSequenceStore_ReserveAndPeek(t *testing.T) {
	f := newFake()
	s := NewSequenceStore(f, 0)
	ctx := context.Background()

	n, err := s.NextSequence(ctx, redisKey, 99999)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	first, err := s.ReserveBatch(ctx, redisKey, 10, 99999)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), first)

	last, err := s.PeekSequence(ctx, redisKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), last)
}

func TestSequenceStore_Overflow(t *testing.T) {
	f := newFake()
	f.values[CounterKey(redisKey)] = 99998
	s := NewSequenceStore(f, 0)

	_, err := s.ReserveBatch(context.Background(), redisKey, 2, 99999)
	assert.True(t, apperror.IsSequenceOverflow(err))
	assert.Equal(t, int64(99998), f.values[CounterKey(redisKey)])

	_, err = s.ReserveBatch(context.Background(), redisKey, 100000, 99999)
	assert.True(t, apperror.IsSequenceOverflow(err))
}

func TestSequenceStore_ErrorIsStorageUnavailable(t *testing.T) {
	f := newFake()
	f.returnErr = errors.New("dial tcp: connection refused")
	s := NewSequenceStore(f, 0)

	_, err := s.NextSequence(context.Background(), redisKey, 99999)
	require.Error(t, err)
	assert.True(t, apperror.IsStorageUnavailable(err))
	assert.ErrorIs(t, err, f.returnErr)
}

func TestSequenceStore_UnexpectedReply(t *testing.T) {
	f := newFake()
	f.reply = "OK"
	s := NewSequenceStore(f, 0)

	_, err := s.PeekSequence(context.Background(), redisKey)
	assert.True(t, apperror.IsStorageUnavailable(err))
}

func TestSequenceStore_AdvanceTo(t *testing.T) {
	f := newFake()
	s := NewSequenceStore(f, 0)
	ctx := context.Background()

	got, err := s.AdvanceTo(ctx, redisKey, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got)

	got, err = s.AdvanceTo(ctx, redisKey, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got, "counter must never move backwards")

	n, err := s.NextSequence(ctx, redisKey, 99999)
	require.NoError(t, err)
	assert.Equal(t, uint64(501), n)

	_, err = s.AdvanceTo(ctx, redisKey, 100000)
	assert.True(t, apperror.IsSequenceOverflow(err))
}
