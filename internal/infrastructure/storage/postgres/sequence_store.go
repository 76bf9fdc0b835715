package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	"codealloc/internal/domain/allocation"
)

// RowQuerier runs single-row statements. *Pool satisfies it.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DefaultStorageTimeout bounds a single counter statement.
const DefaultStorageTimeout = 2 * time.Second

// The conditional DO UPDATE makes the bound check and the increment one
// atomic statement: when the new value would exceed the limit no row is
// returned and the counter is left untouched.
const reserveSQL = `
	INSERT INTO code_sequences (seq_key, kind, last_sequence)
	VALUES ($1, $2, $3)
	ON CONFLICT (seq_key) DO UPDATE
		SET last_sequence = code_sequences.last_sequence + EXCLUDED.last_sequence,
		    updated_at = now()
		WHERE code_sequences.last_sequence + EXCLUDED.last_sequence <= $4
	RETURNING last_sequence`

const peekSQL = `SELECT last_sequence FROM code_sequences WHERE seq_key = $1`

const advanceSQL = `
	INSERT INTO code_sequences (seq_key, kind, last_sequence)
	VALUES ($1, $2, $3)
	ON CONFLICT (seq_key) DO UPDATE
		SET last_sequence = GREATEST(code_sequences.last_sequence, EXCLUDED.last_sequence),
		    updated_at = now()
	RETURNING last_sequence`

// SequenceStore keeps counters in the code_sequences table.
// Every call is a single autocommit statement, so a counter is durable
// before the number is returned and no business transaction holds its row lock.
type SequenceStore struct {
	db      RowQuerier
	timeout time.Duration
}

var (
	_ allocation.SequenceStore    = (*SequenceStore)(nil)
	_ allocation.SequenceAdvancer = (*SequenceStore)(nil)
)

// NewSequenceStore creates a store. A zero timeout uses DefaultStorageTimeout.
func NewSequenceStore(db RowQuerier, timeout time.Duration) *SequenceStore {
	if timeout <= 0 {
		timeout = DefaultStorageTimeout
	}
	return &SequenceStore{db: db, timeout: timeout}
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

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var last int64
	err := s.db.QueryRow(ctx, reserveSQL, key.String(), string(key.Kind), int64(count), int64(limit)).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperror.NewSequenceOverflow(key.String(), limit)
	}
	if err != nil {
		return 0, apperror.NewStorageUnavailable("reserve_sequence", fmt.Errorf("reserve %s: %w", key, err))
	}
	return uint64(last) - count + 1, nil
}

// PeekSequence returns the last issued value of key, 0 if the key was never used.
func (s *SequenceStore) PeekSequence(ctx context.Context, key code.SequenceKey) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var last int64
	err := s.db.QueryRow(ctx, peekSQL, key.String()).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, apperror.NewStorageUnavailable("peek_sequence", fmt.Errorf("peek %s: %w", key, err))
	}
	return uint64(last), nil
}

// AdvanceTo raises the counter of key to at least last and returns the
// resulting value. It never lowers a counter, so importing numbering issued
// by a legacy system cannot cause reissue.
func (s *SequenceStore) AdvanceTo(ctx context.Context, key code.SequenceKey, last uint64) (uint64, error) {
	cfg, err := key.Config()
	if err != nil {
		return 0, err
	}
	if limit := code.Capacity(cfg); last > limit {
		return 0, apperror.NewSequenceOverflow(key.String(), limit)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var got int64
	if err := s.db.QueryRow(ctx, advanceSQL, key.String(), string(key.Kind), int64(last)).Scan(&got); err != nil {
		return 0, apperror.NewStorageUnavailable("advance_sequence", fmt.Errorf("advance %s: %w", key, err))
	}
	return uint64(got), nil
}
