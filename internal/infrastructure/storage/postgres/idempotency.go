package postgres

import (
	"context"
	"fmt"
	"time"

	"codealloc/internal/core/apperror"
)

// IdempotencyStatus represents the state of an idempotent operation.
type IdempotencyStatus string

const (
	IdempotencyStatusPending IdempotencyStatus = "pending"
	IdempotencyStatusSuccess IdempotencyStatus = "success"
)

// staleAfter is how long a pending key may stay locked before a retry may
// reclaim it, e.g. after the original request crashed.
const staleAfter = time.Minute

// IdempotencyRecord stores the result of an idempotent operation.
type IdempotencyRecord struct {
	Key         string            `db:"idempotency_key"`
	Actor       string            `db:"actor"`
	Operation   string            `db:"operation"`
	Status      IdempotencyStatus `db:"status"`
	RequestHash string            `db:"request_hash"` // SHA256 of request body
	Response    []byte            `db:"response"`
	StatusCode  int               `db:"response_status"`
	ContentType string            `db:"response_content_type"`
	CreatedAt   time.Time         `db:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at"`
	ExpiresAt   time.Time         `db:"expires_at"`
}

// IdempotencyReplay is the cached HTTP response for replay.
type IdempotencyReplay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IdempotencyStore manages idempotency keys in sys_idempotency.
// Replaying a stored allocation response means a retried request gets the
// same codes instead of consuming new sequence numbers.
type IdempotencyStore struct {
	txm     Transactor
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewIdempotencyStore creates a new idempotency store. Keys live for ttl;
// each statement is bounded by timeout, zero meaning DefaultStorageTimeout.
func NewIdempotencyStore(txm Transactor, ttl, timeout time.Duration) *IdempotencyStore {
	if timeout <= 0 {
		timeout = DefaultStorageTimeout
	}
	return &IdempotencyStore{txm: txm, ttl: ttl, timeout: timeout, now: time.Now}
}

// AcquireKey attempts to acquire an idempotency key.
// Returns:
//   - (nil, nil) if key acquired successfully
//   - (cachedResponse, nil) if operation already completed
//   - (nil, error) if key is locked by another request or reused for a different one
func (s *IdempotencyStore) AcquireKey(ctx context.Context, key, actor, operation, requestHash string) (*IdempotencyReplay, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()
	querier := s.txm.GetQuerier(ctx)

	var (
		record   IdempotencyRecord
		inserted bool
	)
	// xmax = 0 only for a freshly inserted row.
	err := querier.QueryRow(ctx, `
		INSERT INTO sys_idempotency (idempotency_key, actor, operation, status, request_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			expires_at = GREATEST(sys_idempotency.expires_at, EXCLUDED.expires_at)
		RETURNING actor, operation, status, request_hash, COALESCE(response, ''::bytea),
		          response_status, response_content_type, updated_at, (xmax = 0)
	`, key, actor, operation, IdempotencyStatusPending, requestHash, now, now.Add(s.ttl)).Scan(
		&record.Actor, &record.Operation, &record.Status, &record.RequestHash, &record.Response,
		&record.StatusCode, &record.ContentType, &record.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, apperror.NewStorageUnavailable("acquire_idempotency_key", err)
	}
	if inserted {
		return nil, nil
	}

	// Key exists: protect against reuse for a different request.
	if record.Actor != actor || record.Operation != operation || record.RequestHash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key).
			WithDetail("stored_operation", record.Operation).
			WithDetail("request_operation", operation)
	}

	if record.Status == IdempotencyStatusSuccess {
		return &IdempotencyReplay{
			StatusCode:  normalizeReplayStatus(record.StatusCode),
			ContentType: normalizeReplayContentType(record.ContentType),
			Body:        record.Response,
		}, nil
	}

	if now.Sub(record.UpdatedAt) <= staleAfter {
		return nil, apperror.NewIdempotencyConflict(key)
	}

	tag, err := querier.Exec(ctx, `
		UPDATE sys_idempotency SET updated_at = $1
		WHERE idempotency_key = $2 AND status = $3 AND updated_at = $4
	`, now, key, IdempotencyStatusPending, record.UpdatedAt)
	if err != nil {
		return nil, apperror.NewStorageUnavailable("reclaim_idempotency_key", err)
	}
	if tag.RowsAffected() == 0 {
		// Someone else reclaimed it first.
		return nil, apperror.NewIdempotencyConflict(key)
	}
	return nil, nil
}

// CompleteKey stores a successful response for replay.
func (s *IdempotencyStore) CompleteKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	return s.finish(ctx, key, IdempotencyStatusSuccess, statusCode, contentType, body)
}

// ReleaseKey drops a pending key so the request can be retried. Failed
// allocations consume no sequence numbers, so there is nothing to replay.
func (s *IdempotencyStore) ReleaseKey(ctx context.Context, key string) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	_, err := s.txm.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_idempotency WHERE idempotency_key = $1 AND status = $2`,
		key, IdempotencyStatusPending)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) finish(ctx context.Context, key string, status IdempotencyStatus, statusCode int, contentType string, body []byte) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	_, err := s.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_idempotency
		SET status = $1,
		    response = $2,
		    response_status = $3,
		    response_content_type = $4,
		    updated_at = $5
		WHERE idempotency_key = $6
	`, status, body, statusCode, contentType, s.now().UTC(), key)
	if err != nil {
		return fmt.Errorf("finish idempotency key: %w", err)
	}
	return nil
}

func normalizeReplayStatus(status int) int {
	if status == 0 {
		return 200
	}
	return status
}

func normalizeReplayContentType(ct string) string {
	if ct == "" {
		return "application/json"
	}
	return ct
}

// CleanupExpired removes expired idempotency records.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.txm.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_idempotency WHERE expires_at < $1`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
