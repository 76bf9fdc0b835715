package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	appctx "codealloc/internal/core/context"
	"codealloc/internal/core/id"
	"codealloc/internal/domain/allocation"
	"codealloc/internal/domain/prefix"
)

// AuditEvent is the type of audited operation.
type AuditEvent string

const (
	AuditEventAllocate AuditEvent = "allocate"
	AuditEventRotate   AuditEvent = "rotate"
)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

const auditTable = "sys_allocation_audit"

// DefaultCompressThreshold is the payload size above which zstd is used.
// A batch of a few hundred codes crosses it.
const DefaultCompressThreshold = 8 * 1024

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID                id.ID           `db:"id" json:"id"`
	Event             AuditEvent      `db:"event" json:"event"`
	Kind              code.Kind       `db:"kind" json:"kind"`
	SequenceKey       string          `db:"sequence_key" json:"sequenceKey"`
	FirstSequence     int64           `db:"first_sequence" json:"firstSequence"`
	Count             int64           `db:"count" json:"count"`
	Actor             string          `db:"actor" json:"actor"`
	RequestID         string          `db:"request_id" json:"requestId,omitempty"`
	Payload           json.RawMessage `db:"payload" json:"payload,omitempty"`
	PayloadCompressed []byte          `db:"payload_compressed" json:"-"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}

var auditColumns = ExtractDBColumns[AuditEntry]()

type allocationPayload struct {
	Codes []string `json:"codes"`
}

type rotationPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// AuditLog writes the allocation and rotation audit trail.
type AuditLog struct {
	txm               Transactor
	timeout           time.Duration
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var (
	_ allocation.Auditor     = (*AuditLog)(nil)
	_ prefix.RotationAuditor = (*AuditLog)(nil)
)

// NewAuditLog creates a new audit log. Writes and reads are bounded by
// timeout; zero uses DefaultStorageTimeout.
func NewAuditLog(txm Transactor, timeout time.Duration) (*AuditLog, error) {
	if timeout <= 0 {
		timeout = DefaultStorageTimeout
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &AuditLog{
		txm:               txm,
		timeout:           timeout,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: DefaultCompressThreshold,
	}, nil
}

// RecordAllocation stores one row per allocation call with the issued codes as payload.
func (a *AuditLog) RecordAllocation(ctx context.Context, rec allocation.AuditRecord) error {
	payload, err := json.Marshal(allocationPayload{Codes: rec.Codes})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return a.insert(ctx, AuditEntry{
		Event:         AuditEventAllocate,
		Kind:          rec.Kind,
		SequenceKey:   rec.SequenceKey,
		FirstSequence: int64(rec.First),
		Count:         int64(rec.Count),
		Payload:       payload,
		CreatedAt:     rec.IssuedAt,
	})
}

// RecordRotation stores a prefix change. Inside a transaction it commits
// or rolls back with the rotation.
func (a *AuditLog) RecordRotation(ctx context.Context, previous, next *code.PrefixConfig) error {
	payload, err := json.Marshal(rotationPayload{
		From:   previous.Key().String(),
		To:     next.Key().String(),
		Reason: next.Reason,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return a.insert(ctx, AuditEntry{
		Event:       AuditEventRotate,
		Kind:        next.Kind,
		SequenceKey: next.Key().String(),
		Payload:     payload,
	})
}

func (a *AuditLog) insert(ctx context.Context, entry AuditEntry) error {
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Actor = appctx.GetSubject(ctx)
	entry.RequestID = appctx.GetRequestID(ctx)

	a.pack(&entry)

	sql, args, err := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert(auditTable).
		SetMap(StructToMap(entry)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	ctx, cancel := bounded(ctx, a.timeout)
	defer cancel()
	if _, err := a.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return apperror.NewStorageUnavailable("write_audit", err)
	}
	return nil
}

// AuditFilter narrows Recent.
type AuditFilter struct {
	Kind        code.Kind
	SequenceKey string
	Event       AuditEvent
	Limit       int
}

// Recent returns audit entries, newest first, with payloads decompressed.
func (a *AuditLog) Recent(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	q := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select(auditColumns...).
		From(auditTable).
		OrderBy("created_at DESC")
	if f.Kind != "" {
		q = q.Where(squirrel.Eq{"kind": string(f.Kind)})
	}
	if f.SequenceKey != "" {
		q = q.Where(squirrel.Eq{"sequence_key": f.SequenceKey})
	}
	if f.Event != "" {
		q = q.Where(squirrel.Eq{"event": string(f.Event)})
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sql, args, err := q.Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	ctx, cancel := bounded(ctx, a.timeout)
	defer cancel()

	var entries []AuditEntry
	if err := pgxscan.Select(ctx, a.txm.GetQuerier(ctx), &entries, sql, args...); err != nil {
		return nil, apperror.NewStorageUnavailable("read_audit", err)
	}
	for i := range entries {
		if err := a.inflate(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (a *AuditLog) pack(e *AuditEntry) {
	e.CompressionAlgo = CompressionNone
	if len(e.Payload) > a.compressThreshold {
		e.PayloadCompressed = a.encoder.EncodeAll(e.Payload, nil)
		e.Payload = nil
		e.CompressionAlgo = CompressionZstd
	}
}

func (a *AuditLog) inflate(e *AuditEntry) error {
	if e.CompressionAlgo != CompressionZstd || len(e.PayloadCompressed) == 0 {
		return nil
	}
	raw, err := a.decoder.DecodeAll(e.PayloadCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress audit %s: %w", e.ID, err)
	}
	e.Payload = raw
	e.PayloadCompressed = nil
	return nil
}
