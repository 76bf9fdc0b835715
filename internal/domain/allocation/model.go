// Package allocation issues ISRC and UPC codes.
//
// The Service is stateless: the active prefix comes from a PrefixSource and
// every sequence number from a SequenceStore, whose atomic increment is the
// only point of mutual exclusion between concurrent callers.
package allocation

import (
	"context"
	"time"

	"codealloc/internal/core/code"
)

// AllocatedCode is an issued code. It is immutable once returned.
type AllocatedCode struct {
	Value          string
	SequenceKey    code.SequenceKey
	SequenceNumber uint64
	IssuedAt       time.Time
}

// SequenceStore is durable counter storage keyed by SequenceKey.
//
// Implementations must be linearizable per key: concurrent calls never hand
// out the same number and leave no gaps. A failed call must not advance the
// counter and reports apperror.CodeStorageUnavailable. A call that would push
// the counter past limit must not advance it and reports
// apperror.CodeSequenceOverflow.
type SequenceStore interface {
	// NextSequence increments the counter of key by one and returns the new value.
	NextSequence(ctx context.Context, key code.SequenceKey, limit uint64) (uint64, error)

	// PeekSequence returns the last issued value of key, 0 if none.
	PeekSequence(ctx context.Context, key code.SequenceKey) (uint64, error)

	// ReserveBatch reserves [first, first+count) and returns first.
	ReserveBatch(ctx context.Context, key code.SequenceKey, count, limit uint64) (uint64, error)
}

// SequenceAdvancer is implemented by stores that can import numbering issued
// elsewhere. AdvanceTo raises the counter of key to at least last, never
// lowers it, and returns the resulting value.
type SequenceAdvancer interface {
	AdvanceTo(ctx context.Context, key code.SequenceKey, last uint64) (uint64, error)
}

// PrefixSource resolves the active prefix of a kind, rolling it over when
// the period changed.
type PrefixSource interface {
	CurrentPrefix(ctx context.Context, kind code.Kind) (*code.PrefixConfig, error)
}

// Outcome labels reported to a Recorder.
const (
	OutcomeIssued   = "issued"
	OutcomeOverflow = "overflow"
	OutcomeStorage  = "storage_unavailable"
	OutcomeConfig   = "config_missing"
	OutcomeRejected = "rejected"
)

// Recorder receives allocation measurements.
type Recorder interface {
	ObserveAllocation(kind code.Kind, outcome string, codes int, elapsed time.Duration)
}

// AuditRecord describes one successful allocation call.
type AuditRecord struct {
	Kind        code.Kind
	SequenceKey string
	First       uint64
	Count       uint64
	Codes       []string
	IssuedAt    time.Time
}

// Auditor persists allocation history. Failures are logged, never returned:
// the codes are already consumed at that point.
type Auditor interface {
	RecordAllocation(ctx context.Context, rec AuditRecord) error
}

type nopRecorder struct{}

func (nopRecorder) ObserveAllocation(code.Kind, string, int, time.Duration) {}
