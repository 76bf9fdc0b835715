package allocation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	"codealloc/pkg/logger"
)

var tracer = otel.Tracer("codealloc/allocation")

// DefaultMaxBatch caps AllocateBatch when Config.MaxBatch is zero.
const DefaultMaxBatch = 10000

// Config holds engine configuration.
type Config struct {
	// MaxBatch is the largest count accepted by AllocateBatch
	MaxBatch uint64

	// Recorder receives metrics; nil disables them
	Recorder Recorder

	// Auditor persists allocation history; nil disables it
	Auditor Auditor

	// Clock stamps IssuedAt; defaults to time.Now
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatch: DefaultMaxBatch,
		Clock:    time.Now,
	}
}

// Service is the allocation engine. It is safe for concurrent use.
type Service struct {
	prefixes PrefixSource
	store    SequenceStore
	recorder Recorder
	auditor  Auditor
	maxBatch uint64
	now      func() time.Time
}

// NewService creates a new allocation engine.
func NewService(prefixes PrefixSource, store SequenceStore, cfg Config) *Service {
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	return &Service{
		prefixes: prefixes,
		store:    store,
		recorder: cfg.Recorder,
		auditor:  cfg.Auditor,
		maxBatch: cfg.MaxBatch,
		now:      cfg.Clock,
	}
}

// MaxBatch returns the largest batch size AllocateBatch accepts.
func (s *Service) MaxBatch() uint64 {
	return s.maxBatch
}

// Allocate issues the next code of kind.
func (s *Service) Allocate(ctx context.Context, kind code.Kind) (*AllocatedCode, error) {
	codes, err := s.allocate(ctx, kind, 1)
	if err != nil {
		return nil, err
	}
	return &codes[0], nil
}

// AllocateBatch issues count consecutive codes of kind with a single
// reservation. All codes share one SequenceKey.
func (s *Service) AllocateBatch(ctx context.Context, kind code.Kind, count uint64) ([]AllocatedCode, error) {
	if count == 0 || count > s.maxBatch {
		return nil, apperror.NewValidation(fmt.Sprintf("count must be between 1 and %d", s.maxBatch)).
			WithDetail("count", count)
	}
	return s.allocate(ctx, kind, count)
}

// ValidateExisting checks an externally supplied code, e.g. from an imported catalog.
func (s *Service) ValidateExisting(value string, kind code.Kind) bool {
	return code.Validate(value, kind)
}

// CurrentConfig returns the active prefix of kind with LastSequence filled in.
func (s *Service) CurrentConfig(ctx context.Context, kind code.Kind) (*code.PrefixConfig, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}
	cfg, err := s.prefixes.CurrentPrefix(ctx, kind)
	if err != nil {
		return nil, classifyStoreError("current_prefix", err)
	}
	last, err := s.store.PeekSequence(ctx, cfg.Key())
	if err != nil {
		return nil, classifyStoreError("peek_sequence", err)
	}
	out := *cfg
	out.LastSequence = last
	return &out, nil
}

// PeekSequence returns the last issued sequence number under key.
func (s *Service) PeekSequence(ctx context.Context, key code.SequenceKey) (uint64, error) {
	last, err := s.store.PeekSequence(ctx, key)
	if err != nil {
		return 0, classifyStoreError("peek_sequence", err)
	}
	return last, nil
}

// AdvanceSequence raises the counter of key to at least last, e.g. after
// importing codes issued by a previous system. Counters never move backwards.
func (s *Service) AdvanceSequence(ctx context.Context, key code.SequenceKey, last uint64) (uint64, error) {
	adv, ok := s.store.(SequenceAdvancer)
	if !ok {
		return 0, apperror.NewValidation("sequence store does not support advancing counters")
	}
	if _, err := key.Config(); err != nil {
		return 0, err
	}
	got, err := adv.AdvanceTo(ctx, key, last)
	if err != nil {
		return 0, classifyStoreError("advance_sequence", err)
	}
	logger.Info(ctx, "sequence advanced", "sequence_key", key.String(), "requested", last, "last_sequence", got)
	return got, nil
}

func (s *Service) allocate(ctx context.Context, kind code.Kind, count uint64) (codes []AllocatedCode, err error) {
	start := time.Now()
	outcome := OutcomeIssued
	defer func() {
		s.recorder.ObserveAllocation(kind, outcome, len(codes), time.Since(start))
	}()

	if !kind.Valid() {
		outcome = OutcomeRejected
		return nil, apperror.NewInvalidKind(string(kind))
	}

	ctx, span := tracer.Start(ctx, "allocate",
		trace.WithAttributes(
			attribute.String("code.kind", string(kind)),
			attribute.Int64("code.count", int64(count)),
		))
	defer span.End()

	cfg, err := s.prefixes.CurrentPrefix(ctx, kind)
	if err != nil {
		err = classifyStoreError("current_prefix", err)
		outcome = outcomeOf(err)
		span.RecordError(err)
		return nil, err
	}
	// An invalid stored prefix must be caught before a number is consumed.
	if err := code.ValidatePrefix(*cfg); err != nil {
		outcome = OutcomeRejected
		return nil, apperror.NewInternal(fmt.Errorf("active %s prefix is malformed: %w", kind, err))
	}

	key := cfg.Key()
	limit := code.Capacity(*cfg)
	span.SetAttributes(attribute.String("code.sequence_key", key.String()))

	var first uint64
	if count == 1 {
		first, err = s.store.NextSequence(ctx, key, limit)
	} else {
		first, err = s.store.ReserveBatch(ctx, key, count, limit)
	}
	if err != nil {
		err = classifyStoreError("reserve_sequence", err)
		outcome = outcomeOf(err)
		span.RecordError(err)
		if apperror.IsSequenceOverflow(err) {
			logger.Warn(ctx, "sequence capacity exhausted",
				"kind", kind, "sequence_key", key.String(), "limit", limit, "requested", count)
		} else {
			logger.Error(ctx, "sequence reservation failed",
				"kind", kind, "sequence_key", key.String(), "error", err)
		}
		return nil, err
	}

	issuedAt := s.now().UTC()
	codes = make([]AllocatedCode, 0, count)
	for i := uint64(0); i < count; i++ {
		seq := first + i
		value, ferr := code.Format(*cfg, seq)
		if ferr != nil {
			outcome = OutcomeRejected
			return nil, apperror.NewInternal(fmt.Errorf("format %s #%d: %w", key, seq, ferr))
		}
		codes = append(codes, AllocatedCode{
			Value:          value,
			SequenceKey:    key,
			SequenceNumber: seq,
			IssuedAt:       issuedAt,
		})
	}

	s.audit(ctx, kind, key, first, codes, issuedAt)
	return codes, nil
}

func (s *Service) audit(ctx context.Context, kind code.Kind, key code.SequenceKey, first uint64, codes []AllocatedCode, issuedAt time.Time) {
	if s.auditor == nil {
		return
	}
	values := make([]string, len(codes))
	for i, c := range codes {
		values[i] = c.Value
	}
	rec := AuditRecord{
		Kind:        kind,
		SequenceKey: key.String(),
		First:       first,
		Count:       uint64(len(codes)),
		Codes:       values,
		IssuedAt:    issuedAt,
	}
	if err := s.auditor.RecordAllocation(ctx, rec); err != nil {
		logger.Warn(ctx, "allocation audit failed",
			"sequence_key", rec.SequenceKey, "first", first, "count", rec.Count, "error", err)
	}
}

// classifyStoreError keeps typed store errors and turns anything else into
// StorageUnavailable: an unknown failure must never look like success.
func classifyStoreError(op string, err error) error {
	if apperror.IsAppError(err) {
		return err
	}
	return apperror.NewStorageUnavailable(op, err)
}

func outcomeOf(err error) string {
	switch {
	case apperror.IsSequenceOverflow(err):
		return OutcomeOverflow
	case apperror.IsStorageUnavailable(err):
		return OutcomeStorage
	case apperror.IsConfigMissing(err):
		return OutcomeConfig
	default:
		return OutcomeRejected
	}
}
