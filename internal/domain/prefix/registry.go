package prefix

import (
	"context"
	"time"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	appctx "codealloc/internal/core/context"
	"codealloc/internal/core/tx"
	"codealloc/pkg/logger"
)

const (
	defaultMaxAttempts  = 5
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Config holds registry configuration.
type Config struct {
	// Defaults are used to initialize a kind on first use.
	// A kind without a default fails with CONFIG_MISSING until an
	// administrator initializes it.
	Defaults map[code.Kind]code.PrefixFields

	// Auditor records rotations in the same transaction; optional
	Auditor RotationAuditor

	// Clock decides the current period; defaults to time.Now
	Clock func() time.Time

	// MaxAttempts bounds compare-and-swap retries
	MaxAttempts int

	// Timeout bounds each registry call including its transaction; zero
	// leaves the bound to the repository
	Timeout time.Duration
}

// Registry is the prefix configuration registry. It is safe for concurrent use.
type Registry struct {
	repo        Repository
	txm         tx.Manager
	auditor     RotationAuditor
	defaults    map[code.Kind]code.PrefixFields
	now         func() time.Time
	maxAttempts int
	timeout     time.Duration
}

// NewRegistry creates a registry over repo. Rotations run inside txm.
func NewRegistry(repo Repository, txm tx.Manager, cfg Config) *Registry {
	if txm == nil {
		txm = tx.Direct
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Registry{
		repo:        repo,
		txm:         txm,
		auditor:     cfg.Auditor,
		defaults:    cfg.Defaults,
		now:         cfg.Clock,
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.Timeout,
	}
}

func (r *Registry) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// CurrentPrefix returns the active prefix of kind. If the stored period is
// older than the current one, the prefix is rolled over first. Concurrent
// callers crossing the boundary race on a compare-and-swap; exactly one
// performs the rollover and the others return the rotated prefix.
func (r *Registry) CurrentPrefix(ctx context.Context, kind code.Kind) (*code.PrefixConfig, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	period := kind.PeriodFor(r.now())

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		cur, err := r.repo.GetActive(ctx, kind)
		if apperror.IsNotFound(err) {
			return r.initializeDefault(ctx, kind, period)
		}
		if err != nil {
			return nil, storageError("get_prefix", err)
		}

		// A node with a lagging clock must not roll a prefix backwards.
		if cur.Period == period || !code.PeriodAfter(period, cur.Period) {
			return cur, nil
		}

		next := cur.WithPeriod(period)
		next.CreatedBy = "system"
		rotated, err := r.replace(ctx, cur, next)
		if apperror.IsConcurrentModification(err) {
			continue
		}
		if err != nil {
			return nil, err
		}

		logger.Info(ctx, "prefix period rolled over",
			"kind", kind,
			"from_key", cur.Key().String(),
			"to_key", rotated.Key().String(),
		)
		return rotated, nil
	}

	return nil, apperror.NewConcurrentModification("prefix", string(kind))
}

// RotatePrefix replaces the active prefix of kind with new fields. It affects
// subsequent allocations only; issued codes are never renumbered.
func (r *Registry) RotatePrefix(ctx context.Context, kind code.Kind, fields code.PrefixFields, reason string) (*code.PrefixConfig, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}
	if err := code.ValidatePrefixFields(kind, fields); err != nil {
		return nil, err
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	period := kind.PeriodFor(r.now())

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		cur, err := r.repo.GetActive(ctx, kind)
		if apperror.IsNotFound(err) {
			cfg, _, err := r.initialize(ctx, kind, fields, period, reason)
			return cfg, err
		}
		if err != nil {
			return nil, storageError("get_prefix", err)
		}

		if code.PeriodAfter(cur.Period, period) {
			period = cur.Period
		}
		next := code.NewPrefixConfig(kind, fields, period)
		if next.Key() == cur.Key() {
			return cur, nil
		}
		next.CreatedBy = appctx.GetSubject(ctx)
		next.Reason = reason

		rotated, err := r.replace(ctx, cur, next)
		if apperror.IsConcurrentModification(err) {
			continue
		}
		if err != nil {
			return nil, err
		}

		logger.Info(ctx, "prefix rotated",
			"kind", kind,
			"from_key", cur.Key().String(),
			"to_key", rotated.Key().String(),
			"reason", reason,
		)
		return rotated, nil
	}

	return nil, apperror.NewConcurrentModification("prefix", string(kind))
}

// Initialize sets up the first prefix of kind. It reports false and returns
// the existing prefix when kind is already configured.
func (r *Registry) Initialize(ctx context.Context, kind code.Kind, fields code.PrefixFields) (*code.PrefixConfig, bool, error) {
	if !kind.Valid() {
		return nil, false, apperror.NewInvalidKind(string(kind))
	}
	if err := code.ValidatePrefixFields(kind, fields); err != nil {
		return nil, false, err
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.initialize(ctx, kind, fields, kind.PeriodFor(r.now()), "initial configuration")
}

// History returns superseded prefixes of kind, newest first.
func (r *Registry) History(ctx context.Context, kind code.Kind, limit int) ([]code.PrefixConfig, error) {
	if !kind.Valid() {
		return nil, apperror.NewInvalidKind(string(kind))
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	out, err := r.repo.History(ctx, kind, limit)
	if err != nil {
		return nil, storageError("prefix_history", err)
	}
	return out, nil
}

func (r *Registry) initializeDefault(ctx context.Context, kind code.Kind, period string) (*code.PrefixConfig, error) {
	fields, ok := r.defaults[kind]
	if !ok {
		return nil, apperror.NewConfigMissing(string(kind))
	}
	if err := code.ValidatePrefixFields(kind, fields); err != nil {
		return nil, apperror.NewConfigMissing(string(kind)).WithCause(err)
	}
	cfg, _, err := r.initialize(ctx, kind, fields, period, "default configuration")
	return cfg, err
}

func (r *Registry) initialize(ctx context.Context, kind code.Kind, fields code.PrefixFields, period, reason string) (*code.PrefixConfig, bool, error) {
	cfg := code.NewPrefixConfig(kind, fields, period)
	cfg.CreatedBy = appctx.GetSubject(ctx)
	cfg.Reason = reason

	active, created, err := r.repo.Initialize(ctx, cfg)
	if err != nil {
		return nil, false, storageError("initialize_prefix", err)
	}
	if created {
		logger.Info(ctx, "prefix initialized", "kind", kind, "sequence_key", active.Key().String())
	}
	return active, created, nil
}

func (r *Registry) replace(ctx context.Context, cur *code.PrefixConfig, next code.PrefixConfig) (*code.PrefixConfig, error) {
	var rotated *code.PrefixConfig
	err := r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		out, err := r.repo.Replace(ctx, cur, next)
		if err != nil {
			return err
		}
		if r.auditor != nil {
			if err := r.auditor.RecordRotation(ctx, cur, out); err != nil {
				return err
			}
		}
		rotated = out
		return nil
	})
	if err != nil {
		return nil, storageError("replace_prefix", err)
	}
	return rotated, nil
}

// storageError keeps typed errors and reports anything else, such as a
// failed begin or commit, as StorageUnavailable.
func storageError(op string, err error) error {
	if apperror.IsAppError(err) {
		return err
	}
	return apperror.NewStorageUnavailable(op, err)
}
