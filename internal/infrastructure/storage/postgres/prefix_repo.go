package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	"codealloc/internal/domain/prefix"
)

const (
	prefixTable        = "code_prefixes"
	prefixHistoryTable = "code_prefix_history"
)

// PrefixChangedChannel is notified with the kind whenever an active prefix
// is replaced. Delivery happens on commit.
const PrefixChangedChannel = "code_prefix_changed"

var (
	historyColumns = ExtractDBColumns[code.PrefixConfig]()
	activeColumns  = ColumnsExcept(historyColumns, "superseded_at")
)

// PrefixRepo stores the active prefix per kind in code_prefixes and
// superseded ones in code_prefix_history.
type PrefixRepo struct {
	txm     Transactor
	timeout time.Duration
	now     func() time.Time
}

var _ prefix.Repository = (*PrefixRepo)(nil)

// NewPrefixRepo creates a new prefix repository. Every call is bounded by
// timeout; zero uses DefaultStorageTimeout.
func NewPrefixRepo(txm Transactor, timeout time.Duration) *PrefixRepo {
	if timeout <= 0 {
		timeout = DefaultStorageTimeout
	}
	return &PrefixRepo{txm: txm, timeout: timeout, now: time.Now}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *PrefixRepo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// GetActive returns the active prefix of kind.
func (r *PrefixRepo) GetActive(ctx context.Context, kind code.Kind) (*code.PrefixConfig, error) {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()

	sql, args, err := r.Builder().
		Select(activeColumns...).
		From(prefixTable).
		Where(squirrel.Eq{"kind": string(kind)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var cfg code.PrefixConfig
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &cfg, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("prefix", string(kind))
		}
		return nil, apperror.NewStorageUnavailable("get_prefix", err)
	}
	return &cfg, nil
}

// Initialize inserts cfg unless kind already has an active prefix.
func (r *PrefixRepo) Initialize(ctx context.Context, cfg code.PrefixConfig) (*code.PrefixConfig, bool, error) {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()

	cfg.Version = 1
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = r.now().UTC()
	}

	sql, args, err := r.Builder().
		Insert(prefixTable).
		SetMap(StructToMap(cfg, activeColumns...)).
		Suffix("ON CONFLICT (kind) DO NOTHING RETURNING " + strings.Join(activeColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build insert: %w", err)
	}

	var stored code.PrefixConfig
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &stored, sql, args...)
	if pgxscan.NotFound(err) {
		// Lost the race against another initializer: theirs is active.
		active, err := r.GetActive(ctx, cfg.Kind)
		return active, false, err
	}
	if err != nil {
		return nil, false, apperror.NewStorageUnavailable("initialize_prefix", err)
	}
	return &stored, true, nil
}

// Replace swaps current for next if current.Version is still active and
// appends current to the history table, both in one transaction.
func (r *PrefixRepo) Replace(ctx context.Context, current *code.PrefixConfig, next code.PrefixConfig) (*code.PrefixConfig, error) {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()

	now := r.now().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}

	var out code.PrefixConfig
	err := r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		querier := r.txm.GetQuerier(ctx)

		set := StructToMap(next, "id", "country_code", "registrant_code", "manufacturer_code",
			"period", "created_by", "reason", "created_at")
		set["version"] = squirrel.Expr("version + 1")

		sql, args, err := r.Builder().
			Update(prefixTable).
			SetMap(set).
			Where(squirrel.Eq{"kind": string(current.Kind)}).
			Where(squirrel.Eq{"version": current.Version}). // optimistic lock: expect current version
			Suffix("RETURNING " + strings.Join(activeColumns, ", ")).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		if err := pgxscan.Get(ctx, querier, &out, sql, args...); err != nil {
			if pgxscan.NotFound(err) {
				return apperror.NewConcurrentModification("prefix", string(current.Kind))
			}
			return apperror.NewStorageUnavailable("replace_prefix", err)
		}

		old := *current
		old.SupersededAt = &now
		sql, args, err = r.Builder().
			Insert(prefixHistoryTable).
			SetMap(StructToMap(old, historyColumns...)).
			ToSql()
		if err != nil {
			return fmt.Errorf("build history insert: %w", err)
		}
		if _, err := querier.Exec(ctx, sql, args...); err != nil {
			return apperror.NewStorageUnavailable("append_prefix_history", err)
		}
		if _, err := querier.Exec(ctx, "SELECT pg_notify($1, $2)", PrefixChangedChannel, string(current.Kind)); err != nil {
			return apperror.NewStorageUnavailable("notify_prefix_changed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns superseded prefixes of kind, newest first.
func (r *PrefixRepo) History(ctx context.Context, kind code.Kind, limit int) ([]code.PrefixConfig, error) {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()

	sql, args, err := r.Builder().
		Select(historyColumns...).
		From(prefixHistoryTable).
		Where(squirrel.Eq{"kind": string(kind)}).
		OrderBy("superseded_at DESC", "version DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []code.PrefixConfig
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, apperror.NewStorageUnavailable("prefix_history", err)
	}
	return out, nil
}
