package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"codealloc/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 7_342_001

// Migrate applies embedded migrations that have not run yet, in file name
// order, each in its own transaction. It returns the names it applied.
func Migrate(ctx context.Context, txm *TxManager) ([]string, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	if _, err := txm.GetQuerier(ctx).Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, name := range names {
		body, err := migrationFS.ReadFile(name)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", name, err)
		}

		ran := false
		err = txm.RunInTransaction(ctx, func(ctx context.Context) error {
			q := txm.GetQuerier(ctx)
			if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
				return fmt.Errorf("lock: %w", err)
			}
			var exists bool
			if err := q.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&exists); err != nil {
				return fmt.Errorf("check: %w", err)
			}
			if exists {
				return nil
			}
			if _, err := q.Exec(ctx, string(body)); err != nil {
				return fmt.Errorf("apply: %w", err)
			}
			if _, err := q.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
				return fmt.Errorf("record: %w", err)
			}
			ran = true
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", name, err)
		}
		if ran {
			logger.Info(ctx, "migration applied", "name", name)
			applied = append(applied, name)
		}
	}
	return applied, nil
}
