package postgres

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	var all strings.Builder
	for _, n := range names {
		b, err := migrationFS.ReadFile(n)
		require.NoError(t, err)
		all.Write(b)
	}

	for _, table := range []string{
		"code_sequences", "code_prefixes", "code_prefix_history",
		"sys_allocation_audit", "sys_idempotency",
	} {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table, table)
	}
}

func TestMigrations_CoverRepositoryColumns(t *testing.T) {
	b, err := migrationFS.ReadFile("migrations/0001_init.sql")
	require.NoError(t, err)
	for _, col := range historyColumns {
		assert.Contains(t, string(b), col, col)
	}
}
