package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
)

func isrcFields() code.PrefixFields {
	return code.PrefixFields{CountryCode: "US", RegistrantCode: "ABC"}
}

func TestPrefixRepo_GetActiveMissing(t *testing.T) {
	r := NewPrefixRepo()
	_, err := r.GetActive(context.Background(), code.KindISRC)
	assert.True(t, apperror.IsNotFound(err))
}

func TestPrefixRepo_InitializeOnce(t *testing.T) {
	r := NewPrefixRepo()
	ctx := context.Background()

	first, created, err := r.Initialize(ctx, code.NewPrefixConfig(code.KindISRC, isrcFields(), "24"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, first.Version)

	other := code.NewPrefixConfig(code.KindISRC, code.PrefixFields{CountryCode: "GB", RegistrantCode: "XYZ"}, "24")
	got, created, err := r.Initialize(ctx, other)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "US-ABC", got.Prefix())
}

func TestPrefixRepo_ReplaceCompareAndSwap(t *testing.T) {
	r := NewPrefixRepo()
	ctx := context.Background()

	cur, _, err := r.Initialize(ctx, code.NewPrefixConfig(code.KindISRC, isrcFields(), "23"))
	require.NoError(t, err)

	next, err := r.Replace(ctx, cur, cur.WithPeriod("24"))
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, "24", next.Period)

	// A second writer still holding version 1 loses.
	_, err = r.Replace(ctx, cur, cur.WithPeriod("24"))
	assert.True(t, apperror.IsConcurrentModification(err))

	hist, err := r.History(ctx, code.KindISRC, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "23", hist[0].Period)
	assert.NotNil(t, hist[0].SupersededAt)
}

func TestPrefixRepo_HistoryNewestFirst(t *testing.T) {
	r := NewPrefixRepo()
	ctx := context.Background()

	cur, _, err := r.Initialize(ctx, code.NewPrefixConfig(code.KindISRC, isrcFields(), "21"))
	require.NoError(t, err)
	for _, p := range []string{"22", "23", "24"} {
		cur, err = r.Replace(ctx, cur, cur.WithPeriod(p))
		require.NoError(t, err)
	}

	hist, err := r.History(ctx, code.KindISRC, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "23", hist[0].Period)
	assert.Equal(t, "22", hist[1].Period)
}
