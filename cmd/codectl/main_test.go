package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codealloc/internal/app"
	"codealloc/internal/core/apperror"
	"codealloc/internal/infrastructure/http/v1/dto"
)

func newMemoryApp(t *testing.T, vars map[string]string) *app.App {
	t.Helper()
	env := map[string]string{"SEQUENCE_BACKEND": "memory", "METRICS_ENABLED": "false"}
	for k, v := range vars {
		env[k] = v
	}
	cfg, err := app.LoadConfig(func(key string) string { return env[key] })
	require.NoError(t, err)
	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	return a
}

func runCLI(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(func(context.Context) (*app.App, error) { return a, nil })
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestInitRotateShow(t *testing.T) {
	a := newMemoryApp(t, nil)

	_, err := runCLI(t, a, "show", "isrc")
	assert.True(t, apperror.IsConfigMissing(err))

	out, err := runCLI(t, a, "init", "ISRC", "--country", "us", "--registrant", "abc")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized ISRC/US-ABC/")

	out, err = runCLI(t, a, "init", "ISRC", "--country", "GB", "--registrant", "XYZ")
	require.NoError(t, err)
	assert.Contains(t, out, "Already configured")

	out, err = runCLI(t, a, "allocate", "ISRC", "-n", "3")
	require.NoError(t, err)
	assert.Len(t, bytes.Fields([]byte(out)), 3)

	out, err = runCLI(t, a, "rotate", "ISRC", "--country", "GB", "--registrant", "XYZ", "--reason", "label sold", "--actor", "ops")
	require.NoError(t, err)
	assert.Contains(t, out, "GB-XYZ")

	out, err = runCLI(t, a, "show", "ISRC", "--json")
	require.NoError(t, err)
	var cur dto.PrefixResponse
	require.NoError(t, json.Unmarshal([]byte(out), &cur))
	assert.Equal(t, "GB-XYZ", cur.Prefix)
	assert.Equal(t, "ops", cur.CreatedBy)
	require.NotNil(t, cur.LastSequence)
	assert.Equal(t, uint64(0), *cur.LastSequence)

	out, err = runCLI(t, a, "history", "ISRC")
	require.NoError(t, err)
	assert.Contains(t, out, "US-ABC")
	assert.Contains(t, out, "label sold")
}

func TestRotateRequiresReason(t *testing.T) {
	a := newMemoryApp(t, nil)
	_, err := runCLI(t, a, "rotate", "UPC", "--manufacturer", "012345")
	assert.Error(t, err)
}

func TestPeekAndAdvance(t *testing.T) {
	a := newMemoryApp(t, map[string]string{"DEFAULT_UPC_MANUFACTURER": "012345"})

	out, err := runCLI(t, a, "advance", "UPC/012345/-", "99")
	require.NoError(t, err)
	assert.Contains(t, out, "advanced to 99")

	out, err = runCLI(t, a, "advance", "UPC/012345/-", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "unchanged")

	out, err = runCLI(t, a, "allocate", "upc")
	require.NoError(t, err)
	assert.Equal(t, "012345001000\n", out)

	out, err = runCLI(t, a, "peek", "UPC/012345/-")
	require.NoError(t, err)
	assert.Equal(t, "UPC/012345/- 100\n", out)

	_, err = runCLI(t, a, "peek", "garbage")
	assert.Error(t, err)
}

func TestAdvanceFromCode(t *testing.T) {
	a := newMemoryApp(t, map[string]string{"DEFAULT_UPC_MANUFACTURER": "012345"})

	out, err := runCLI(t, a, "advance", "--from-code", "UPC", "012345000997")
	require.NoError(t, err)
	assert.Equal(t, "UPC/012345/- advanced to 99 (012345000997)\n", out)

	out, err = runCLI(t, a, "advance", "--from-code", "isrc", "GB-XYZ-24-00042")
	require.NoError(t, err)
	assert.Contains(t, out, "ISRC/GB-XYZ/24 advanced to 42 (GB-XYZ-24-00042)")

	out, err = runCLI(t, a, "peek", "ISRC/GB-XYZ/24")
	require.NoError(t, err)
	assert.Equal(t, "ISRC/GB-XYZ/24 42\n", out)

	_, err = runCLI(t, a, "advance", "--from-code", "UPC", "012345000998")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidFormat))
}

func TestValidate(t *testing.T) {
	a := newMemoryApp(t, nil)

	out, err := runCLI(t, a, "validate", "UPC", "012345678905")
	require.NoError(t, err)
	assert.Contains(t, out, "valid UPC")

	_, err = runCLI(t, a, "validate", "UPC", "012345678906")
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	a := newMemoryApp(t, nil)
	_, err := runCLI(t, a, "token", "--subject", "ops")
	assert.EqualError(t, err, "ADMIN_JWT_SECRET is not set")

	a = newMemoryApp(t, map[string]string{"ADMIN_JWT_SECRET": "cli-secret"})
	out, err := runCLI(t, a, "token", "--subject", "ops")
	require.NoError(t, err)

	actor, err := a.JWT.ValidateToken(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, "ops", actor.Subject)
	assert.Equal(t, []string{"admin"}, actor.Roles)
}

func TestMemoryBackendHasNoDatabaseCommands(t *testing.T) {
	a := newMemoryApp(t, nil)

	out, err := runCLI(t, a, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to migrate")

	_, err = runCLI(t, a, "audit")
	assert.Error(t, err)
}
