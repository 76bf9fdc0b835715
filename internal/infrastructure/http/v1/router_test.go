package v1_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	"codealloc/internal/domain/allocation"
	"codealloc/internal/domain/auth"
	"codealloc/internal/domain/prefix"
	v1 "codealloc/internal/infrastructure/http/v1"
	"codealloc/internal/infrastructure/http/v1/dto"
	"codealloc/internal/infrastructure/http/v1/handlers"
	"codealloc/internal/infrastructure/metrics"
	"codealloc/internal/infrastructure/storage/memory"
	"codealloc/pkg/logger"
)

const testSecret = "test-secret-with-enough-entropy"

type apiFixture struct {
	router http.Handler
	store  *memory.SequenceStore
	jwt    *auth.JWTService
}

func newAPI(t *testing.T, withAuth bool) *apiFixture {
	t.Helper()
	clock := func() time.Time { return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC) }

	store := memory.NewSequenceStore()
	registry := prefix.NewRegistry(memory.NewPrefixRepo(), nil, prefix.Config{
		Defaults: map[code.Kind]code.PrefixFields{
			code.KindISRC: {CountryCode: "US", RegistrantCode: "ABC"},
			code.KindUPC:  {ManufacturerCode: "012345"},
		},
		Clock: clock,
	})
	m := metrics.New()
	engine := allocation.NewService(registry, store, allocation.Config{
		MaxBatch: 100,
		Recorder: m,
		Clock:    clock,
	})

	jwtSvc := auth.NewJWTService(auth.DefaultJWTConfig(testSecret))
	cfg := v1.RouterConfig{
		Logger:   logger.Nop(),
		Engine:   engine,
		Registry: registry,
		Health:   handlers.NewHealthHandler("memory", "test", nil),
		Metrics:  m.Handler(),
	}
	if withAuth {
		cfg.JWTValidator = jwtSvc
	}
	return &apiFixture{router: v1.NewRouter(cfg), store: store, jwt: jwtSvc}
}

func (f *apiFixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestAllocateISRC(t *testing.T) {
	api := newAPI(t, false)
	key := code.SequenceKey{Kind: code.KindISRC, Prefix: "US-ABC", Period: "24"}
	api.store.Seed(key, 123)

	w := api.do(t, http.MethodPost, "/api/v1/codes/allocate", `{"kind":"isrc"}`, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[dto.CodeResponse](t, w)
	assert.Equal(t, "US-ABC-24-00124", resp.Code)
	assert.Equal(t, "ISRC/US-ABC/24", resp.SequenceKey)
	assert.Equal(t, uint64(124), resp.SequenceNumber)
}

func TestAllocateBatchUPC(t *testing.T) {
	api := newAPI(t, false)

	w := api.do(t, http.MethodPost, "/api/v1/codes/allocate-batch", `{"kind":"UPC","count":3}`, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[dto.BatchResponse](t, w)
	require.Len(t, resp.Codes, 3)
	assert.Equal(t, uint64(1), resp.First)
	assert.Equal(t, "012345000010", resp.Codes[0].Code)
	for _, c := range resp.Codes {
		assert.True(t, code.Validate(c.Code, code.KindUPC), c.Code)
	}
}

func TestAllocateErrors(t *testing.T) {
	api := newAPI(t, false)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown kind", "/api/v1/codes/allocate", `{"kind":"EAN"}`, http.StatusBadRequest, apperror.CodeInvalidKind},
		{"missing kind", "/api/v1/codes/allocate", `{}`, http.StatusBadRequest, apperror.CodeValidation},
		{"batch too large", "/api/v1/codes/allocate-batch", `{"kind":"ISRC","count":101}`, http.StatusBadRequest, apperror.CodeValidation},
		{"malformed json", "/api/v1/codes/allocate", `{"kind":`, http.StatusBadRequest, apperror.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, tt.path, tt.body, "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode[dto.ErrorResponse](t, w).Code)
		})
	}
}

func TestAllocateOverflowIsConflict(t *testing.T) {
	api := newAPI(t, false)
	api.store.Seed(code.SequenceKey{Kind: code.KindISRC, Prefix: "US-ABC", Period: "24"}, 99999)

	w := api.do(t, http.MethodPost, "/api/v1/codes/allocate", `{"kind":"ISRC"}`, "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeSequenceOverflow, decode[dto.ErrorResponse](t, w).Code)
}

func TestValidateCode(t *testing.T) {
	api := newAPI(t, false)

	w := api.do(t, http.MethodPost, "/api/v1/codes/validate", `{"code":"US-ABC-24-00124","kind":"ISRC"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.ValidateResponse](t, w)
	assert.True(t, resp.Valid)
	assert.Equal(t, "ISRC/US-ABC/24", resp.SequenceKey)
	assert.Equal(t, uint64(124), resp.SequenceNumber)

	w = api.do(t, http.MethodPost, "/api/v1/codes/validate", `{"code":"012345000011","kind":"UPC"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[dto.ValidateResponse](t, w)
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Reason)
	assert.Empty(t, resp.SequenceKey)
}

func TestValidateCodeReportsSequence(t *testing.T) {
	api := newAPI(t, false)

	tests := []struct {
		name string
		body string
		key  string
		seq  uint64
	}{
		{"current manufacturer", `{"code":"012345678905","kind":"upc"}`, "UPC/012345/-", 67890},
		{"explicit manufacturer length", `{"code":"012345678905","kind":"UPC","manufacturerDigits":8}`, "UPC/01234567/-", 890},
		{"foreign manufacturer", `{"code":"036000291452","kind":"UPC"}`, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/api/v1/codes/validate", tt.body, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			resp := decode[dto.ValidateResponse](t, w)
			assert.True(t, resp.Valid)
			assert.Equal(t, tt.key, resp.SequenceKey)
			assert.Equal(t, tt.seq, resp.SequenceNumber)
		})
	}
}

func TestAdminPrefixLifecycle(t *testing.T) {
	api := newAPI(t, false)
	api.do(t, http.MethodPost, "/api/v1/codes/allocate", `{"kind":"ISRC"}`, "")

	w := api.do(t, http.MethodGet, "/api/v1/admin/prefixes/ISRC", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cur := decode[dto.PrefixResponse](t, w)
	assert.Equal(t, "US-ABC", cur.Prefix)
	require.NotNil(t, cur.LastSequence)
	assert.Equal(t, uint64(1), *cur.LastSequence)

	w = api.do(t, http.MethodPut, "/api/v1/admin/prefixes/ISRC",
		`{"countryCode":"gb","registrantCode":"xyz","reason":"label transfer"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ISRC/GB-XYZ/24", decode[dto.PrefixResponse](t, w).SequenceKey)

	w = api.do(t, http.MethodPost, "/api/v1/codes/allocate", `{"kind":"ISRC"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "GB-XYZ-24-00001", decode[dto.CodeResponse](t, w).Code)

	w = api.do(t, http.MethodGet, "/api/v1/admin/prefixes/ISRC/history", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[dto.ListResponse[dto.PrefixResponse]](t, w)
	require.Len(t, history.Items, 1)
	assert.Equal(t, "ISRC/US-ABC/24", history.Items[0].SequenceKey)

	// The old counter is untouched by the rotation.
	w = api.do(t, http.MethodGet, "/api/v1/admin/sequences?key=ISRC/US-ABC/24", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(1), decode[dto.SequenceResponse](t, w).LastSequence)
}

func TestAdminRejectsBadInput(t *testing.T) {
	api := newAPI(t, false)

	w := api.do(t, http.MethodPut, "/api/v1/admin/prefixes/ISRC", `{"countryCode":"G1","registrantCode":"XYZ","reason":"x"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/admin/sequences?key=nonsense", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/admin/sequences", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPut, "/api/v1/admin/sequences", `{"sequenceKey":"ISRC/US-ABC/24","lastSequence":100000}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/admin/audit", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminAdvanceSequence(t *testing.T) {
	api := newAPI(t, false)

	w := api.do(t, http.MethodPut, "/api/v1/admin/sequences", `{"sequenceKey":"UPC/012345/-","lastSequence":41}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, uint64(41), decode[dto.SequenceResponse](t, w).LastSequence)

	w = api.do(t, http.MethodPost, "/api/v1/codes/allocate", `{"kind":"UPC"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, uint64(42), decode[dto.CodeResponse](t, w).SequenceNumber)
}

func TestAdminRequiresAdminToken(t *testing.T) {
	api := newAPI(t, true)

	w := api.do(t, http.MethodGet, "/api/v1/admin/prefixes/UPC", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	reader, _, err := api.jwt.Issue("auditor", "reader")
	require.NoError(t, err)
	w = api.do(t, http.MethodGet, "/api/v1/admin/prefixes/UPC", "", reader)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin, _, err := api.jwt.Issue("ops", auth.RoleAdmin)
	require.NoError(t, err)
	w = api.do(t, http.MethodPut, "/api/v1/admin/prefixes/UPC", `{"manufacturerCode":"0999999","reason":"new block"}`, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ops", decode[dto.PrefixResponse](t, w).CreatedBy)

	// Allocation stays open to unauthenticated callers.
	w = api.do(t, http.MethodPost, "/api/v1/codes/allocate", `{"kind":"UPC"}`, "")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newAPI(t, false)
	api.do(t, http.MethodPost, "/api/v1/codes/allocate", `{"kind":"ISRC"}`, "")

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health/live", "", "").Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health/ready", "", "").Code)

	w := api.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "codealloc_allocations_total")
}
