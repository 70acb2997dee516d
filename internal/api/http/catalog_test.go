package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkilian/catalog/internal/catalog"
	"github.com/arkilian/catalog/internal/engine"
	"github.com/arkilian/catalog/internal/kv"
	"github.com/arkilian/catalog/internal/metrics"
	"github.com/arkilian/catalog/pkg/types"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	m, err := catalog.NewManager(engine.NewMemoryEngine(), "node-a", kv.NewMemoryBackend(),
		catalog.WithMetrics(metrics.New(reg, "node-a")))
	require.NoError(t, err)
	require.NoError(t, m.RegisterSystemTable(ctx, catalog.RegisterSystemTableRequest{
		CreateTableRequest: engine.CreateTableRequest{
			ID:        9,
			TableName: "scripts",
			Schema: types.Schema{Columns: []types.ColumnSchema{
				{Name: "name", DataType: "STRING"},
			}},
			PrimaryKeyIndices: []int{0},
		},
	}))
	require.NoError(t, m.Start(ctx))

	return NewRouter(NewCatalogHandler(m, zap.NewNop()), reg)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCatalogAPI_Names(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		path string
		want []string
	}{
		{"/v1/catalogs", []string{types.DefaultCatalogName}},
		{"/v1/catalogs/default_catalog/schemas", []string{types.DefaultSchemaName}},
		{"/v1/catalogs/default_catalog/schemas/default_schema/tables", []string{"scripts"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, h, tt.path)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			var resp NamesResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.want, resp.Names)
			assert.Equal(t, rec.Header().Get("X-Request-ID"), resp.RequestID)
		})
	}
}

func TestCatalogAPI_GetTable(t *testing.T) {
	h := newTestRouter(t)

	rec := get(t, h, "/v1/catalogs/default_catalog/schemas/default_schema/tables/scripts")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TableResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Table)
	assert.Equal(t, types.TableID(9), resp.Table.Ident.TableID)
	assert.Equal(t, "default_catalog.default_schema.scripts", resp.Table.FullName())

	rec = get(t, h, "/v1/catalogs/default_catalog/schemas/default_schema/tables/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, h, "/v1/catalogs/default_catalog/schemas/default_schema/tables/scripts-node")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogAPI_NotFound(t *testing.T) {
	h := newTestRouter(t)

	rec := get(t, h, "/v1/catalogs/missing/schemas")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "CATALOG_NOT_FOUND", resp.Code)

	rec = get(t, h, "/v1/catalogs/default_catalog/schemas/missing/tables")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SCHEMA_NOT_FOUND", resp.Code)
}

func TestCatalogAPI_HealthAndMetrics(t *testing.T) {
	h := newTestRouter(t)

	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, HealthResponse{Status: "ok", NodeID: "node-a"}, health)

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "catalogd_bootstrap_tables"))
}

func TestMiddleware_PropagatesIDs(t *testing.T) {
	var gotRequest, gotCorrelation string
	h := DefaultMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequest = GetRequestID(r.Context())
		gotCorrelation = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", gotRequest)
	assert.Equal(t, "req-1", gotCorrelation, "correlation id falls back to the request id")
	assert.Equal(t, "req-1", rec.Header().Get("X-Correlation-ID"))
}

func TestMiddleware_RecoversPanics(t *testing.T) {
	h := DefaultMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "internal server error", resp.Error)
	assert.NotEmpty(t, resp.RequestID)
}
