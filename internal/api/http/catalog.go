package http

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkilian/catalog/internal/catalog"
	cerrors "github.com/arkilian/catalog/internal/errors"
	"github.com/arkilian/catalog/pkg/types"
)

// NamesResponse lists catalog, schema or table names.
type NamesResponse struct {
	Names     []string `json:"names"`
	RequestID string   `json:"request_id"`
}

// TableResponse describes one table.
type TableResponse struct {
	Table     *types.TableInfo `json:"table"`
	RequestID string           `json:"request_id"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
}

// CatalogHandler serves the read-only catalog API.
type CatalogHandler struct {
	manager *catalog.Manager
	logger  *zap.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(manager *catalog.Manager, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{manager: manager, logger: logger}
}

// NewRouter mounts the catalog API, /health and /metrics. A nil gatherer
// serves the default registry.
func NewRouter(h *CatalogHandler, gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /v1/catalogs", h.listCatalogs)
	api.HandleFunc("GET /v1/catalogs/{catalog}/schemas", h.listSchemas)
	api.HandleFunc("GET /v1/catalogs/{catalog}/schemas/{schema}/tables", h.listTables)
	api.HandleFunc("GET /v1/catalogs/{catalog}/schemas/{schema}/tables/{table}", h.getTable)
	api.HandleFunc("GET /health", h.health)

	mux := http.NewServeMux()
	mux.Handle("/", DefaultMiddleware(h.logger)(api))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (h *CatalogHandler) listCatalogs(w http.ResponseWriter, r *http.Request) {
	names, err := h.manager.CatalogNames(r.Context())
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NamesResponse{Names: names, RequestID: GetRequestID(r.Context())})
}

func (h *CatalogHandler) listSchemas(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("catalog")
	provider, err := h.manager.Catalog(r.Context(), name)
	if err == nil && provider == nil {
		err = cerrors.CatalogNotFound(name)
	}
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	names, err := provider.SchemaNames(r.Context())
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NamesResponse{Names: names, RequestID: GetRequestID(r.Context())})
}

func (h *CatalogHandler) listTables(w http.ResponseWriter, r *http.Request) {
	schema, err := h.manager.Schema(r.Context(), r.PathValue("catalog"), r.PathValue("schema"))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	names, err := schema.TableNames(r.Context())
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NamesResponse{Names: names, RequestID: GetRequestID(r.Context())})
}

func (h *CatalogHandler) getTable(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	catalogName, schemaName, tableName := r.PathValue("catalog"), r.PathValue("schema"), r.PathValue("table")

	table, err := h.manager.Table(r.Context(), catalogName, schemaName, tableName)
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	if table == nil {
		writeError(w, http.StatusNotFound,
			"table not found: "+types.FullTableName(catalogName, schemaName, tableName), "", requestID)
		return
	}
	writeJSON(w, http.StatusOK, TableResponse{Table: table.Info(), RequestID: requestID})
}

func (h *CatalogHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", NodeID: h.manager.NodeID()})
}

// writeCatalogError maps a catalog error to its HTTP status.
func (h *CatalogHandler) writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, cerrors.ErrCatalogNotFound), errors.Is(err, cerrors.ErrSchemaNotFound):
		status = http.StatusNotFound
	case errors.Is(err, cerrors.ErrTableExists):
		status = http.StatusConflict
	case errors.Is(err, cerrors.ErrInvalidName):
		status = http.StatusBadRequest
	case cerrors.IsRetryable(err):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("catalog request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error(), cerrors.GetCode(err), GetRequestID(r.Context()))
}
