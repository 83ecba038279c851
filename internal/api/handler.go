package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/routing"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/storage"
)

type DatasetCatalog interface {
	CreateDataset(ctx context.Context, in catalog.CreateDatasetInput) (catalog.Dataset, error)
	GetDataset(ctx context.Context, datasetID string) (catalog.Dataset, error)
	ListDatasets(ctx context.Context, limit int) ([]catalog.Dataset, error)
	DeleteDataset(ctx context.Context, datasetID string) (bool, error)
}

type QueryRouter interface {
	Route(ctx context.Context, question string, s schema.Schema, values nl2sql.Context, force *routing.Strategy) (nl2sql.Plan, routing.Decision, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessChecks
	DependencyTimeout time.Duration
	Catalog           DatasetCatalog
	Store             storage.ObjectStore
	QueryEngine       query.Engine
	Router            QueryRouter
	NewID             func() string
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		handleReady(deps, w, r)
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/datasets", func(w http.ResponseWriter, r *http.Request) {
		handleUploadDataset(cfg, deps, w, r)
	})
	mux.HandleFunc("GET /v1/datasets", func(w http.ResponseWriter, r *http.Request) {
		handleListDatasets(deps, w, r)
	})
	mux.HandleFunc("GET /v1/datasets/{dataset}/schema", func(w http.ResponseWriter, r *http.Request) {
		handleDatasetSchema(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/datasets/{dataset}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteDataset(deps, w, r)
	})
	mux.HandleFunc("POST /v1/datasets/{dataset}/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(cfg, deps, w, r)
	})
	mux.HandleFunc("POST /v1/datasets/{dataset}/sql", func(w http.ResponseWriter, r *http.Request) {
		handleExecuteSQL(cfg, deps, w, r)
	})
	mux.HandleFunc("POST /v1/datasets/{dataset}/export", func(w http.ResponseWriter, r *http.Request) {
		handleExportSQL(cfg, deps, w, r)
	})
	mux.HandleFunc("POST /v1/sql/validate", handleValidateSQL)

	return chain(mux,
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
		observability.LoggingMiddleware(deps.Logger),
	)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
