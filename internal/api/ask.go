package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/charthint"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/routing"
)

const (
	defaultRowLimit     = 1000
	defaultQueryTimeout = 30 * time.Second
)

type askRequest struct {
	Question string            `json:"question"`
	Context  map[string]string `json:"context"`
	Strategy string            `json:"strategy"`
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

type resultView struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	Chart     charthint.Hint   `json:"chart"`
	Stats     map[string]any   `json:"stats"`
}

type askResponse struct {
	SQL              *string               `json:"sql"`
	AskClarification bool                  `json:"ask_clarification"`
	Clarification    *nl2sql.Clarification `json:"clarification"`
	Explanation      string                `json:"explanation"`
	Routing          routing.Decision      `json:"routing"`
	*resultView
}

func handleAsk(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Router == nil || deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	var force *routing.Strategy
	if strings.TrimSpace(req.Strategy) != "" {
		strategy, err := routing.ParseStrategy(req.Strategy)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_STRATEGY", err.Error(), false, nil)
			return
		}
		force = &strategy
	}

	dataset, ok := lookupDataset(deps, w, r)
	if !ok {
		return
	}

	plan, decision, err := deps.Router.Route(r.Context(), question, dataset.Columns, nl2sql.Context(req.Context), force)
	if err != nil {
		writeRouteError(r.Context(), deps, w, decision, err)
		return
	}

	doc := nl2sql.ToDocument(plan)
	response := askResponse{
		SQL:              doc.SQL,
		AskClarification: doc.AskClarification,
		Clarification:    doc.Clarification,
		Explanation:      doc.Explanation,
		Routing:          decision,
	}
	sqlPlan, isSQL := plan.(nl2sql.SQLPlan)
	if !isSQL {
		writeJSON(w, http.StatusOK, response)
		return
	}

	result, rowLimit, ok := runSQL(cfg, deps, w, r, dataset, sqlPlan.SQL, map[string]any{"routing": decision})
	if !ok {
		return
	}
	response.resultView = newResultView(result, rowLimit)
	writeJSON(w, http.StatusOK, response)
}

func handleExecuteSQL(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query engine is not configured", false, nil)
		return
	}
	var req sqlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid sql request body", false, map[string]any{"details": err.Error()})
		return
	}
	dataset, ok := lookupDataset(deps, w, r)
	if !ok {
		return
	}
	result, rowLimit, ok := runSQL(cfg, deps, w, r, dataset, req.SQL, nil)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		SQL string `json:"sql"`
		*resultView
	}{SQL: req.SQL, resultView: newResultView(result, rowLimit)})
}

func handleValidateSQL(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, map[string]any{"details": err.Error()})
		return
	}
	accepted, err := query.ValidateSQL(req.SQL)
	if err != nil {
		var validationErr *query.ValidationError
		if !errors.As(err, &validationErr) {
			writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), false, nil)
			return
		}
		observability.ObserveValidationRejection(validationErr.Code)
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":      false,
			"error_code": validationErr.Code,
			"message":    validationErr.Message,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "sql": accepted})
}

func runSQL(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request, dataset catalog.Dataset, sql string, extra map[string]any) (query.Result, int, bool) {
	accepted, err := query.ValidateSQL(sql)
	if err != nil {
		var validationErr *query.ValidationError
		if errors.As(err, &validationErr) {
			observability.ObserveValidationRejection(validationErr.Code)
			writeError(r.Context(), w, http.StatusBadRequest, validationErr.Code, validationErr.Message, false, withContext(extra, "sql", sql))
			return query.Result{}, 0, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), false, extra)
		return query.Result{}, 0, false
	}

	rowLimit := cfg.Query.RowLimit
	if rowLimit <= 0 {
		rowLimit = defaultRowLimit
	}
	timeout := cfg.Query.Timeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	started := time.Now()
	result, err := deps.QueryEngine.Execute(ctx, query.Request{
		SQL:      accepted,
		RowLimit: rowLimit,
		Source:   query.Source{ObjectKey: dataset.ObjectKey, Format: query.Format(dataset.Format)},
	})
	observability.ObserveQueryExecution(time.Since(started), result.Truncated, err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			writeError(r.Context(), w, http.StatusGatewayTimeout, "QUERY_TIMEOUT", "query exceeded the time limit", true, withContext(extra, "timeout_ms", timeout.Milliseconds()))
			return query.Result{}, 0, false
		}
		var execErr *query.ExecutionError
		if errors.As(err, &execErr) {
			writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", execErr.Error(), false, withContext(extra, "sql", accepted))
			return query.Result{}, 0, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "QUERY_ENGINE_ERROR", "query engine failed", true, withContext(extra, "details", err.Error()))
		return query.Result{}, 0, false
	}

	return result, rowLimit, true
}

func newResultView(result query.Result, rowLimit int) *resultView {
	return &resultView{
		Columns:   result.Columns,
		Rows:      result.Records(),
		RowCount:  len(result.Rows),
		Truncated: result.Truncated,
		Chart:     charthint.Suggest(result.Columns, result.Rows),
		Stats:     map[string]any{"duration_ms": result.Duration.Milliseconds(), "row_limit": rowLimit},
	}
}

func writeRouteError(ctx context.Context, deps Dependencies, w http.ResponseWriter, decision routing.Decision, err error) {
	extra := map[string]any{"routing": decision}
	var (
		malformed  *nl2sql.MalformedResponseError
		generation *nl2sql.GenerationError
	)
	switch {
	case errors.Is(err, routing.ErrNoTemplateMatch):
		writeError(ctx, w, http.StatusUnprocessableEntity, "NO_TEMPLATE_MATCH", "no template matches the question", false, extra)
	case errors.Is(err, routing.ErrModelUnavailable):
		writeError(ctx, w, http.StatusNotImplemented, "MODEL_NOT_CONFIGURED", "question needs a language model but none is configured", false, extra)
	case errors.Is(err, nl2sql.ErrModelTimeout):
		deps.Logger.WarnContext(ctx, "sql_generation_failed", "kind", "timeout", "model", decision.Model, "error", err)
		writeError(ctx, w, http.StatusGatewayTimeout, "MODEL_TIMEOUT", "language model did not answer in time", true, extra)
	case errors.As(err, &malformed):
		deps.Logger.WarnContext(ctx, "sql_generation_failed", "kind", "malformed", "model", decision.Model, "reason", malformed.Reason)
		deps.Logger.DebugContext(ctx, "malformed_model_reply", "raw", malformed.Raw)
		writeError(ctx, w, http.StatusBadGateway, "MALFORMED_MODEL_RESPONSE", malformed.Error(), true, extra)
	case errors.As(err, &generation):
		deps.Logger.WarnContext(ctx, "sql_generation_failed", "kind", "transport", "model", generation.Model, "error", err)
		writeError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", "language model request failed", true, withContext(extra, "details", err.Error()))
	case errors.Is(err, context.Canceled):
		writeError(ctx, w, http.StatusServiceUnavailable, "REQUEST_CANCELED", "request was canceled", true, extra)
	default:
		deps.Logger.ErrorContext(ctx, "routing_failed", "error", err)
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to plan the question", true, withContext(extra, "details", err.Error()))
	}
}

func withContext(extra map[string]any, key string, value any) map[string]any {
	merged := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		merged[k] = v
	}
	merged[key] = value
	return merged
}
