package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/export"
	"github.com/querypilot/querypilot/internal/observability"
)

const (
	exportFormatCSV     = "csv"
	exportFormatParquet = "parquet"
)

func handleExportSQL(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query engine is not configured", false, nil)
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = exportFormatCSV
	}
	if format != exportFormatCSV && format != exportFormatParquet {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPORT_FORMAT", "format must be csv or parquet", false, map[string]any{"format": format})
		return
	}

	var req sqlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid export request body", false, map[string]any{"details": err.Error()})
		return
	}
	dataset, ok := lookupDataset(deps, w, r)
	if !ok {
		return
	}
	result, _, ok := runSQL(cfg, deps, w, r, dataset, req.SQL, nil)
	if !ok {
		return
	}

	var (
		body        []byte
		contentType string
	)
	switch format {
	case exportFormatParquet:
		data, err := export.Parquet(result.Columns, result.Rows)
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to encode result", true, map[string]any{"details": err.Error()})
			return
		}
		body = data
		contentType = "application/vnd.apache.parquet"
	default:
		buf := bytes.NewBuffer(nil)
		if err := export.CSV(buf, result.Columns, result.Rows); err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to encode result", true, map[string]any{"details": err.Error()})
			return
		}
		body = buf.Bytes()
		contentType = "text/csv; charset=utf-8"
	}

	observability.ObserveResultExport(format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-result.%s"`, dataset.DatasetID, format))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("X-Result-Truncated", strconv.FormatBool(result.Truncated))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
