package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/storage"
)

const (
	defaultUploadMaxBytes  = 100 << 20
	multipartOverheadBytes = 1 << 20
)

var errUploadTooLarge = errors.New("upload exceeds size limit")

type datasetView struct {
	DatasetID   string    `json:"dataset_id"`
	Name        string    `json:"name"`
	Format      string    `json:"format"`
	SizeBytes   int64     `json:"size_bytes"`
	RowCount    int64     `json:"row_count"`
	ColumnCount int       `json:"column_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func toDatasetView(dataset catalog.Dataset) datasetView {
	return datasetView{
		DatasetID:   dataset.DatasetID,
		Name:        dataset.Name,
		Format:      dataset.Format,
		SizeBytes:   dataset.SizeBytes,
		RowCount:    dataset.RowCount,
		ColumnCount: len(dataset.Columns),
		CreatedAt:   dataset.CreatedAt,
	}
}

type upload struct {
	name    string
	format  query.Format
	payload []byte
}

func handleUploadDataset(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Store == nil || deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset dependencies are not configured", false, nil)
		return
	}

	maxBytes := cfg.Upload.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultUploadMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverheadBytes)
	in, err := readUpload(r, maxBytes)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.Is(err, errUploadTooLarge) || errors.As(err, &maxErr) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "dataset file exceeds the upload limit", false, map[string]any{"max_bytes": maxBytes})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error(), false, nil)
		return
	}

	datasetID := deps.NewID()
	key, err := storage.DatasetObjectKey(datasetID, string(in.format))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error(), false, nil)
		return
	}
	if _, err := deps.Store.Put(r.Context(), key, bytes.NewReader(in.payload), int64(len(in.payload)), storage.PutOptions{
		ContentType: storage.ContentType(string(in.format)),
		Metadata:    map[string]string{storage.MetadataDatasetName: in.name},
	}); err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_ERROR", "failed to store dataset file", true, map[string]any{"details": err.Error()})
		return
	}

	description, err := deps.QueryEngine.Describe(r.Context(), query.Source{ObjectKey: key, Format: in.format})
	if err != nil {
		discardObject(deps, r, key)
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "DATASET_UNREADABLE", "dataset file could not be read", false, map[string]any{"details": err.Error()})
		return
	}
	if len(description.Schema) == 0 {
		discardObject(deps, r, key)
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "DATASET_UNREADABLE", "dataset file has no columns", false, nil)
		return
	}

	dataset, err := deps.Catalog.CreateDataset(r.Context(), catalog.CreateDatasetInput{
		DatasetID: datasetID,
		Name:      in.name,
		ObjectKey: key,
		Format:    string(in.format),
		SizeBytes: int64(len(in.payload)),
		RowCount:  description.RowCount,
		Columns:   description.Schema,
	})
	if err != nil {
		discardObject(deps, r, key)
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to register dataset", true, map[string]any{"details": err.Error()})
		return
	}

	observability.ObserveDatasetUpload(dataset.Format, dataset.SizeBytes)
	deps.Logger.InfoContext(r.Context(), "dataset_registered",
		"dataset_id", dataset.DatasetID,
		"format", dataset.Format,
		"size_bytes", dataset.SizeBytes,
		"row_count", dataset.RowCount,
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"dataset": toDatasetView(dataset),
		"columns": columnsOrEmpty(dataset.Columns),
	})
}

func handleListDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	datasets, err := deps.Catalog.ListDatasets(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list datasets", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]datasetView, 0, len(datasets))
	for _, dataset := range datasets {
		items = append(items, toDatasetView(dataset))
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": items})
}

func handleDatasetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	dataset, ok := lookupDataset(deps, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dataset_id": dataset.DatasetID,
		"table":      schema.TableName,
		"columns":    columnsOrEmpty(dataset.Columns),
		"row_count":  dataset.RowCount,
	})
}

func handleDeleteDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	dataset, ok := lookupDataset(deps, w, r)
	if !ok {
		return
	}
	deleted, err := deps.Catalog.DeleteDataset(r.Context(), dataset.DatasetID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to delete dataset", true, map[string]any{"details": err.Error()})
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", "dataset was not found", false, map[string]any{"dataset_id": dataset.DatasetID})
		return
	}
	discardObject(deps, r, dataset.ObjectKey)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "dataset_id": dataset.DatasetID})
}

func lookupDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) (catalog.Dataset, bool) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return catalog.Dataset{}, false
	}
	datasetID := strings.TrimSpace(r.PathValue("dataset"))
	if datasetID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATASET_REQUIRED", "dataset path parameter is required", false, nil)
		return catalog.Dataset{}, false
	}
	dataset, err := deps.Catalog.GetDataset(r.Context(), datasetID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", "dataset was not found", false, map[string]any{"dataset_id": datasetID})
			return catalog.Dataset{}, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to resolve dataset", true, map[string]any{"details": err.Error()})
		return catalog.Dataset{}, false
	}
	return dataset, true
}

func discardObject(deps Dependencies, r *http.Request, key string) {
	if deps.Store == nil {
		return
	}
	if err := deps.Store.Delete(r.Context(), key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		deps.Logger.WarnContext(r.Context(), "dataset_object_delete_failed", "object_key", key, "error", err)
	}
}

func columnsOrEmpty(columns schema.Schema) schema.Schema {
	if columns == nil {
		return schema.Schema{}
	}
	return columns
}

func readUpload(r *http.Request, maxBytes int64) (upload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	params := r.URL.Query()

	var (
		in          upload
		body        io.Reader
		contentType string
	)
	if mediaType == "multipart/form-data" {
		reader, err := r.MultipartReader()
		if err != nil {
			return upload{}, fmt.Errorf("read multipart body: %w", err)
		}
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				return upload{}, errors.New(`multipart body has no "file" part`)
			}
			if err != nil {
				return upload{}, fmt.Errorf("read multipart part: %w", err)
			}
			if part.FormName() == "file" {
				in.name = filepath.Base(part.FileName())
				contentType = part.Header.Get("Content-Type")
				body = part
				break
			}
		}
	} else {
		in.name = strings.TrimSpace(params.Get("name"))
		contentType = mediaType
		body = r.Body
	}

	format, err := detectFormat(params.Get("format"), in.name, contentType)
	if err != nil {
		return upload{}, err
	}
	in.format = format
	if in.name == "" || in.name == "." {
		in.name = "dataset." + string(format)
	}

	payload, err := io.ReadAll(io.LimitReader(body, maxBytes+1))
	if err != nil {
		return upload{}, fmt.Errorf("read upload body: %w", err)
	}
	if int64(len(payload)) > maxBytes {
		return upload{}, errUploadTooLarge
	}
	if len(payload) == 0 {
		return upload{}, errors.New("dataset file is empty")
	}
	in.payload = payload
	return in, nil
}

func detectFormat(explicit, filename, contentType string) (query.Format, error) {
	if explicit = strings.ToLower(strings.TrimSpace(explicit)); explicit != "" {
		return parseFormat(explicit)
	}
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")); ext != "" {
		return parseFormat(ext)
	}
	switch strings.ToLower(contentType) {
	case "application/vnd.apache.parquet", "application/x-parquet":
		return query.FormatParquet, nil
	default:
		return query.FormatCSV, nil
	}
}

func parseFormat(raw string) (query.Format, error) {
	switch query.Format(raw) {
	case query.FormatCSV, query.FormatParquet:
		return query.Format(raw), nil
	default:
		return "", fmt.Errorf("unsupported dataset format %q (expected csv or parquet)", raw)
	}
}
