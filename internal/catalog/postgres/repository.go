package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/schema"
)

const defaultListLimit = 100

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) CreateDataset(ctx context.Context, in catalog.CreateDatasetInput) (catalog.Dataset, error) {
	columns := in.Columns
	if columns == nil {
		columns = schema.Schema{}
	}
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return catalog.Dataset{}, fmt.Errorf("marshal dataset columns: %w", err)
	}

	query := `
INSERT INTO dataset (dataset_id, name, object_key, format, size_bytes, row_count, columns_json)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
RETURNING created_at`

	dataset := catalog.Dataset{
		DatasetID: in.DatasetID,
		Name:      in.Name,
		ObjectKey: in.ObjectKey,
		Format:    in.Format,
		SizeBytes: in.SizeBytes,
		RowCount:  in.RowCount,
		Columns:   columns,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.DatasetID,
		in.Name,
		in.ObjectKey,
		in.Format,
		in.SizeBytes,
		in.RowCount,
		string(columnsJSON),
	).Scan(&dataset.CreatedAt); err != nil {
		return catalog.Dataset{}, fmt.Errorf("create dataset: %w", err)
	}
	return dataset, nil
}

func (r *Repository) GetDataset(ctx context.Context, datasetID string) (catalog.Dataset, error) {
	query := `
SELECT dataset_id, name, object_key, format, size_bytes, row_count, columns_json, created_at
FROM dataset
WHERE dataset_id = $1`

	dataset, err := scanDataset(r.db.QueryRowContext(ctx, query, datasetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Dataset{}, catalog.ErrNotFound
		}
		return catalog.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	return dataset, nil
}

func (r *Repository) ListDatasets(ctx context.Context, limit int) ([]catalog.Dataset, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT dataset_id, name, object_key, format, size_bytes, row_count, columns_json, created_at
FROM dataset
ORDER BY created_at DESC, dataset_id ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	datasets := make([]catalog.Dataset, 0)
	for rows.Next() {
		dataset, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		datasets = append(datasets, dataset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset rows: %w", err)
	}
	return datasets, nil
}

func (r *Repository) DeleteDataset(ctx context.Context, datasetID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM dataset WHERE dataset_id = $1`, datasetID)
	if err != nil {
		return false, fmt.Errorf("delete dataset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete dataset rows affected: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (catalog.Dataset, error) {
	var dataset catalog.Dataset
	var columnsJSON []byte
	if err := row.Scan(
		&dataset.DatasetID,
		&dataset.Name,
		&dataset.ObjectKey,
		&dataset.Format,
		&dataset.SizeBytes,
		&dataset.RowCount,
		&columnsJSON,
		&dataset.CreatedAt,
	); err != nil {
		return catalog.Dataset{}, err
	}
	if err := json.Unmarshal(columnsJSON, &dataset.Columns); err != nil {
		return catalog.Dataset{}, fmt.Errorf("decode dataset columns: %w", err)
	}
	return dataset, nil
}
