package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/querypilot/querypilot/internal/schema"
)

var ErrNotFound = errors.New("catalog: not found")

type Repository interface {
	HealthCheck(ctx context.Context) error
	CreateDataset(ctx context.Context, in CreateDatasetInput) (Dataset, error)
	GetDataset(ctx context.Context, datasetID string) (Dataset, error)
	ListDatasets(ctx context.Context, limit int) ([]Dataset, error)
	DeleteDataset(ctx context.Context, datasetID string) (bool, error)
}

type Dataset struct {
	DatasetID string
	Name      string
	ObjectKey string
	Format    string
	SizeBytes int64
	RowCount  int64
	Columns   schema.Schema
	CreatedAt time.Time
}

type CreateDatasetInput struct {
	DatasetID string
	Name      string
	ObjectKey string
	Format    string
	SizeBytes int64
	RowCount  int64
	Columns   schema.Schema
}
