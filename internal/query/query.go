package query

import (
	"context"
	"time"

	"github.com/querypilot/querypilot/internal/schema"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

type Source struct {
	ObjectKey string
	Format    Format
}

type Request struct {
	SQL      string
	RowLimit int
	Source   Source
}

type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

func (r Result) Records() []map[string]any {
	records := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	return records
}

type Description struct {
	Schema   schema.Schema
	RowCount int64
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
	Describe(ctx context.Context, source Source) (Description, error)
}
