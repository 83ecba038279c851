package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/storage"
)

type Engine struct {
	Store storage.ObjectStore
}

func NewEngine(store storage.ObjectStore) *Engine {
	return &Engine{Store: store}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	start := time.Now()
	db, cleanup, err := e.load(ctx, request.Source)
	if err != nil {
		return query.Result{}, err
	}
	defer cleanup()

	sqlText := request.SQL
	if request.RowLimit > 0 {
		// One extra row tells us whether the result was cut off.
		sqlText = fmt.Sprintf("SELECT * FROM (%s\n) AS q LIMIT %d", sqlText, request.RowLimit+1)
	}

	columns, resultRows, err := queryRows(ctx, db, sqlText)
	if err != nil {
		return query.Result{}, &query.ExecutionError{Err: err}
	}

	truncated := false
	if request.RowLimit > 0 && len(resultRows) > request.RowLimit {
		resultRows = resultRows[:request.RowLimit]
		truncated = true
	}

	return query.Result{
		Columns:   columns,
		Rows:      resultRows,
		Truncated: truncated,
		Duration:  time.Since(start),
	}, nil
}

func (e *Engine) Describe(ctx context.Context, source query.Source) (query.Description, error) {
	db, cleanup, err := e.load(ctx, source)
	if err != nil {
		return query.Description{}, err
	}
	defer cleanup()

	_, described, err := queryRows(ctx, db, fmt.Sprintf("DESCRIBE %s", quoteIdent(schema.TableName)))
	if err != nil {
		return query.Description{}, fmt.Errorf("describe table: %w", err)
	}
	_, firstRows, err := queryRows(ctx, db, fmt.Sprintf("SELECT * FROM %s LIMIT 1", quoteIdent(schema.TableName)))
	if err != nil {
		return query.Description{}, fmt.Errorf("sample first row: %w", err)
	}
	var rowCount int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(schema.TableName))).Scan(&rowCount); err != nil {
		return query.Description{}, fmt.Errorf("count rows: %w", err)
	}

	columns := make(schema.Schema, 0, len(described))
	for index, row := range described {
		if len(row) < 2 {
			return query.Description{}, fmt.Errorf("unexpected DESCRIBE row %v", row)
		}
		column := schema.Column{
			Name: fmt.Sprint(row[0]),
			Type: schema.ParseColumnType(fmt.Sprint(row[1])),
		}
		if len(firstRows) > 0 && index < len(firstRows[0]) {
			column.Sample = firstRows[0][index]
		}
		columns = append(columns, column)
	}
	return query.Description{Schema: columns, RowCount: rowCount}, nil
}

func (e *Engine) load(ctx context.Context, source query.Source) (*sql.DB, func(), error) {
	if e.Store == nil {
		return nil, nil, fmt.Errorf("object store is required")
	}
	if strings.TrimSpace(source.ObjectKey) == "" {
		return nil, nil, fmt.Errorf("dataset object key is required")
	}
	reader, err := readFunction(source.Format)
	if err != nil {
		return nil, nil, err
	}

	workDir, err := os.MkdirTemp("", "querypilot-query-")
	if err != nil {
		return nil, nil, fmt.Errorf("create query temp dir: %w", err)
	}
	removeDir := func() { _ = os.RemoveAll(workDir) }

	localPath := filepath.Join(workDir, "dataset."+string(source.Format))
	if _, err := spoolObject(ctx, e.Store, source.ObjectKey, localPath); err != nil {
		removeDir()
		return nil, nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		removeDir()
		return nil, nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)
	cleanup := func() {
		_ = db.Close()
		removeDir()
	}

	statements := []string{
		fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s(%s)", quoteIdent(schema.TableName), reader, quoteString(localPath)),
		"SET enable_external_access = false",
		"SET lock_configuration = true",
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("prepare dataset table: %w", err)
		}
	}
	return db, cleanup, nil
}

func readFunction(format query.Format) (string, error) {
	switch format {
	case query.FormatCSV:
		return "read_csv_auto", nil
	case query.FormatParquet:
		return "read_parquet", nil
	default:
		return "", fmt.Errorf("unsupported dataset format %q", format)
	}
}

func queryRows(ctx context.Context, db *sql.DB, sqlText string) ([]string, [][]any, error) {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, resultRows, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = formatTime(typed)
		case *big.Int:
			normalized[i] = typed.String()
		case interface{ Float64() float64 }:
			normalized[i] = typed.Float64()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func formatTime(value time.Time) string {
	value = value.UTC()
	if value.Hour() == 0 && value.Minute() == 0 && value.Second() == 0 && value.Nanosecond() == 0 {
		return value.Format(time.DateOnly)
	}
	return value.Format(time.RFC3339Nano)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
