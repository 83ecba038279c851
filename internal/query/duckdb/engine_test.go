package duckdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/storage"
)

type hotelRow struct {
	Hotel   string  `parquet:"hotel"`
	Rooms   int64   `parquet:"rooms"`
	Revenue float64 `parquet:"revenue"`
}

const hotelsCSV = "hotel,city,revenue\nAdlon,Berlin,1520.5\nRitz,Paris,2100\nSavoy,London,980.25\n"

func TestExecuteReadsParquetThroughObjectStore(t *testing.T) {
	parquetBytes, err := buildParquet([]hotelRow{{Hotel: "Adlon", Rooms: 385, Revenue: 1520.5}, {Hotel: "Ritz", Rooms: 142, Revenue: 2100}})
	if err != nil {
		t.Fatalf("buildParquet() error = %v", err)
	}

	store := &memoryStore{objects: map[string][]byte{"datasets/hotels.parquet": parquetBytes}}
	engine := NewEngine(store)

	result, err := engine.Execute(context.Background(), query.Request{
		SQL:    `SELECT COUNT(*) AS "count" FROM "data"`,
		Source: query.Source{ObjectKey: "datasets/hotels.parquet", Format: query.FormatParquet},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[0][0] != int64(2) {
		t.Fatalf("count = %#v", result.Rows[0][0])
	}
	if result.Columns[0] != "count" || result.Truncated {
		t.Fatalf("result = %#v", result)
	}
}

func TestExecuteReadsCSVAndAppliesRowLimit(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"datasets/hotels.csv": []byte(hotelsCSV)}}
	engine := NewEngine(store)

	result, err := engine.Execute(context.Background(), query.Request{
		SQL:      `SELECT "hotel", "city" FROM "data" ORDER BY "hotel"`,
		RowLimit: 2,
		Source:   query.Source{ObjectKey: "datasets/hotels.csv", Format: query.FormatCSV},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 || !result.Truncated {
		t.Fatalf("rows = %d truncated = %v", len(result.Rows), result.Truncated)
	}
	if result.Rows[0][0] != "Adlon" || result.Rows[1][0] != "Ritz" {
		t.Fatalf("rows = %#v", result.Rows)
	}

	result, err = engine.Execute(context.Background(), query.Request{
		SQL:      `SELECT "hotel" FROM "data"`,
		RowLimit: 3,
		Source:   query.Source{ObjectKey: "datasets/hotels.csv", Format: query.FormatCSV},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 3 || result.Truncated {
		t.Fatalf("rows = %d truncated = %v", len(result.Rows), result.Truncated)
	}
}

func TestExecuteAllowsTrailingLineComment(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"datasets/hotels.csv": []byte(hotelsCSV)}}

	result, err := NewEngine(store).Execute(context.Background(), query.Request{
		SQL:      `SELECT "hotel" FROM "data" -- all hotels`,
		RowLimit: 10,
		Source:   query.Source{ObjectKey: "datasets/hotels.csv", Format: query.FormatCSV},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) == 0 || result.Truncated {
		t.Fatalf("rows = %d truncated = %v", len(result.Rows), result.Truncated)
	}
}

func TestExecuteWrapsEngineFailures(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"datasets/hotels.csv": []byte(hotelsCSV)}}
	engine := NewEngine(store)

	_, err := engine.Execute(context.Background(), query.Request{
		SQL:    `SELECT "missing_column" FROM "data"`,
		Source: query.Source{ObjectKey: "datasets/hotels.csv", Format: query.FormatCSV},
	})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v (%T), want ExecutionError", err, err)
	}
	if !strings.Contains(execErr.Error(), "missing_column") {
		t.Fatalf("error = %q", execErr.Error())
	}
}

func TestExecuteBlocksFileAccess(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"datasets/hotels.csv": []byte(hotelsCSV)}}
	engine := NewEngine(store)

	_, err := engine.Execute(context.Background(), query.Request{
		SQL:    `SELECT * FROM read_csv_auto('/etc/hostname')`,
		Source: query.Source{ObjectKey: "datasets/hotels.csv", Format: query.FormatCSV},
	})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want ExecutionError", err)
	}
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	engine := NewEngine(&memoryStore{objects: map[string][]byte{}})
	cases := []query.Request{
		{SQL: " ", Source: query.Source{ObjectKey: "a.csv", Format: query.FormatCSV}},
		{SQL: "SELECT 1", Source: query.Source{ObjectKey: "", Format: query.FormatCSV}},
		{SQL: "SELECT 1", Source: query.Source{ObjectKey: "a.xlsx", Format: "xlsx"}},
		{SQL: "SELECT 1", Source: query.Source{ObjectKey: "missing.csv", Format: query.FormatCSV}},
	}
	for _, request := range cases {
		if _, err := engine.Execute(context.Background(), request); err == nil {
			t.Fatalf("Execute(%#v) expected error", request)
		}
	}
	if _, err := NewEngine(nil).Execute(context.Background(), query.Request{SQL: "SELECT 1", Source: query.Source{ObjectKey: "a.csv", Format: query.FormatCSV}}); err == nil {
		t.Fatal("Execute() without store expected error")
	}
}

func TestDescribeParquet(t *testing.T) {
	parquetBytes, err := buildParquet([]hotelRow{{Hotel: "Adlon", Rooms: 385, Revenue: 1520.5}, {Hotel: "Ritz", Rooms: 142, Revenue: 2100}})
	if err != nil {
		t.Fatalf("buildParquet() error = %v", err)
	}
	engine := NewEngine(&memoryStore{objects: map[string][]byte{"datasets/hotels.parquet": parquetBytes}})

	description, err := engine.Describe(context.Background(), query.Source{ObjectKey: "datasets/hotels.parquet", Format: query.FormatParquet})
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if description.RowCount != 2 {
		t.Fatalf("RowCount = %d", description.RowCount)
	}
	want := schema.Schema{
		{Name: "hotel", Type: schema.TypeText, Sample: "Adlon"},
		{Name: "rooms", Type: schema.TypeInteger, Sample: int64(385)},
		{Name: "revenue", Type: schema.TypeReal, Sample: 1520.5},
	}
	if len(description.Schema) != len(want) {
		t.Fatalf("Schema = %#v", description.Schema)
	}
	for i, column := range want {
		if description.Schema[i] != column {
			t.Fatalf("Schema[%d] = %#v, want %#v", i, description.Schema[i], column)
		}
	}
}

func TestDescribeCSV(t *testing.T) {
	engine := NewEngine(&memoryStore{objects: map[string][]byte{"datasets/hotels.csv": []byte(hotelsCSV)}})

	description, err := engine.Describe(context.Background(), query.Source{ObjectKey: "datasets/hotels.csv", Format: query.FormatCSV})
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if description.RowCount != 3 {
		t.Fatalf("RowCount = %d", description.RowCount)
	}
	names := description.Schema.ColumnNames()
	if strings.Join(names, ",") != "hotel,city,revenue" {
		t.Fatalf("columns = %v", names)
	}
	if description.Schema[0].Type != schema.TypeText || description.Schema[2].Type != schema.TypeReal {
		t.Fatalf("types = %#v", description.Schema)
	}
	if description.Schema[1].Sample != "Berlin" {
		t.Fatalf("city sample = %#v", description.Schema[1].Sample)
	}
}

func TestNormalizeValues(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	instant := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	got := normalizeValues([]any{[]byte("x"), day, instant, int64(4), nil})
	if got[0] != "x" || got[1] != "2024-03-01" || got[2] != "2024-03-01T12:30:00Z" || got[3] != int64(4) || got[4] != nil {
		t.Fatalf("normalizeValues() = %#v", got)
	}
}

func buildParquet(rows []hotelRow) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[hotelRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(context.Context, string, io.Reader, int64, storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	payload, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (m *memoryStore) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Delete(context.Context, string) error {
	return nil
}
