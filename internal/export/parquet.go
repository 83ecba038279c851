package export

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/parquet-go/parquet-go"
)

type columnKind int

const (
	kindString columnKind = iota
	kindInt64
	kindDouble
	kindBoolean
)

func Parquet(columns []string, rows [][]any) ([]byte, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("columns are required")
	}

	names := uniqueNames(columns)
	kinds := make([]columnKind, len(columns))
	group := make(parquet.Group, len(columns))
	for i, name := range names {
		kinds[i] = inferKind(rows, i)
		group[name] = parquet.Optional(kindNode(kinds[i]))
	}
	schema := parquet.NewSchema("result", group)

	leafIndex := make(map[string]int, len(names))
	for i, field := range schema.Fields() {
		leafIndex[field.Name()] = i
	}
	order := make([]int, len(names))
	for i, name := range names {
		order[leafIndex[name]] = i
	}

	parquetRows := make([]parquet.Row, 0, len(rows))
	for _, row := range rows {
		parquetRow := make(parquet.Row, len(order))
		for leaf, source := range order {
			var value any
			if source < len(row) {
				value = row[source]
			}
			converted, err := convertValue(value, kinds[source])
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", names[source], err)
			}
			if converted == nil {
				parquetRow[leaf] = parquet.Value{}.Level(0, 0, leaf)
				continue
			}
			parquetRow[leaf] = parquet.ValueOf(converted).Level(0, 1, leaf)
		}
		parquetRows = append(parquetRows, parquetRow)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(parquetRows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func kindNode(kind columnKind) parquet.Node {
	switch kind {
	case kindInt64:
		return parquet.Int(64)
	case kindDouble:
		return parquet.Leaf(parquet.DoubleType)
	case kindBoolean:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func inferKind(rows [][]any, column int) columnKind {
	kind := columnKind(-1)
	for _, row := range rows {
		if column >= len(row) || row[column] == nil {
			continue
		}
		var current columnKind
		switch row[column].(type) {
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			current = kindInt64
		case float32, float64:
			current = kindDouble
		case bool:
			current = kindBoolean
		default:
			return kindString
		}
		switch {
		case kind == -1 || kind == current:
			kind = current
		case (kind == kindInt64 && current == kindDouble) || (kind == kindDouble && current == kindInt64):
			kind = kindDouble
		default:
			return kindString
		}
	}
	if kind == -1 {
		return kindString
	}
	return kind
}

func convertValue(value any, kind columnKind) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch kind {
	case kindInt64:
		n, ok := toInt64(value)
		if !ok {
			return nil, fmt.Errorf("unexpected %T in integer column", value)
		}
		return n, nil
	case kindDouble:
		if n, ok := toInt64(value); ok {
			return float64(n), nil
		}
		switch typed := value.(type) {
		case float32:
			return float64(typed), nil
		case float64:
			return typed, nil
		}
		return nil, fmt.Errorf("unexpected %T in double column", value)
	case kindBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("unexpected %T in boolean column", value)
		}
		return b, nil
	default:
		return formatValue(value), nil
	}
}

func toInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int:
		return int64(typed), true
	case int8:
		return int64(typed), true
	case int16:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case uint8:
		return int64(typed), true
	case uint16:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	default:
		return 0, false
	}
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}

func uniqueNames(columns []string) []string {
	used := make(map[string]bool, len(columns))
	names := make([]string, len(columns))
	for i, column := range columns {
		name := column
		if name == "" {
			name = "column" + strconv.Itoa(i+1)
		}
		for n := 2; used[name]; n++ {
			name = column + "_" + strconv.Itoa(n)
		}
		used[name] = true
		names[i] = name
	}
	return names
}
