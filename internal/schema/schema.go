package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const TableName = "data"

type ColumnType string

const (
	TypeText    ColumnType = "TEXT"
	TypeInteger ColumnType = "INTEGER"
	TypeReal    ColumnType = "REAL"
)

type Column struct {
	Name   string     `json:"name"`
	Type   ColumnType `json:"type"`
	Sample any        `json:"sample"`
}

type Schema []Column

func ParseColumnType(raw string) ColumnType {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if idx := strings.IndexByte(normalized, '('); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	switch normalized {
	case "INTEGER", "INT", "BIGINT", "SMALLINT", "TINYINT", "HUGEINT",
		"UBIGINT", "UINTEGER", "USMALLINT", "UTINYINT", "UHUGEINT", "INT4", "INT8", "LONG":
		return TypeInteger
	case "REAL", "DOUBLE", "FLOAT", "DECIMAL", "NUMERIC", "FLOAT4", "FLOAT8":
		return TypeReal
	default:
		return TypeText
	}
}

func (s Schema) ColumnNames() []string {
	names := make([]string, 0, len(s))
	for _, column := range s {
		names = append(names, column.Name)
	}
	return names
}

func (s Schema) PromptLines() string {
	lines := make([]string, 0, len(s))
	for _, column := range s {
		line := fmt.Sprintf("- %s (%s)", column.Name, column.Type)
		if column.Sample != nil {
			line += fmt.Sprintf(" e.g. %v", column.Sample)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (s Schema) Fingerprint() string {
	hash := sha256.New()
	for _, column := range s {
		_, _ = fmt.Fprintf(hash, "%s\x1f%s\x1e", column.Name, column.Type)
	}
	return hex.EncodeToString(hash.Sum(nil))[:16]
}
