package charthint

import (
	"strings"
	"time"
)

type Kind string

const (
	KindBar    Kind = "bar"
	KindLine   Kind = "line"
	KindMetric Kind = "metric"
	KindTable  Kind = "table"
)

type Hint struct {
	Kind Kind   `json:"type"`
	X    string `json:"x,omitempty"`
	Y    string `json:"y,omitempty"`
}

type columnKind int

const (
	columnOther columnKind = iota
	columnNumeric
	columnTemporal
	columnText
)

var dateLayouts = []string{time.DateOnly, time.RFC3339Nano, time.DateTime, "2006-01"}

func Suggest(columns []string, rows [][]any) Hint {
	if len(columns) == 0 || len(rows) == 0 {
		return Hint{Kind: KindTable}
	}
	if len(columns) == 1 && len(rows) == 1 {
		if classify(columns[0], rows, 0) == columnNumeric {
			return Hint{Kind: KindMetric, Y: columns[0]}
		}
		return Hint{Kind: KindTable}
	}
	if len(columns) != 2 {
		return Hint{Kind: KindTable}
	}

	first := classify(columns[0], rows, 0)
	second := classify(columns[1], rows, 1)
	switch {
	case first == columnTemporal && second == columnNumeric:
		return Hint{Kind: KindLine, X: columns[0], Y: columns[1]}
	case second == columnTemporal && first == columnNumeric:
		return Hint{Kind: KindLine, X: columns[1], Y: columns[0]}
	case first == columnText && second == columnNumeric:
		return Hint{Kind: KindBar, X: columns[0], Y: columns[1]}
	case second == columnText && first == columnNumeric:
		return Hint{Kind: KindBar, X: columns[1], Y: columns[0]}
	default:
		return Hint{Kind: KindTable}
	}
}

func classify(name string, rows [][]any, index int) columnKind {
	numeric, temporal, text, seen := true, true, true, false
	for _, row := range rows {
		if index >= len(row) || row[index] == nil {
			continue
		}
		seen = true
		value := row[index]
		if !isNumber(value) {
			numeric = false
		}
		if !isTemporal(value) {
			temporal = false
		}
		if _, ok := value.(string); !ok {
			text = false
		}
	}
	switch {
	case !seen:
		return columnOther
	case numeric:
		if looksLikeTimeName(name) && isYearLike(rows, index) {
			return columnTemporal
		}
		return columnNumeric
	case temporal:
		return columnTemporal
	case text:
		return columnText
	default:
		return columnOther
	}
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func isTemporal(value any) bool {
	switch typed := value.(type) {
	case time.Time:
		return true
	case string:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, typed); err == nil {
				return true
			}
		}
	}
	return false
}

func looksLikeTimeName(name string) bool {
	lowered := strings.ToLower(name)
	return lowered == "year" || strings.HasSuffix(lowered, "_year")
}

func isYearLike(rows [][]any, index int) bool {
	for _, row := range rows {
		if index >= len(row) || row[index] == nil {
			continue
		}
		var year int64
		switch typed := row[index].(type) {
		case int64:
			year = typed
		case int32:
			year = int64(typed)
		case int:
			year = int64(typed)
		default:
			return false
		}
		if year < 1000 || year > 9999 {
			return false
		}
	}
	return true
}
