package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

func CSV(w io.Writer, columns []string, rows [][]any) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i := range columns {
			record[i] = ""
			if i < len(row) && row[i] != nil {
				record[i] = formatValue(row[i])
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
