package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var keyComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

var contentTypes = map[string]string{
	"csv":     "text/csv",
	"parquet": "application/vnd.apache.parquet",
}

func DatasetObjectKey(datasetID, format string) (string, error) {
	if err := validateKeyComponent(datasetID, "dataset id"); err != nil {
		return "", err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if _, ok := contentTypes[format]; !ok {
		return "", fmt.Errorf("unsupported dataset format %q", format)
	}
	return path.Join("datasets", datasetID, "source."+format), nil
}

func ContentType(format string) string {
	if contentType, ok := contentTypes[strings.ToLower(strings.TrimSpace(format))]; ok {
		return contentType
	}
	return "application/octet-stream"
}

func validateKeyComponent(value, field string) error {
	if !keyComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
