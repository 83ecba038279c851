package api

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
)

// documentedOperations reads "METHOD /path" pairs from api/openapi.yaml.
func documentedOperations(t *testing.T) []string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	content, err := os.ReadFile(filepath.Join(filepath.Dir(filename), "..", "..", "api", "openapi.yaml"))
	if err != nil {
		t.Fatalf("read openapi: %v", err)
	}

	var (
		ops     []string
		current string
		inPaths bool
	)
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " ")
		switch {
		case line == "paths:":
			inPaths = true
		case inPaths && line != "" && !strings.HasPrefix(line, " "):
			inPaths = false
		case inPaths && strings.HasPrefix(line, "  /") && strings.HasSuffix(line, ":"):
			current = strings.TrimSuffix(strings.TrimSpace(line), ":")
		case inPaths && current != "" && strings.HasPrefix(line, "    ") && !strings.HasPrefix(line, "     "):
			method := strings.TrimSuffix(strings.TrimSpace(line), ":")
			switch method {
			case "get", "post", "put", "patch", "delete":
				ops = append(ops, strings.ToUpper(method)+" "+current)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan openapi: %v", err)
	}
	return ops
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	documented := documentedOperations(t)
	for _, op := range []string{
		"GET /v1/health",
		"GET /v1/ready",
		"GET /v1/metrics",
		"GET /v1/datasets",
		"POST /v1/datasets",
		"DELETE /v1/datasets/{dataset}",
		"GET /v1/datasets/{dataset}/schema",
		"POST /v1/datasets/{dataset}/ask",
		"POST /v1/datasets/{dataset}/sql",
		"POST /v1/datasets/{dataset}/export",
		"POST /v1/sql/validate",
	} {
		if !slices.Contains(documented, op) {
			t.Fatalf("openapi missing %s (documented: %v)", op, documented)
		}
	}
}

func TestEveryDocumentedOperationIsRouted(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	for _, op := range documentedOperations(t) {
		method, path, _ := strings.Cut(op, " ")
		path = strings.ReplaceAll(path, "{dataset}", "ds-1")

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader("{}")))
		if rr.Code == http.StatusMethodNotAllowed || rr.Body.String() == "404 page not found\n" {
			t.Fatalf("%s is documented but not routed (status %d)", op, rr.Code)
		}
	}
}
