package querypilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type call struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	raw    bool
	output string
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querypilotctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querypilot API base URL")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	request, err := buildCall(command, fs.Args()[1:], stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n\n", command, err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + request.path
	code, responseBody, err := doRequest(ctx, client, request, endpoint)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if request.raw {
		return writeRaw(stdout, stderr, request.output, responseBody)
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildCall(command string, args []string, stderr io.Writer) (call, error) {
	switch command {
	case "health":
		return call{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return call{method: http.MethodGet, path: "/v1/ready"}, nil
	case "datasets":
		return call{method: http.MethodGet, path: "/v1/datasets"}, nil
	case "schema":
		if len(args) != 1 {
			return call{}, fmt.Errorf("expected <dataset>")
		}
		return call{method: http.MethodGet, path: "/v1/datasets/" + url.PathEscape(args[0]) + "/schema"}, nil
	case "delete":
		if len(args) != 1 {
			return call{}, fmt.Errorf("expected <dataset>")
		}
		return call{method: http.MethodDelete, path: "/v1/datasets/" + url.PathEscape(args[0])}, nil
	case "upload":
		return uploadCall(args)
	case "ask":
		return askCall(args, stderr)
	case "sql":
		if len(args) < 2 {
			return call{}, fmt.Errorf("expected <dataset> <sql...>")
		}
		return jsonCall("/v1/datasets/"+url.PathEscape(args[0])+"/sql", map[string]any{"sql": strings.Join(args[1:], " ")})
	case "export":
		return exportCall(args, stderr)
	case "validate":
		if len(args) < 1 {
			return call{}, fmt.Errorf("expected <sql...>")
		}
		return jsonCall("/v1/sql/validate", map[string]any{"sql": strings.Join(args, " ")})
	default:
		return call{}, fmt.Errorf("unknown command %q", command)
	}
}

func askCall(args []string, stderr io.Writer) (call, error) {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(stderr)
	values := contextFlag{}
	fs.Var(values, "context", "clarification answer as id=value (repeatable)")
	strategy := fs.String("strategy", "", "force template, model_low or model_high")
	if err := fs.Parse(args); err != nil {
		return call{}, err
	}
	if fs.NArg() < 2 {
		return call{}, fmt.Errorf("expected [flags] <dataset> <question...>")
	}
	payload := map[string]any{"question": strings.Join(fs.Args()[1:], " ")}
	if len(values) > 0 {
		payload["context"] = map[string]string(values)
	}
	if strings.TrimSpace(*strategy) != "" {
		payload["strategy"] = strings.TrimSpace(*strategy)
	}
	return jsonCall("/v1/datasets/"+url.PathEscape(fs.Arg(0))+"/ask", payload)
}

func exportCall(args []string, stderr io.Writer) (call, error) {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "csv", "csv or parquet")
	output := fs.String("o", "", "write the file here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return call{}, err
	}
	if fs.NArg() < 2 {
		return call{}, fmt.Errorf("expected [flags] <dataset> <sql...>")
	}
	request, err := jsonCall(
		"/v1/datasets/"+url.PathEscape(fs.Arg(0))+"/export?format="+url.QueryEscape(strings.TrimSpace(*format)),
		map[string]any{"sql": strings.Join(fs.Args()[1:], " ")},
	)
	if err != nil {
		return call{}, err
	}
	request.raw = true
	request.output = strings.TrimSpace(*output)
	return request, nil
}

func writeRaw(stdout, stderr io.Writer, output string, body []byte) int {
	if output == "" {
		if _, err := stdout.Write(body); err != nil {
			_, _ = fmt.Fprintf(stderr, "write output: %v\n", err)
			return 1
		}
		return 0
	}
	if err := os.WriteFile(output, body, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "write %s: %v\n", output, err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "wrote %d bytes to %s\n", len(body), output)
	return 0
}

func uploadCall(args []string) (call, error) {
	if len(args) != 1 {
		return call{}, fmt.Errorf("expected <file>")
	}
	payload, err := os.ReadFile(args[0])
	if err != nil {
		return call{}, fmt.Errorf("read dataset file: %w", err)
	}
	name := filepath.Base(args[0])
	contentType := "text/csv"
	if strings.EqualFold(filepath.Ext(name), ".parquet") {
		contentType = "application/vnd.apache.parquet"
	}
	return call{
		method:      http.MethodPost,
		path:        "/v1/datasets?name=" + url.QueryEscape(name),
		body:        bytes.NewReader(payload),
		contentType: contentType,
	}, nil
}

func jsonCall(path string, payload map[string]any) (call, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return call{}, err
	}
	return call{method: http.MethodPost, path: path, body: bytes.NewReader(body), contentType: "application/json"}, nil
}

type contextFlag map[string]string

func (c contextFlag) String() string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+c[key])
	}
	return strings.Join(pairs, ",")
}

func (c contextFlag) Set(raw string) error {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("context must be id=value, got %q", raw)
	}
	c[key] = strings.TrimSpace(value)
	return nil
}

func doRequest(ctx context.Context, client *http.Client, request call, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, request.method, endpoint, request.body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if request.contentType != "" {
		req.Header.Set("Content-Type", request.contentType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querypilotctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                          GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                           GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  datasets                        GET /v1/datasets")
	_, _ = fmt.Fprintln(w, "  upload <file>                   POST /v1/datasets")
	_, _ = fmt.Fprintln(w, "  schema <dataset>                GET /v1/datasets/{dataset}/schema")
	_, _ = fmt.Fprintln(w, "  delete <dataset>                DELETE /v1/datasets/{dataset}")
	_, _ = fmt.Fprintln(w, "  ask [-context id=value] [-strategy s] <dataset> <question...>")
	_, _ = fmt.Fprintln(w, "                                  POST /v1/datasets/{dataset}/ask")
	_, _ = fmt.Fprintln(w, "  sql <dataset> <sql...>          POST /v1/datasets/{dataset}/sql")
	_, _ = fmt.Fprintln(w, "  export [-format f] [-o file] <dataset> <sql...>")
	_, _ = fmt.Fprintln(w, "                                  POST /v1/datasets/{dataset}/export")
	_, _ = fmt.Fprintln(w, "  validate <sql...>               POST /v1/sql/validate")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
