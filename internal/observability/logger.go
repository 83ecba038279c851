package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/querypilot/querypilot/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

const redacted = "[redacted]"

var secretKeys = map[string]bool{
	"api_key":       true,
	"authorization": true,
	"secret_key":    true,
	"password":      true,
}

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{
		Level:       cfg.Observability.LogLevel,
		ReplaceAttr: redactSecrets,
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(traceHandler{Handler: handler}).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func redactSecrets(_ []string, attr slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(attr.Key)] && attr.Value.Kind() == slog.KindString && attr.Value.String() != "" {
		return slog.String(attr.Key, redacted)
	}
	return attr
}

type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		record.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, record)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{Handler: h.Handler.WithGroup(name)}
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
