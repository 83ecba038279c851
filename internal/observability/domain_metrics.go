package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/routing"
)

var (
	routingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_routing_decisions_total",
			Help: "Total number of routed questions by strategy, complexity and outcome.",
		},
		[]string{"strategy", "complexity", "outcome"},
	)
	routingDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_routing_duration_seconds",
			Help:    "Time from question to plan, including any model call.",
			Buckets: []float64{0.0005, 0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"strategy"},
	)
	modelRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_model_request_duration_seconds",
			Help:    "Latency of SQL generation calls by model and outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "outcome"},
	)
	sqlValidationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_sql_validation_rejections_total",
			Help: "Total number of SQL statements rejected by the validator, by error code.",
		},
		[]string{"code"},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_query_executions_total",
			Help: "Total number of executed queries by status.",
		},
		[]string{"status"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_query_duration_seconds",
			Help:    "Query execution latency, including dataset load.",
			Buckets: prometheus.DefBuckets,
		},
	)
	datasetUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_dataset_uploads_total",
			Help: "Total number of registered dataset uploads by format.",
		},
		[]string{"format"},
	)
	datasetUploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_dataset_upload_bytes_total",
			Help: "Total bytes of dataset files accepted by the API.",
		},
	)
	resultExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_result_exports_total",
			Help: "Total number of query results exported as files by format.",
		},
		[]string{"format"},
	)
)

func init() {
	prometheus.MustRegister(
		routingDecisionsTotal,
		routingDurationSeconds,
		modelRequestDurationSeconds,
		sqlValidationRejectionsTotal,
		queryExecutionsTotal,
		queryDurationSeconds,
		datasetUploadsTotal,
		datasetUploadBytesTotal,
		resultExportsTotal,
	)
}

type RoutingMetrics struct{}

var _ routing.Observer = RoutingMetrics{}

func (RoutingMetrics) ObserveRoute(decision routing.Decision, elapsed time.Duration, err error) {
	routingDecisionsTotal.WithLabelValues(string(decision.Strategy), string(decision.Complexity), Outcome(err)).Inc()
	routingDurationSeconds.WithLabelValues(string(decision.Strategy)).Observe(elapsed.Seconds())
}

func Outcome(err error) string {
	var malformed *nl2sql.MalformedResponseError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, nl2sql.ErrModelTimeout):
		return "timeout"
	case errors.As(err, &malformed):
		return "malformed"
	case errors.Is(err, routing.ErrNoTemplateMatch):
		return "no_template"
	case errors.Is(err, routing.ErrModelUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

type instrumentedGenerator struct {
	next nl2sql.Generator
}

func InstrumentGenerator(next nl2sql.Generator) nl2sql.Generator {
	if next == nil {
		return nil
	}
	return instrumentedGenerator{next: next}
}

func (g instrumentedGenerator) Model(tier nl2sql.Tier) string {
	return g.next.Model(tier)
}

func (g instrumentedGenerator) Generate(ctx context.Context, req nl2sql.Request) (nl2sql.Plan, error) {
	started := time.Now()
	plan, err := g.next.Generate(ctx, req)
	modelRequestDurationSeconds.WithLabelValues(g.next.Model(req.Tier), Outcome(err)).Observe(time.Since(started).Seconds())
	return plan, err
}

func ObserveValidationRejection(code string) {
	sqlValidationRejectionsTotal.WithLabelValues(code).Inc()
}

func ObserveQueryExecution(elapsed time.Duration, truncated bool, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case truncated:
		status = "truncated"
	}
	queryExecutionsTotal.WithLabelValues(status).Inc()
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveDatasetUpload(format string, sizeBytes int64) {
	datasetUploadsTotal.WithLabelValues(format).Inc()
	if sizeBytes > 0 {
		datasetUploadBytesTotal.Add(float64(sizeBytes))
	}
}

func ObserveResultExport(format string) {
	resultExportsTotal.WithLabelValues(format).Inc()
}
