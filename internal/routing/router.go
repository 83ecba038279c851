package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/schema"
)

type Strategy string

const (
	StrategyTemplate  Strategy = "TEMPLATE"
	StrategyModelLow  Strategy = "MODEL_LOW"
	StrategyModelHigh Strategy = "MODEL_HIGH"
)

var (
	ErrNoTemplateMatch  = errors.New("no template matches the question")
	ErrModelUnavailable = errors.New("model generation is not configured")
)

func ParseStrategy(raw string) (Strategy, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_"))
	switch Strategy(normalized) {
	case StrategyTemplate, StrategyModelLow, StrategyModelHigh:
		return Strategy(normalized), nil
	default:
		return "", fmt.Errorf("unknown strategy %q (expected template, model_low or model_high)", raw)
	}
}

type Decision struct {
	Strategy   Strategy   `json:"strategy"`
	Complexity Complexity `json:"complexity"`
	Reason     string     `json:"reason"`
	Model      string     `json:"model_name,omitempty"`
}

type Observer interface {
	ObserveRoute(decision Decision, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveRoute(Decision, time.Duration, error) {}

type Router struct {
	Matcher   *Matcher
	Analyzer  *Analyzer
	Generator nl2sql.Generator
	Observer  Observer
	Logger    *slog.Logger
}

func NewRouter(generator nl2sql.Generator, cfg AnalyzerConfig, observer Observer, logger *slog.Logger) *Router {
	matcher := DefaultMatcher()
	return &Router{
		Matcher:   matcher,
		Analyzer:  NewAnalyzer(matcher, cfg),
		Generator: generator,
		Observer:  observer,
		Logger:    logger,
	}
}

func (r *Router) Route(ctx context.Context, question string, s schema.Schema, values nl2sql.Context, force *Strategy) (nl2sql.Plan, Decision, error) {
	started := time.Now()
	plan, decision, err := r.route(ctx, question, s, values, force)

	observer := r.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	observer.ObserveRoute(decision, time.Since(started), err)

	if r.Logger != nil {
		attrs := []any{
			slog.String("strategy", string(decision.Strategy)),
			slog.String("complexity", string(decision.Complexity)),
			slog.String("reason", decision.Reason),
			slog.String("model", decision.Model),
			slog.String("schema_fingerprint", s.Fingerprint()),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		r.Logger.DebugContext(ctx, "routing_decision", attrs...)
	}
	return plan, decision, err
}

func (r *Router) route(ctx context.Context, question string, s schema.Schema, values nl2sql.Context, force *Strategy) (nl2sql.Plan, Decision, error) {
	matcher := r.Matcher
	if matcher == nil {
		matcher = DefaultMatcher()
	}

	var decision Decision
	if force != nil {
		decision = Decision{Strategy: *force, Complexity: nominalComplexity(*force), Reason: "forced strategy"}
		if *force == StrategyTemplate {
			plan := matcher.Match(question)
			if plan == nil {
				return nil, decision, ErrNoTemplateMatch
			}
			return *plan, decision, nil
		}
	} else {
		if plan := matcher.Match(question); plan != nil {
			return *plan, Decision{Strategy: StrategyTemplate, Complexity: ComplexitySimple, Reason: "matches template pattern"}, nil
		}
		analyzer := r.Analyzer
		if analyzer == nil {
			analyzer = NewAnalyzer(matcher, DefaultAnalyzerConfig())
		}
		assessment := analyzer.Assess(question, s)
		decision = Decision{Strategy: strategyFor(assessment.Complexity), Complexity: assessment.Complexity, Reason: assessment.Reason}
	}

	if r.Generator == nil {
		return nil, decision, ErrModelUnavailable
	}
	tier := nl2sql.TierLow
	if decision.Strategy == StrategyModelHigh {
		tier = nl2sql.TierHigh
	}
	decision.Model = r.Generator.Model(tier)

	plan, err := r.Generator.Generate(ctx, nl2sql.Request{
		Question: question,
		Schema:   s,
		Context:  values,
		Tier:     tier,
	})
	if err != nil {
		return nil, decision, err
	}
	if plan == nil {
		return nil, decision, &nl2sql.MalformedResponseError{Reason: "generator returned no plan"}
	}
	return plan, decision, nil
}

func strategyFor(complexity Complexity) Strategy {
	if complexity == ComplexityComplex {
		return StrategyModelHigh
	}
	return StrategyModelLow
}

func nominalComplexity(strategy Strategy) Complexity {
	switch strategy {
	case StrategyTemplate:
		return ComplexitySimple
	case StrategyModelHigh:
		return ComplexityComplex
	default:
		return ComplexityMedium
	}
}
