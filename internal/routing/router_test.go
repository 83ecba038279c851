package routing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/nl2sql"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []nl2sql.Request
	plan     nl2sql.Plan
	err      error
	noPlan   bool
}

func (g *fakeGenerator) Generate(_ context.Context, req nl2sql.Request) (nl2sql.Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	if g.noPlan {
		return nil, nil
	}
	if g.plan != nil {
		return g.plan, nil
	}
	return nl2sql.SQLPlan{SQL: `SELECT "hotel" FROM "data"`, Explanation: "generated"}, nil
}

func (g *fakeGenerator) Model(tier nl2sql.Tier) string {
	if tier == nl2sql.TierHigh {
		return "large-model"
	}
	return "small-model"
}

type recordingObserver struct {
	mu        sync.Mutex
	decisions []Decision
	errs      []error
}

func (o *recordingObserver) ObserveRoute(decision Decision, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, decision)
	o.errs = append(o.errs, err)
}

func newTestRouter(generator nl2sql.Generator, observer Observer) *Router {
	return NewRouter(generator, DefaultAnalyzerConfig(), observer, nil)
}

func TestRouteTemplateQuestions(t *testing.T) {
	generator := &fakeGenerator{}
	router := newTestRouter(generator, nil)

	cases := []struct {
		question string
		wantSQL  string
	}{
		{question: "show all", wantSQL: `SELECT * FROM "data" LIMIT 50`},
		{question: "count", wantSQL: `SELECT COUNT(*) AS "count" FROM "data"`},
	}
	for _, tc := range cases {
		plan, decision, err := router.Route(context.Background(), tc.question, hotelSchema(), nil, nil)
		if err != nil {
			t.Fatalf("Route(%q) error = %v", tc.question, err)
		}
		sqlPlan, ok := plan.(nl2sql.SQLPlan)
		if !ok || sqlPlan.SQL != tc.wantSQL {
			t.Fatalf("Route(%q) plan = %#v", tc.question, plan)
		}
		if decision.Strategy != StrategyTemplate || decision.Complexity != ComplexitySimple {
			t.Fatalf("Route(%q) decision = %#v", tc.question, decision)
		}
		if decision.Model != "" {
			t.Fatalf("Route(%q) model = %q, want empty", tc.question, decision.Model)
		}
	}
	if len(generator.requests) != 0 {
		t.Fatalf("generator called %d times for template questions", len(generator.requests))
	}
}

func TestRouteMediumQuestionUsesLowTier(t *testing.T) {
	generator := &fakeGenerator{}
	router := newTestRouter(generator, nil)

	values := nl2sql.Context{"metric": "revenue"}
	plan, decision, err := router.Route(context.Background(), "top 5 hotels by revenue", hotelSchema(), values, nil)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if _, ok := plan.(nl2sql.SQLPlan); !ok {
		t.Fatalf("plan = %#v", plan)
	}
	if decision.Strategy != StrategyModelLow || decision.Complexity != ComplexityMedium {
		t.Fatalf("decision = %#v", decision)
	}
	if decision.Model != "small-model" {
		t.Fatalf("model = %q", decision.Model)
	}
	if len(generator.requests) != 1 {
		t.Fatalf("generator calls = %d", len(generator.requests))
	}
	req := generator.requests[0]
	if req.Tier != nl2sql.TierLow || req.Question != "top 5 hotels by revenue" || req.Context["metric"] != "revenue" {
		t.Fatalf("request = %#v", req)
	}
	if len(req.Schema) != len(hotelSchema()) {
		t.Fatalf("schema columns = %d", len(req.Schema))
	}
}

func TestRouteComplexQuestionsUseHighTier(t *testing.T) {
	for _, tc := range []struct {
		question   string
		wantReason string
	}{
		{question: "top 5 hotels by revenue last month", wantReason: "date/time"},
		{question: "hotels with revenue above the average and rating above 4.5", wantReason: "combinator"},
	} {
		generator := &fakeGenerator{}
		router := newTestRouter(generator, nil)

		_, decision, err := router.Route(context.Background(), tc.question, hotelSchema(), nil, nil)
		if err != nil {
			t.Fatalf("Route(%q) error = %v", tc.question, err)
		}
		if decision.Strategy != StrategyModelHigh || decision.Complexity != ComplexityComplex {
			t.Fatalf("Route(%q) decision = %#v", tc.question, decision)
		}
		if !strings.Contains(decision.Reason, tc.wantReason) {
			t.Fatalf("Route(%q) reason = %q", tc.question, decision.Reason)
		}
		if decision.Model != "large-model" || generator.requests[0].Tier != nl2sql.TierHigh {
			t.Fatalf("Route(%q) model = %q tier = %q", tc.question, decision.Model, generator.requests[0].Tier)
		}
	}
}

func TestRouteShortNonTemplateQuestionUsesLowTier(t *testing.T) {
	generator := &fakeGenerator{}
	router := newTestRouter(generator, nil)

	_, decision, err := router.Route(context.Background(), "hotel pools", hotelSchema(), nil, nil)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if decision.Strategy != StrategyModelLow || decision.Complexity != ComplexitySimple {
		t.Fatalf("decision = %#v", decision)
	}
}

func TestRouteForcedStrategy(t *testing.T) {
	generator := &fakeGenerator{}
	router := newTestRouter(generator, nil)

	high := StrategyModelHigh
	_, decision, err := router.Route(context.Background(), "show all", hotelSchema(), nil, &high)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if decision.Strategy != StrategyModelHigh || decision.Reason != "forced strategy" || decision.Complexity != ComplexityComplex {
		t.Fatalf("decision = %#v", decision)
	}
	if len(generator.requests) != 1 || generator.requests[0].Tier != nl2sql.TierHigh {
		t.Fatalf("requests = %#v", generator.requests)
	}

	low := StrategyModelLow
	_, decision, err = router.Route(context.Background(), "top 5 hotels by revenue last month", hotelSchema(), nil, &low)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if decision.Strategy != StrategyModelLow || decision.Model != "small-model" {
		t.Fatalf("decision = %#v", decision)
	}

	template := StrategyTemplate
	plan, decision, err := router.Route(context.Background(), "first 3 rows", hotelSchema(), nil, &template)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if sqlPlan, ok := plan.(nl2sql.SQLPlan); !ok || sqlPlan.SQL != `SELECT * FROM "data" LIMIT 3` {
		t.Fatalf("plan = %#v", plan)
	}
	if decision.Strategy != StrategyTemplate {
		t.Fatalf("decision = %#v", decision)
	}

	_, decision, err = router.Route(context.Background(), "top 5 hotels by revenue", hotelSchema(), nil, &template)
	if !errors.Is(err, ErrNoTemplateMatch) {
		t.Fatalf("Route() error = %v, want ErrNoTemplateMatch", err)
	}
	if decision.Strategy != StrategyTemplate {
		t.Fatalf("decision = %#v", decision)
	}
	if len(generator.requests) != 2 {
		t.Fatalf("generator calls = %d", len(generator.requests))
	}
}

func TestRoutePropagatesGeneratorErrors(t *testing.T) {
	observer := &recordingObserver{}
	generator := &fakeGenerator{err: nl2sql.ErrModelTimeout}
	router := newTestRouter(generator, observer)

	plan, decision, err := router.Route(context.Background(), "top 5 hotels by revenue", hotelSchema(), nil, nil)
	if !errors.Is(err, nl2sql.ErrModelTimeout) {
		t.Fatalf("Route() error = %v", err)
	}
	if plan != nil {
		t.Fatalf("plan = %#v, want nil on error", plan)
	}
	if decision.Strategy != StrategyModelLow || decision.Model != "small-model" {
		t.Fatalf("decision = %#v", decision)
	}
	if len(observer.errs) != 1 || !errors.Is(observer.errs[0], nl2sql.ErrModelTimeout) {
		t.Fatalf("observer errs = %#v", observer.errs)
	}
}

func TestRouteRejectsEmptyGeneratorReply(t *testing.T) {
	router := newTestRouter(&fakeGenerator{noPlan: true}, nil)

	plan, _, err := router.Route(context.Background(), "top 5 hotels by revenue", hotelSchema(), nil, nil)
	var malformed *nl2sql.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("Route() error = %v, want MalformedResponseError", err)
	}
	if plan != nil {
		t.Fatalf("plan = %#v", plan)
	}
}

func TestRouteReturnsClarificationPlans(t *testing.T) {
	clarification := nl2sql.ClarificationPlan{
		Clarification: nl2sql.Clarification{Question: "Which date column?", ID: "date_column", Kind: nl2sql.ClarificationSingleSelect, Options: []string{"booked_on"}},
		Explanation:   "The question refers to time.",
	}
	router := newTestRouter(&fakeGenerator{plan: clarification}, nil)

	plan, _, err := router.Route(context.Background(), "revenue last week", hotelSchema(), nil, nil)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	got, ok := plan.(nl2sql.ClarificationPlan)
	if !ok || got.Clarification.ID != "date_column" {
		t.Fatalf("plan = %#v", plan)
	}
}

func TestRouteWithoutGenerator(t *testing.T) {
	router := newTestRouter(nil, nil)

	if _, _, err := router.Route(context.Background(), "count", hotelSchema(), nil, nil); err != nil {
		t.Fatalf("template Route() error = %v", err)
	}
	if _, _, err := router.Route(context.Background(), "top 5 hotels by revenue", hotelSchema(), nil, nil); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("Route() error = %v, want ErrModelUnavailable", err)
	}
}

func TestRouteObserverSeesConcurrentDecisions(t *testing.T) {
	observer := &recordingObserver{}
	router := newTestRouter(&fakeGenerator{}, observer)

	questions := []string{"show all", "count", "top 5 hotels by revenue", "top 5 hotels by revenue last month"}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, question := range questions {
			wg.Add(1)
			go func(question string) {
				defer wg.Done()
				if _, _, err := router.Route(context.Background(), question, hotelSchema(), nil, nil); err != nil {
					t.Errorf("Route(%q) error = %v", question, err)
				}
			}(question)
		}
	}
	wg.Wait()

	counts := map[Strategy]int{}
	for _, decision := range observer.decisions {
		counts[decision.Strategy]++
	}
	if counts[StrategyTemplate] != 40 || counts[StrategyModelLow] != 20 || counts[StrategyModelHigh] != 20 {
		t.Fatalf("strategy counts = %#v", counts)
	}
}

func TestRouteLogsDecisionAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	router := NewRouter(&fakeGenerator{}, DefaultAnalyzerConfig(), nil, logger)

	if _, _, err := router.Route(context.Background(), "count", hotelSchema(), nil, nil); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"msg":"routing_decision"`) || !strings.Contains(out, `"strategy":"TEMPLATE"`) {
		t.Fatalf("log output = %s", out)
	}
}

func TestParseStrategy(t *testing.T) {
	cases := map[string]Strategy{
		"template":   StrategyTemplate,
		"MODEL_LOW":  StrategyModelLow,
		"model-high": StrategyModelHigh,
		" Model_Low": StrategyModelLow,
	}
	for raw, want := range cases {
		got, err := ParseStrategy(raw)
		if err != nil {
			t.Fatalf("ParseStrategy(%q) error = %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseStrategy(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := ParseStrategy("gpt"); err == nil {
		t.Fatal("ParseStrategy(gpt) expected error")
	}
}
