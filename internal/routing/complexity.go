package routing

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/querypilot/querypilot/internal/schema"
)

type Complexity string

const (
	ComplexitySimple  Complexity = "SIMPLE"
	ComplexityMedium  Complexity = "MEDIUM"
	ComplexityComplex Complexity = "COMPLEX"
)

type AnalyzerConfig struct {
	SimpleMaxWords int
	MediumMaxWords int

	DateTerms       []string
	DateColumnHints []string
	AggregationTerms map[string][]string
	CombinatorTerms  []string
	SubqueryTerms    []string
	RankingTerms     []string
	GroupingTerms    []string
}

func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		SimpleMaxWords: 3,
		MediumMaxWords: 15,
		DateTerms: []string{
			"last", "yesterday", "today", "tomorrow", "tonight", "ago", "recent", "recently", "since",
			"day", "days", "daily", "week", "weeks", "weekly", "weekend",
			"month", "months", "monthly", "quarter", "quarters", "quarterly",
			"year", "years", "yearly", "annual", "annually", "ytd", "mtd",
			"date", "dates", "hour", "hours", "hourly",
			"january", "february", "march", "april", "june", "july", "august",
			"september", "october", "november", "december",
		},
		DateColumnHints: []string{"date", "time", "day", "week", "month", "year", "created", "updated", "_at", "_on"},
		AggregationTerms: map[string][]string{
			"count":   {"count", "counts", "how many", "number of"},
			"sum":     {"sum", "total", "totals"},
			"average": {"average", "avg", "mean"},
			"max":     {"max", "maximum"},
			"min":     {"min", "minimum"},
		},
		CombinatorTerms: []string{"and", "or", "but not", "excluding", "except"},
		SubqueryTerms: []string{
			"above the average", "below the average", "above average", "below average",
			"than the average", "than average", "median", "percentile", "percentiles", "quartile",
		},
		RankingTerms: []string{
			"top", "bottom", "highest", "lowest", "largest", "smallest", "most", "least",
			"best", "worst", "sort", "sorted", "order", "ordered", "rank", "ranked", "ranking",
		},
		GroupingTerms: []string{"by", "per", "each", "breakdown"},
	}
}

type Assessment struct {
	Complexity Complexity
	Reason     string
	WordCount  int
}

type Analyzer struct {
	matcher *Matcher
	cfg     AnalyzerConfig

	dateTerms   [][]string
	aggregation map[string][][]string
	families    []string
	combinators [][]string
	subqueries  [][]string
	ranking     [][]string
	grouping    [][]string
}

func NewAnalyzer(matcher *Matcher, cfg AnalyzerConfig) *Analyzer {
	defaults := DefaultAnalyzerConfig()
	if cfg.SimpleMaxWords <= 0 {
		cfg.SimpleMaxWords = defaults.SimpleMaxWords
	}
	if cfg.MediumMaxWords <= cfg.SimpleMaxWords {
		cfg.MediumMaxWords = defaults.MediumMaxWords
	}
	if matcher == nil {
		matcher = DefaultMatcher()
	}

	a := &Analyzer{
		matcher:     matcher,
		cfg:         cfg,
		dateTerms:   tokenizeAll(cfg.DateTerms),
		aggregation: map[string][][]string{},
		combinators: tokenizeAll(cfg.CombinatorTerms),
		subqueries:  tokenizeAll(cfg.SubqueryTerms),
		ranking:     tokenizeAll(cfg.RankingTerms),
		grouping:    tokenizeAll(cfg.GroupingTerms),
	}
	for family, terms := range cfg.AggregationTerms {
		a.aggregation[family] = tokenizeAll(terms)
		a.families = append(a.families, family)
	}
	sort.Strings(a.families)
	return a
}

func (a *Analyzer) Analyze(question string, s schema.Schema) Complexity {
	return a.Assess(question, s).Complexity
}

func (a *Analyzer) Assess(question string, s schema.Schema) Assessment {
	words := len(strings.Fields(question))
	tokens := tokenize(question)

	if words <= a.cfg.SimpleMaxWords && a.matcher.Match(question) != nil {
		return Assessment{Complexity: ComplexitySimple, Reason: "matches template pattern", WordCount: words}
	}

	if term, ok := firstPhrase(tokens, a.dateTerms); ok {
		return Assessment{
			Complexity: ComplexityComplex,
			Reason:     fmt.Sprintf("contains date/time reference %q, escalated", term),
			WordCount:  words,
		}
	}
	if column, ok := a.mentionedDateColumn(tokens, s); ok {
		return Assessment{
			Complexity: ComplexityComplex,
			Reason:     fmt.Sprintf("references date/time column %q, escalated", column),
			WordCount:  words,
		}
	}

	families := a.aggregationFamilies(tokens)
	if len(families) >= 2 {
		return Assessment{
			Complexity: ComplexityComplex,
			Reason:     fmt.Sprintf("multiple aggregations detected (%s)", strings.Join(families, ", ")),
			WordCount:  words,
		}
	}
	if term, ok := firstPhrase(tokens, a.combinators); ok {
		return Assessment{Complexity: ComplexityComplex, Reason: fmt.Sprintf("boolean combinator %q", term), WordCount: words}
	}
	if term, ok := firstPhrase(tokens, a.subqueries); ok {
		return Assessment{Complexity: ComplexityComplex, Reason: fmt.Sprintf("subquery phrase %q", term), WordCount: words}
	}

	if len(families) == 1 {
		return Assessment{
			Complexity: ComplexityMedium,
			Reason:     fmt.Sprintf("single aggregation detected (%s)", families[0]),
			WordCount:  words,
		}
	}
	if term, ok := firstPhrase(tokens, a.ranking); ok {
		return Assessment{Complexity: ComplexityMedium, Reason: fmt.Sprintf("sort/top-N keyword %q", term), WordCount: words}
	}
	if term, ok := firstPhrase(tokens, a.grouping); ok {
		return Assessment{Complexity: ComplexityMedium, Reason: fmt.Sprintf("group-by keyword %q", term), WordCount: words}
	}

	switch {
	case words <= a.cfg.SimpleMaxWords:
		return Assessment{Complexity: ComplexitySimple, Reason: fmt.Sprintf("short question (%d words)", words), WordCount: words}
	case words <= a.cfg.MediumMaxWords:
		return Assessment{Complexity: ComplexityMedium, Reason: fmt.Sprintf("moderate length question (%d words)", words), WordCount: words}
	default:
		return Assessment{Complexity: ComplexityComplex, Reason: fmt.Sprintf("long question (%d words)", words), WordCount: words}
	}
}

func (a *Analyzer) aggregationFamilies(tokens []string) []string {
	found := make([]string, 0, 2)
	for _, family := range a.families {
		if _, ok := firstPhrase(tokens, a.aggregation[family]); ok {
			found = append(found, family)
		}
	}
	return found
}

func (a *Analyzer) mentionedDateColumn(tokens []string, s schema.Schema) (string, bool) {
	for _, column := range s {
		if !a.looksLikeDateColumn(column.Name) {
			continue
		}
		nameTokens := tokenize(column.Name)
		if len(nameTokens) > 0 && containsPhrase(tokens, nameTokens) {
			return column.Name, true
		}
	}
	return "", false
}

func (a *Analyzer) looksLikeDateColumn(name string) bool {
	lowered := strings.ToLower(name)
	for _, hint := range a.cfg.DateColumnHints {
		if strings.Contains(lowered, hint) {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tokenizeAll(phrases []string) [][]string {
	out := make([][]string, 0, len(phrases))
	for _, phrase := range phrases {
		if tokens := tokenize(phrase); len(tokens) > 0 {
			out = append(out, tokens)
		}
	}
	return out
}

func firstPhrase(tokens []string, phrases [][]string) (string, bool) {
	for _, phrase := range phrases {
		if containsPhrase(tokens, phrase) {
			return strings.Join(phrase, " "), true
		}
	}
	return "", false
}

func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, word := range phrase {
			if tokens[i+j] != word {
				continue outer
			}
		}
		return true
	}
	return false
}
