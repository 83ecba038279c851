package routing

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/querypilot/querypilot/internal/nl2sql"
)

const defaultRowCount = 10

var errTemplateParse = errors.New("routing: template parameter did not parse")

type Template struct {
	Name    string
	Pattern *regexp.Regexp
	Build   func(match []string) (nl2sql.SQLPlan, error)
}

type Matcher struct {
	templates []Template
}

func NewMatcher(templates []Template) *Matcher {
	return &Matcher{templates: append([]Template(nil), templates...)}
}

func DefaultMatcher() *Matcher {
	return NewMatcher(DefaultTemplates())
}

func DefaultTemplates() []Template {
	return []Template{
		{
			Name:    "show_all",
			Pattern: regexp.MustCompile(`^(?:(?:show|display|get|list|select|give)(?: me)? (?:all|everything|entire)(?: (?:the )?(?:data|rows|records|dataset|table))?|all|everything)$`),
			Build:   staticPlan(`SELECT * FROM "data" LIMIT 50`, "Showing the first 50 rows of the data"),
		},
		{
			Name:    "count_rows",
			Pattern: regexp.MustCompile(`^(?:count|how many)(?: (?:all|the|of))*(?: (?:rows|records|entries|lines))?(?: (?:are there|in total|do we have))?$|^(?:count|number of|total number of) (?:all |the )?(?:rows|records|entries)$`),
			Build:   staticPlan(`SELECT COUNT(*) AS "count" FROM "data"`, "Counting the total number of rows in the data"),
		},
		{
			Name:    "first_rows",
			Pattern: regexp.MustCompile(`^(?:(?:show|display|get|list|select|give)(?: me)? )?(?:the )?(?:first|top)(?:| (?:rows?|records?|entries|lines)| (\S+)(?: (?:rows?|records?|entries|lines))?)$`),
			Build:   buildFirstRows,
		},
	}
}

func (m *Matcher) Match(question string) *nl2sql.SQLPlan {
	normalized := normalizeQuestion(question)
	if normalized == "" {
		return nil
	}
	for _, template := range m.templates {
		match := template.Pattern.FindStringSubmatch(normalized)
		if match == nil {
			continue
		}
		plan, err := template.Build(match)
		if err != nil {
			// A template that matched but could not bind its parameter means the
			// question belongs to the model path, not to a later template.
			return nil
		}
		return &plan
	}
	return nil
}

func staticPlan(sql, explanation string) func([]string) (nl2sql.SQLPlan, error) {
	return func([]string) (nl2sql.SQLPlan, error) {
		return nl2sql.SQLPlan{SQL: sql, Explanation: explanation}, nil
	}
}

func buildFirstRows(match []string) (nl2sql.SQLPlan, error) {
	count := defaultRowCount
	if len(match) > 1 && match[1] != "" {
		parsed, err := strconv.Atoi(match[1])
		if err != nil || parsed <= 0 {
			return nl2sql.SQLPlan{}, fmt.Errorf("%w: row count %q", errTemplateParse, match[1])
		}
		count = parsed
	}
	return nl2sql.SQLPlan{
		SQL:         fmt.Sprintf(`SELECT * FROM "data" LIMIT %d`, count),
		Explanation: fmt.Sprintf("Showing the first %d rows", count),
	}, nil
}

func normalizeQuestion(question string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	return strings.TrimRight(normalized, "?.! ")
}
