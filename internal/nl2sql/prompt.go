package nl2sql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/querypilot/querypilot/internal/schema"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const systemPrompt = `You translate questions about a single uploaded table into read-only SQL for DuckDB.

Reply with one JSON object and nothing else, using exactly these keys:
{"sql": string or null, "ask_clarification": boolean, "clarification": object or null, "explanation": string}

SQL rules:
- The only table is "data". Always write it with double quotes.
- Double-quote every column identifier.
- Produce a single SELECT statement. Never write INSERT, UPDATE, DELETE, DROP, ALTER, ATTACH, PRAGMA or any other statement.
- Do not end the statement with a semicolon.
- Use LIMIT for listings (50 unless asked otherwise) and ORDER BY ... DESC LIMIT N for "top N".
- Summaries use COUNT, SUM, AVG, MAX, MIN; wrap sums in COALESCE(..., 0) when NULLs are possible.
- Text search uses ILIKE with % wildcards unless an exact match is requested.
- Never guess a date column. Only write date filters once the column is named in the question or in the context,
  and then use CURRENT_DATE with INTERVAL arithmetic and ISO-8601 literals.

Ask a clarification (set "sql" to null and "ask_clarification" to true) when:
- the question refers to time ("last week", "yesterday", "this month") and the date column is unknown;
- a metric could map to more than one column;
- the intent, grouping or filter is unclear, or the instructions conflict.
The clarification object is {"question": string, "id": string, "kind": "single_select" or "free_text", "options": [strings]}.
Use "single_select" with the candidate column names as options when the answer is one of the columns.
Answers to earlier clarifications arrive in the context block keyed by the clarification id; use them instead of asking again.

If the message is not about the data (a greeting, small talk), return "sql": null, "ask_clarification": false,
"clarification": null and a short friendly explanation that suggests two or three example questions about the columns.

"explanation" is always a one-sentence, plain-language description of what the query returns or why you are asking.`

func BuildMessages(req Request) []Message {
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserPrompt(req)},
	}
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User question:\n%s\n\n", strings.TrimSpace(req.Question))
	fmt.Fprintf(&b, "Table %q columns:\n%s\n\n", schema.TableName, req.Schema.PromptLines())
	b.WriteString("Context (answers to prior clarifications):\n")
	b.WriteString(formatContext(req.Context))
	return b.String()
}

func formatContext(values Context) string {
	if len(values) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %s", key, strings.TrimSpace(values[key])))
	}
	return strings.Join(lines, "\n")
}
