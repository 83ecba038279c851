package nl2sql

// Plan is the outcome of one question-answering turn. Exactly one of the
// concrete types below is produced, so a plan can never carry both SQL and a
// clarification request.
type Plan interface {
	isPlan()
}

type SQLPlan struct {
	SQL         string
	Explanation string
}

type ClarificationPlan struct {
	Clarification Clarification
	Explanation   string
}

type ConversationalPlan struct {
	Explanation string
}

func (SQLPlan) isPlan()            {}
func (ClarificationPlan) isPlan()  {}
func (ConversationalPlan) isPlan() {}

type ClarificationKind string

const (
	ClarificationSingleSelect ClarificationKind = "single_select"
	ClarificationFreeText     ClarificationKind = "free_text"
)

type Clarification struct {
	Question string            `json:"question"`
	ID       string            `json:"id"`
	Kind     ClarificationKind `json:"kind"`
	Options  []string          `json:"options"`
}

type Context map[string]string

type Document struct {
	SQL              *string        `json:"sql"`
	AskClarification bool           `json:"ask_clarification"`
	Clarification    *Clarification `json:"clarification"`
	Explanation      string         `json:"explanation"`
}

func ToDocument(plan Plan) Document {
	switch typed := plan.(type) {
	case SQLPlan:
		sql := typed.SQL
		return Document{SQL: &sql, Explanation: typed.Explanation}
	case ClarificationPlan:
		clarification := typed.Clarification
		if clarification.Options == nil {
			clarification.Options = []string{}
		}
		return Document{AskClarification: true, Clarification: &clarification, Explanation: typed.Explanation}
	case ConversationalPlan:
		return Document{Explanation: typed.Explanation}
	default:
		return Document{}
	}
}

func ExplanationOf(plan Plan) string {
	switch typed := plan.(type) {
	case SQLPlan:
		return typed.Explanation
	case ClarificationPlan:
		return typed.Explanation
	case ConversationalPlan:
		return typed.Explanation
	default:
		return ""
	}
}
