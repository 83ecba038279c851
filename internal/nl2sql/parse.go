package nl2sql

import (
	"bytes"
	"encoding/json"
	"strings"
)

func ParseReply(raw string) (Plan, error) {
	object, ok := extractObject(raw)
	if !ok {
		return nil, &MalformedResponseError{Raw: raw, Reason: "no JSON object found"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(object), &fields); err != nil {
		return nil, &MalformedResponseError{Raw: raw, Reason: "decode object: " + err.Error()}
	}

	rawSQL, ok := fields["sql"]
	if !ok {
		return nil, &MalformedResponseError{Raw: raw, Reason: `missing "sql"`}
	}
	rawAsk, ok := fields["ask_clarification"]
	if !ok {
		return nil, &MalformedResponseError{Raw: raw, Reason: `missing "ask_clarification"`}
	}

	var sql *string
	if err := json.Unmarshal(rawSQL, &sql); err != nil {
		return nil, &MalformedResponseError{Raw: raw, Reason: `"sql" must be a string or null`}
	}
	var ask bool
	if err := json.Unmarshal(rawAsk, &ask); err != nil || isNull(rawAsk) {
		return nil, &MalformedResponseError{Raw: raw, Reason: `"ask_clarification" must be a boolean`}
	}
	var explanation string
	if rawExplanation, ok := fields["explanation"]; ok && !isNull(rawExplanation) {
		if err := json.Unmarshal(rawExplanation, &explanation); err != nil {
			return nil, &MalformedResponseError{Raw: raw, Reason: `"explanation" must be a string`}
		}
	}
	explanation = strings.TrimSpace(explanation)

	if ask {
		var clarification *Clarification
		if rawClarification, ok := fields["clarification"]; ok {
			if err := json.Unmarshal(rawClarification, &clarification); err != nil {
				return nil, &MalformedResponseError{Raw: raw, Reason: `"clarification" must be an object or null`}
			}
		}
		if clarification == nil || strings.TrimSpace(clarification.Question) == "" {
			return nil, &MalformedResponseError{Raw: raw, Reason: "clarification requested without a question"}
		}
		return ClarificationPlan{Clarification: normalizeClarification(*clarification), Explanation: explanation}, nil
	}

	if sql != nil && strings.TrimSpace(*sql) != "" {
		return SQLPlan{SQL: strings.TrimSpace(*sql), Explanation: explanation}, nil
	}
	if explanation == "" {
		return nil, &MalformedResponseError{Raw: raw, Reason: "reply has neither sql, clarification nor explanation"}
	}
	return ConversationalPlan{Explanation: explanation}, nil
}

func normalizeClarification(c Clarification) Clarification {
	c.Question = strings.TrimSpace(c.Question)
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		c.ID = "clarification"
	}
	options := make([]string, 0, len(c.Options))
	for _, option := range c.Options {
		if option = strings.TrimSpace(option); option != "" {
			options = append(options, option)
		}
	}
	c.Options = options
	switch c.Kind {
	case ClarificationSingleSelect, ClarificationFreeText:
	default:
		c.Kind = ClarificationFreeText
		if len(options) > 0 {
			c.Kind = ClarificationSingleSelect
		}
	}
	if c.Kind == ClarificationSingleSelect && len(options) == 0 {
		c.Kind = ClarificationFreeText
	}
	return c
}

func extractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
