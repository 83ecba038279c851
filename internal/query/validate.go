package query

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	leadingKeywordPattern   = regexp.MustCompile(`^[A-Za-z_]+`)
	forbiddenKeywordPattern = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|ATTACH|DETACH|PRAGMA|CREATE|COPY|INSTALL|LOAD|TRUNCATE|EXPORT|IMPORT)\b`)
)

func ValidateSQL(sql string) (string, error) {
	if strings.TrimSpace(sql) == "" {
		return "", &ValidationError{Code: CodeEmpty, Message: "sql is empty"}
	}

	keyword := strings.ToUpper(leadingKeywordPattern.FindString(strings.TrimLeft(sql, " \t\r\n(")))
	if keyword != "SELECT" && keyword != "WITH" {
		if keyword == "" {
			keyword = "(none)"
		}
		return "", &ValidationError{Code: CodeNotSelect, Message: fmt.Sprintf("only SELECT statements are allowed, got %s", keyword)}
	}
	if match := forbiddenKeywordPattern.FindString(sql); match != "" {
		return "", &ValidationError{Code: CodeForbiddenKeyword, Message: fmt.Sprintf("forbidden keyword %s", strings.ToUpper(match))}
	}
	if hasSeparatorOutsideQuotes(sql) {
		return "", &ValidationError{Code: CodeMultipleStatements, Message: "multiple statements are not allowed; remove the ';'"}
	}
	return sql, nil
}

// hasSeparatorOutsideQuotes reports a ';' that is not inside a '...' string
// literal or a "..." identifier. Doubled quotes are escapes in both. Quotes
// inside -- and /* */ comments do not open a literal.
func hasSeparatorOutsideQuotes(sql string) bool {
	var quote byte
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case quote == 0 && ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				return false
			}
			i += end
		case quote == 0 && ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 3
		case quote != 0:
			if ch == quote {
				if i+1 < len(sql) && sql[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == ';':
			return true
		}
	}
	return false
}
