package query

const (
	CodeEmpty              = "SQL_EMPTY"
	CodeNotSelect          = "SQL_NOT_SELECT"
	CodeForbiddenKeyword   = "SQL_FORBIDDEN_KEYWORD"
	CodeMultipleStatements = "SQL_MULTIPLE_STATEMENTS"
)

type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
