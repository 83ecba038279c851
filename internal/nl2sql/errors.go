package nl2sql

import (
	"errors"
	"fmt"
)

var ErrModelTimeout = errors.New("nl2sql: model call timed out")

type MalformedResponseError struct {
	Raw    string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "malformed model response: " + e.Reason
}

type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate with model %s: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
