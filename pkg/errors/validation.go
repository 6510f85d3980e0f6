package errors

import (
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// ValidationError describes a malformed mapping node. Stack is the key path
// from the mapping root to the offending node.
type ValidationError struct {
	Stack   []string
	Message string
}

func NewValidationError(message string, stack []string) *ValidationError {
	return &ValidationError{
		Message: message,
		Stack:   append([]string(nil), stack...),
	}
}

func (e *ValidationError) Error() string {
	return "/" + strings.Join(e.Stack, "/") + " " + e.Message
}

// ValidationErrors aggregates every child failure found inside one mapping object.
type ValidationErrors struct {
	Errors []error
}

func (e *ValidationErrors) Error() string {
	messages := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "\n")
}

func (e *ValidationErrors) Unwrap() []error {
	return e.Errors
}

// JoinValidationErrors returns nil, the single error, or an aggregate.
func JoinValidationErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return &ValidationErrors{Errors: errs}
	}
}

// PayloadValidationError is returned when a resolved payload does not satisfy
// its field schema. Each message names one violated constraint.
type PayloadValidationError struct {
	Messages []string
}

func NewPayloadValidationError(messages []string) *PayloadValidationError {
	return &PayloadValidationError{Messages: messages}
}

func (e *PayloadValidationError) Error() string {
	return strings.Join(e.Messages, " ")
}

func (e *PayloadValidationError) Status() int {
	return http.StatusBadRequest
}

func (e *PayloadValidationError) Code() string {
	return ErrorTypePayloadValidation
}

func (e *PayloadValidationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Error()).
		AddMetaValue("errortype", ErrorTypePayloadValidation).
		AddMetaValue("messages", e.Messages)
}
