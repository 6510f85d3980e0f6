package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

const (
	ErrorTypePayloadValidation   = "PAYLOAD_VALIDATION_FAILED"
	ErrorTypeInvalidSubscription = "INVALID_SUBSCRIPTION"
	ErrorTypeNotSubscribed       = "NOT_SUBSCRIBED"
	ErrorTypeUnknown             = "UNKNOWN_ERROR"
)

// MappingError is raised while resolving a mapping or compiling a field schema.
type MappingError struct {
	Directive string
	Field     string
	Action    string
	itemIndex *int
	Message   string
}

func NewMappingError(msg string) *MappingError {
	return &MappingError{
		Message: msg,
	}
}

func WrapMappingError(e error) *MappingError {
	if e == nil {
		return nil
	}

	var mappingError *MappingError
	if errors.As(e, &mappingError) {
		return mappingError
	}

	return &MappingError{
		Message: e.Error(),
	}
}

// NewMappingErrorf creates a new MappingError with a formatted message
func NewMappingErrorf(format string, args ...any) *MappingError {
	// %w has no meaning here, the message is flattened
	for i, arg := range args {
		if err, ok := arg.(error); ok && strings.Contains(format, "%w") {
			format = strings.Replace(format, "%w", "%v", 1)
			args[i] = err.Error()
		}
	}

	return &MappingError{
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *MappingError) Error() string {
	path := []string{}
	if e.Action != "" {
		path = append(path, fmt.Sprintf("action '%s'", e.Action))
	}
	if e.itemIndex != nil {
		path = append(path, fmt.Sprintf("item %d", *e.itemIndex))
	}
	if e.Field != "" {
		path = append(path, fmt.Sprintf("field '%s'", e.Field))
	}
	if e.Directive != "" {
		path = append(path, fmt.Sprintf("directive '%s'", e.Directive))
	}

	if len(path) == 0 {
		return e.Message
	}

	return strings.Join(path, " -> ") + ": " + e.Message
}

func (e *MappingError) AddDirective(name string) *MappingError {
	if e.Directive == "" {
		e.Directive = name
	}
	return e
}

func (e *MappingError) AddField(field string) *MappingError {
	e.Field = field
	return e
}

func (e *MappingError) AddAction(action string) *MappingError {
	e.Action = action
	return e
}

func (e *MappingError) AddItemIndex(itemIndex int) *MappingError {
	e.itemIndex = &itemIndex
	return e
}

func (e *MappingError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Error()).
		AddMetaValue("directive", e.Directive).
		AddMetaValue("field", e.Field).
		AddMetaValue("action", e.Action)
}

func IsMappingError(err error) bool {
	var mappingError *MappingError
	return errors.As(err, &mappingError)
}

// IntegrationError lets destination code report a failure with an explicit
// error type and status instead of the defaults.
type IntegrationError struct {
	Message string
	Code    string
	Status  int
}

func NewIntegrationError(message, code string, status int) *IntegrationError {
	return &IntegrationError{Message: message, Code: code, Status: status}
}

func (e *IntegrationError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status carried by err, or 0 when it has none.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}

	var integrationErr *IntegrationError
	if errors.As(err, &integrationErr) {
		return integrationErr.Status
	}

	var payloadErr *PayloadValidationError
	if errors.As(err, &payloadErr) {
		return http.StatusBadRequest
	}

	var httpErr *httperror.HTTPError
	if errors.As(err, &httpErr) {
		return httperror.GetStatusCode(httpErr)
	}

	if httperror.IsHTTPError(err) {
		return httperror.GetStatusCode(err)
	}

	return 0
}

// ErrorType returns the machine readable error type used in batch responses.
func ErrorType(err error) string {
	var integrationErr *IntegrationError
	if errors.As(err, &integrationErr) && integrationErr.Code != "" {
		return integrationErr.Code
	}

	var payloadErr *PayloadValidationError
	if errors.As(err, &payloadErr) {
		return ErrorTypePayloadValidation
	}

	return ErrorTypeUnknown
}
