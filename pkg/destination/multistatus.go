package destination

import (
	"net/http"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
)

// MultiStatusEntry is the outcome of one item in a batch.
type MultiStatusEntry struct {
	Status       int    `json:"status"`
	ErrorType    string `json:"errortype,omitempty"`
	ErrorMessage string `json:"errormessage,omitempty"`
	Body         any    `json:"body,omitempty"`
	Sent         any    `json:"sent,omitempty"`
	isError      bool
}

func (e *MultiStatusEntry) IsError() bool {
	return e != nil && e.isError
}

// SuccessEntry builds a success entry. A zero status defaults to 200.
func SuccessEntry(status int, body, sent any) *MultiStatusEntry {
	if status == 0 {
		status = http.StatusOK
	}
	return &MultiStatusEntry{Status: status, Body: body, Sent: sent}
}

// ErrorEntry builds an error entry. A zero status defaults to 400 and an
// empty error type to PAYLOAD_VALIDATION_FAILED.
func ErrorEntry(status int, errorType, message string) *MultiStatusEntry {
	if status == 0 {
		status = http.StatusBadRequest
	}
	if errorType == "" {
		errorType = maperr.ErrorTypePayloadValidation
	}
	return &MultiStatusEntry{Status: status, ErrorType: errorType, ErrorMessage: message, isError: true}
}

// ErrorEntryFromError derives status and type from err.
func ErrorEntryFromError(err error) *MultiStatusEntry {
	status := maperr.StatusCode(err)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	errorType := maperr.ErrorType(err)
	return ErrorEntry(status, errorType, err.Error())
}

// MultiStatusResponse is a sparse list of batch outcomes where each position
// matches the position of the input item. Unset positions are nil.
type MultiStatusResponse struct {
	responses []*MultiStatusEntry
}

func NewMultiStatusResponse() *MultiStatusResponse {
	return &MultiStatusResponse{}
}

func (m *MultiStatusResponse) grow(index int) {
	if index >= len(m.responses) {
		m.responses = append(m.responses, make([]*MultiStatusEntry, index+1-len(m.responses))...)
	}
}

func (m *MultiStatusResponse) SetSuccessResponseAtIndex(index int, entry *MultiStatusEntry) {
	entry.isError = false
	m.setAt(index, entry)
}

func (m *MultiStatusResponse) SetErrorResponseAtIndex(index int, entry *MultiStatusEntry) {
	entry.isError = true
	m.setAt(index, entry)
}

func (m *MultiStatusResponse) setAt(index int, entry *MultiStatusEntry) {
	if index < 0 {
		return
	}
	m.grow(index)
	m.responses[index] = entry
}

func (m *MultiStatusResponse) PushSuccessResponse(entry *MultiStatusEntry) {
	entry.isError = false
	m.responses = append(m.responses, entry)
}

func (m *MultiStatusResponse) PushErrorResponse(entry *MultiStatusEntry) {
	entry.isError = true
	m.responses = append(m.responses, entry)
}

// UnsetResponseAtIndex leaves a hole at index without shifting later entries.
func (m *MultiStatusResponse) UnsetResponseAtIndex(index int) {
	if index >= 0 && index < len(m.responses) {
		m.responses[index] = nil
	}
}

func (m *MultiStatusResponse) GetResponseAtIndex(index int) *MultiStatusEntry {
	if index < 0 || index >= len(m.responses) {
		return nil
	}
	return m.responses[index]
}

func (m *MultiStatusResponse) IsErrorResponseAtIndex(index int) bool {
	return m.GetResponseAtIndex(index).IsError()
}

func (m *MultiStatusResponse) Length() int {
	return len(m.responses)
}

// GetAllResponses returns a copy of every position, holes included.
func (m *MultiStatusResponse) GetAllResponses() []*MultiStatusEntry {
	return append([]*MultiStatusEntry{}, m.responses...)
}
