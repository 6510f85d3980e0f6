package destination

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
)

func TestMultiStatusSparseIndexes(t *testing.T) {
	response := NewMultiStatusResponse()
	response.SetErrorResponseAtIndex(3, ErrorEntry(0, "", "bad"))
	response.SetSuccessResponseAtIndex(1, SuccessEntry(0, "ok", nil))

	require.Equal(t, 4, response.Length())
	assert.Nil(t, response.GetResponseAtIndex(0))
	assert.Nil(t, response.GetResponseAtIndex(2))
	assert.False(t, response.IsErrorResponseAtIndex(0))
	assert.False(t, response.IsErrorResponseAtIndex(1))
	assert.True(t, response.IsErrorResponseAtIndex(3))
	assert.Nil(t, response.GetResponseAtIndex(10))

	entry := response.GetResponseAtIndex(3)
	assert.Equal(t, http.StatusBadRequest, entry.Status)
	assert.Equal(t, maperr.ErrorTypePayloadValidation, entry.ErrorType)
	assert.Equal(t, http.StatusOK, response.GetResponseAtIndex(1).Status)
}

func TestMultiStatusUnsetLeavesHole(t *testing.T) {
	response := NewMultiStatusResponse()
	response.PushSuccessResponse(SuccessEntry(http.StatusCreated, nil, nil))
	response.PushErrorResponse(ErrorEntry(http.StatusConflict, "DUPLICATE", "exists"))
	response.PushSuccessResponse(SuccessEntry(0, nil, nil))

	response.UnsetResponseAtIndex(1)
	response.UnsetResponseAtIndex(7)

	require.Equal(t, 3, response.Length())
	assert.Nil(t, response.GetResponseAtIndex(1))
	assert.Equal(t, http.StatusCreated, response.GetResponseAtIndex(0).Status)
	assert.Equal(t, http.StatusOK, response.GetResponseAtIndex(2).Status)
}

func TestMultiStatusSetterDecidesKind(t *testing.T) {
	response := NewMultiStatusResponse()
	response.SetSuccessResponseAtIndex(0, ErrorEntry(http.StatusBadRequest, "X", "y"))
	assert.False(t, response.IsErrorResponseAtIndex(0))
}

func TestGetAllResponsesReturnsCopy(t *testing.T) {
	response := NewMultiStatusResponse()
	response.PushSuccessResponse(SuccessEntry(0, nil, nil))

	all := response.GetAllResponses()
	all[0] = nil
	assert.NotNil(t, response.GetResponseAtIndex(0))
}

func TestErrorEntryFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"integration error", maperr.NewIntegrationError("slow down", "RATE_LIMITED", http.StatusTooManyRequests), http.StatusTooManyRequests, "RATE_LIMITED"},
		{"validation error", maperr.NewPayloadValidationError([]string{"missing email"}), http.StatusBadRequest, maperr.ErrorTypePayloadValidation},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, maperr.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := ErrorEntryFromError(tt.err)
			assert.True(t, entry.IsError())
			assert.Equal(t, tt.wantStatus, entry.Status)
			assert.Equal(t, tt.wantType, entry.ErrorType)
			assert.Equal(t, tt.err.Error(), entry.ErrorMessage)
		})
	}
}
