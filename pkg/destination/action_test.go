package destination

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/fields"
	"github.com/Ramsey-B/petal/pkg/request"
)

type performRecorder struct {
	single  []PerformInput
	batches []PerformBatchInput
}

func (r *performRecorder) definition() ActionDefinition {
	return ActionDefinition{
		Title: "Track Event",
		Fields: fields.Fields{
			"email": {Label: "Email", Type: fields.FieldTypeString, Required: fields.Always()},
			"count": {Label: "Count", Type: fields.FieldTypeInteger},
		},
		Perform: func(_ context.Context, _ *request.Client, in PerformInput) (any, error) {
			r.single = append(r.single, in)
			return map[string]any{"ok": true}, nil
		},
		PerformBatch: func(_ context.Context, _ *request.Client, in PerformBatchInput) (any, error) {
			r.batches = append(r.batches, in)
			return map[string]any{"accepted": len(in.Payload)}, nil
		},
	}
}

var trackMapping = map[string]any{
	"email": map[string]any{"@path": "$.traits.email"},
	"count": map[string]any{"@path": "$.properties.count"},
}

// event builds a track event shaped like decoded JSON, so numbers are float64.
func event(email any, count any) map[string]any {
	if n, ok := count.(int); ok {
		count = float64(n)
	}
	traits := map[string]any{}
	if email != nil {
		traits["email"] = email
	}
	return map[string]any{
		"type":       "track",
		"traits":     traits,
		"properties": map[string]any{"count": count},
	}
}

func TestExecuteEmitsMarkers(t *testing.T) {
	recorder := &performRecorder{}
	action, err := NewAction("test", recorder.definition(), nil)
	require.NoError(t, err)

	results, err := action.Execute(context.Background(), ExecuteInput{
		Mapping: trackMapping,
		Data:    event("a@example.com", "3"),
	})
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, OutputMappingsResolved, results[0].Output)
	assert.Equal(t, OutputPayloadValidated, results[1].Output)
	assert.Equal(t, OutputActionExecuted, results[2].Output)
	assert.Equal(t, map[string]any{"ok": true}, results[2].Data)

	require.Len(t, recorder.single, 1)
	assert.Equal(t, map[string]any{"email": "a@example.com", "count": 3.0}, recorder.single[0].Payload)
	assert.NotNil(t, recorder.single[0].Logger)
}

func TestExecuteValidationFailureSkipsPerform(t *testing.T) {
	recorder := &performRecorder{}
	action, err := NewAction("test", recorder.definition(), nil)
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), ExecuteInput{
		Mapping: trackMapping,
		Data:    event(nil, 1),
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, maperr.StatusCode(err))
	assert.Contains(t, err.Error(), "missing the required field 'email'")
	assert.Empty(t, recorder.single)
}

func TestExecuteInvalidMappingNamesAction(t *testing.T) {
	action, err := NewAction("test", (&performRecorder{}).definition(), nil)
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), ExecuteInput{
		Mapping: map[string]any{"email": map[string]any{"@nope": "x"}},
		Data:    event("a@example.com", 1),
	})
	require.Error(t, err)
}

func TestExecuteBatchFiltersInvalidPayloads(t *testing.T) {
	recorder := &performRecorder{}
	action, err := NewAction("test", recorder.definition(), nil)
	require.NoError(t, err)

	response, err := action.ExecuteBatch(context.Background(), BatchInput{
		Mapping: trackMapping,
		Data: []map[string]any{
			event("a@example.com", 1),
			event(nil, 2),
			event("c@example.com", 3),
		},
	})
	require.NoError(t, err)

	require.Len(t, recorder.batches, 1)
	assert.Empty(t, recorder.single)
	assert.Equal(t, []map[string]any{
		{"email": "a@example.com", "count": 1.0},
		{"email": "c@example.com", "count": 3.0},
	}, recorder.batches[0].Payload)

	require.Equal(t, 3, response.Length())
	assert.False(t, response.IsErrorResponseAtIndex(0))
	assert.True(t, response.IsErrorResponseAtIndex(1))
	assert.False(t, response.IsErrorResponseAtIndex(2))

	invalid := response.GetResponseAtIndex(1)
	assert.Equal(t, http.StatusBadRequest, invalid.Status)
	assert.Equal(t, maperr.ErrorTypePayloadValidation, invalid.ErrorType)
	assert.Contains(t, invalid.ErrorMessage, "email")

	sent := response.GetResponseAtIndex(2)
	assert.Equal(t, http.StatusOK, sent.Status)
	assert.Equal(t, map[string]any{"email": "c@example.com", "count": 3.0}, sent.Sent)
	assert.Equal(t, map[string]any{"accepted": 2}, sent.Body)
}

func TestExecuteBatchSingleEventUsesPerformBatch(t *testing.T) {
	recorder := &performRecorder{}
	action, err := NewAction("test", recorder.definition(), nil)
	require.NoError(t, err)

	response, err := action.ExecuteBatch(context.Background(), BatchInput{
		Mapping: trackMapping,
		Data:    []map[string]any{event("a@example.com", 1)},
	})
	require.NoError(t, err)
	assert.Len(t, recorder.batches, 1)
	assert.Empty(t, recorder.single)
	assert.Equal(t, 1, response.Length())
}

func TestExecuteBatchAllInvalidNeverPerforms(t *testing.T) {
	recorder := &performRecorder{}
	action, err := NewAction("test", recorder.definition(), nil)
	require.NoError(t, err)

	response, err := action.ExecuteBatch(context.Background(), BatchInput{
		Mapping: trackMapping,
		Data:    []map[string]any{event(nil, 1), event(nil, 2)},
	})
	require.NoError(t, err)
	assert.Empty(t, recorder.batches)
	assert.Empty(t, recorder.single)
	require.Equal(t, 2, response.Length())
	assert.True(t, response.IsErrorResponseAtIndex(0))
	assert.True(t, response.IsErrorResponseAtIndex(1))
}

func TestExecuteBatchMergesPartnerMultiStatus(t *testing.T) {
	def := (&performRecorder{}).definition()
	def.PerformBatch = func(_ context.Context, _ *request.Client, in PerformBatchInput) (any, error) {
		partner := NewMultiStatusResponse()
		partner.PushSuccessResponse(SuccessEntry(http.StatusCreated, "created", in.Payload[0]))
		partner.PushErrorResponse(ErrorEntry(http.StatusConflict, "DUPLICATE", "already exists"))
		return partner, nil
	}
	action, err := NewAction("test", def, nil)
	require.NoError(t, err)

	response, err := action.ExecuteBatch(context.Background(), BatchInput{
		Mapping: trackMapping,
		Data:    []map[string]any{event(nil, 0), event("b@example.com", 1), event("c@example.com", 2)},
	})
	require.NoError(t, err)

	all := response.GetAllResponses()
	require.Len(t, all, 3)
	assert.Equal(t, maperr.ErrorTypePayloadValidation, all[0].ErrorType)
	assert.Equal(t, http.StatusCreated, all[1].Status)
	assert.False(t, all[1].IsError())
	assert.Equal(t, "DUPLICATE", all[2].ErrorType)
	assert.True(t, all[2].IsError())
}

func TestExecuteBatchPerformErrorFailsBatch(t *testing.T) {
	def := (&performRecorder{}).definition()
	def.PerformBatch = func(context.Context, *request.Client, PerformBatchInput) (any, error) {
		return nil, errors.New("partner down")
	}
	action, err := NewAction("test", def, nil)
	require.NoError(t, err)

	_, err = action.ExecuteBatch(context.Background(), BatchInput{
		Mapping: trackMapping,
		Data:    []map[string]any{event("a@example.com", 1)},
	})
	require.EqualError(t, err, "partner down")
}

func TestExecuteBatchWithoutSupport(t *testing.T) {
	def := (&performRecorder{}).definition()
	def.PerformBatch = nil
	action, err := NewAction("test", def, nil)
	require.NoError(t, err)

	_, err = action.ExecuteBatch(context.Background(), BatchInput{Mapping: trackMapping})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotImplemented, maperr.StatusCode(err))
}

func TestNewActionRejectsUnsupportedOperator(t *testing.T) {
	def := (&performRecorder{}).definition()
	def.Fields["phone"] = fields.InputField{
		Type:     fields.FieldTypeString,
		Required: fields.When(fields.MatchAll, fields.Condition{FieldKey: "email", Operator: "contains", Value: "x"}),
	}
	_, err := NewAction("test", def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains")
}

func TestExtendRequestAppliesToClient(t *testing.T) {
	var seen *request.Client
	def := (&performRecorder{}).definition()
	def.Perform = func(_ context.Context, client *request.Client, _ PerformInput) (any, error) {
		seen = client
		return nil, nil
	}
	extended := 0
	action, err := NewAction("test", def, func(in ExtendRequestInput) request.Options {
		extended++
		assert.Equal(t, "key", in.Settings["apiKey"])
		return request.Options{Headers: map[string]string{"Authorization": "Bearer key"}}
	})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), ExecuteInput{
		Mapping:  trackMapping,
		Data:     event("a@example.com", 1),
		Settings: map[string]any{"apiKey": "key"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, extended)
	assert.NotNil(t, seen)
}
