package destination

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/petal/pkg/fields"
	"github.com/Ramsey-B/petal/pkg/request"
)

func choicesHandler(label string, seen *DynamicFieldContext) DynamicFieldFunc {
	return func(_ context.Context, _ *request.Client, in DynamicFieldInput) (DynamicFieldResponse, error) {
		*seen = in.Context
		return DynamicFieldResponse{Choices: []fields.Choice{{Label: label, Value: label}}}, nil
	}
}

func TestExecuteDynamicFieldPaths(t *testing.T) {
	var seen DynamicFieldContext
	def := (&performRecorder{}).definition()
	def.DynamicFields = DynamicFields{
		"list": {
			Handler: choicesHandler("list", &seen),
		},
		"traits": {
			Keys:   choicesHandler("keys", &seen),
			Values: choicesHandler("values", &seen),
			Properties: map[string]DynamicFieldFunc{
				"plan": choicesHandler("plan", &seen),
			},
		},
	}
	action, err := NewAction("test", def, nil)
	require.NoError(t, err)

	tests := []struct {
		path      string
		wantLabel string
		wantKey   string
		wantIndex *int
	}{
		{"list", "list", "", nil},
		{"traits.__keys__", "keys", "", nil},
		{"traits.__values__", "values", "", nil},
		{"traits.plan", "plan", "plan", nil},
		{"traits.[2].plan", "plan", "plan", ptrInt(2)},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			seen = DynamicFieldContext{}
			response, err := action.ExecuteDynamicField(context.Background(), tt.path, DynamicFieldInput{})
			require.NoError(t, err)
			require.Len(t, response.Choices, 1)
			assert.Equal(t, tt.wantLabel, response.Choices[0].Label)
			assert.Equal(t, tt.wantKey, seen.SelectedKey)
			assert.Equal(t, tt.wantIndex, seen.SelectedArrayIndex)
		})
	}
}

func TestExecuteDynamicFieldNotFound(t *testing.T) {
	action, err := NewAction("test", (&performRecorder{}).definition(), nil)
	require.NoError(t, err)

	for _, path := range []string{"unknown", "traits.[x].plan", "a.b.c.d"} {
		response, err := action.ExecuteDynamicField(context.Background(), path, DynamicFieldInput{})
		require.NoError(t, err)
		assert.Empty(t, response.Choices)
		require.NotNil(t, response.Error)
		assert.Equal(t, "404", response.Error.Code)
		assert.Equal(t, "No dynamic field named "+path+" found.", response.Error.Message)
	}
}

func TestExecuteDynamicFieldNilChoicesBecomeEmpty(t *testing.T) {
	def := (&performRecorder{}).definition()
	def.DynamicFields = DynamicFields{
		"list": {Handler: func(context.Context, *request.Client, DynamicFieldInput) (DynamicFieldResponse, error) {
			return DynamicFieldResponse{NextPage: "2"}, nil
		}},
	}
	action, err := NewAction("test", def, nil)
	require.NoError(t, err)

	response, err := action.ExecuteDynamicField(context.Background(), "list", DynamicFieldInput{})
	require.NoError(t, err)
	assert.NotNil(t, response.Choices)
	assert.Equal(t, "2", response.NextPage)
}

func ptrInt(v int) *int {
	return &v
}
