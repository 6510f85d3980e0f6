package fields

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJSONSchemaTypes(t *testing.T) {
	schema, err := ToJSONSchema(Fields{
		"name":     {Label: "Name", Type: FieldTypeText, Required: Always()},
		"secret":   {Type: FieldTypePassword},
		"at":       {Type: FieldTypeDatetime},
		"count":    {Type: FieldTypeInteger, Minimum: ptr(1.0)},
		"flag":     {Type: FieldTypeBoolean, AllowNull: true},
		"channel":  {Type: FieldTypeString, Choices: []Choice{{Label: "Email", Value: "email"}, {Label: "SMS", Value: "sms"}}, AllowNull: true},
		"tags":     {Type: FieldTypeString, Multiple: true, Choices: []Choice{{Label: "a", Value: "a"}}},
		"optional": {Type: FieldTypeNumber, Required: Requirement{Always: false}},
	})
	require.NoError(t, err)

	assert.Equal(t, SchemaDraft07, schema["$schema"])
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Equal(t, []any{"name"}, schema["required"])
	assert.NotContains(t, schema, "allOf")

	props := schema["properties"].(map[string]any)
	assert.Equal(t, JSONSchema{"type": "string", "title": "Name"}, props["name"])
	assert.Equal(t, JSONSchema{"type": "string"}, props["secret"])
	assert.Equal(t, JSONSchema{"type": []any{"string", "number"}, "format": FormatDateLike}, props["at"])
	assert.Equal(t, JSONSchema{"type": "integer", "minimum": 1.0}, props["count"])
	assert.Equal(t, JSONSchema{"type": []any{"boolean", "null"}}, props["flag"])
	assert.Equal(t, JSONSchema{"type": []any{"string", "null"}, "enum": []any{"email", "sms", nil}}, props["channel"])
	assert.Equal(t, JSONSchema{"type": "array", "items": JSONSchema{"type": "string", "enum": []any{"a"}}}, props["tags"])
}

func TestToJSONSchemaNestedObjects(t *testing.T) {
	schema, err := ToJSONSchema(Fields{
		"address": {
			Type:                 FieldTypeObject,
			AdditionalProperties: true,
			Properties: Fields{
				"city": {Type: FieldTypeString, Required: Always()},
			},
		},
		"items": {
			Type:     FieldTypeObject,
			Multiple: true,
			Properties: Fields{
				"sku": {Type: FieldTypeString},
			},
		},
	}, WithAdditionalProperties(true))
	require.NoError(t, err)

	assert.Equal(t, true, schema["additionalProperties"])
	props := schema["properties"].(map[string]any)

	address := props["address"].(JSONSchema)
	assert.Equal(t, "object", address["type"])
	assert.Equal(t, true, address["additionalProperties"])
	assert.Equal(t, []any{"city"}, address["required"])
	assert.NotContains(t, address, "$schema")

	items := props["items"].(JSONSchema)
	assert.Equal(t, "array", items["type"])
	itemSchema := items["items"].(JSONSchema)
	assert.Equal(t, "object", itemSchema["type"])
	assert.Equal(t, false, itemSchema["additionalProperties"])
	assert.Contains(t, itemSchema["properties"], "sku")
}

func TestToJSONSchemaConditionalRequirements(t *testing.T) {
	schema, err := ToJSONSchema(Fields{
		"a": {Type: FieldTypeString},
		"b": {Type: FieldTypeString, Required: When(MatchAll, Condition{FieldKey: "a", Operator: OperatorIs, Value: "a_value"})},
		"c": {Type: FieldTypeString, Required: When(MatchAll, Condition{FieldKey: "a", Operator: OperatorIsNot, Value: "x"})},
		"d": {Type: FieldTypeString, Required: When(MatchAny,
			Condition{FieldKey: "a", Operator: OperatorIs, Value: "1"},
			Condition{FieldKey: "b", Operator: OperatorIsNot, Value: "2"},
		)},
	})
	require.NoError(t, err)

	assert.Equal(t, []any{}, schema["required"])
	assert.Equal(t, []any{
		JSONSchema{
			"if":   JSONSchema{"properties": JSONSchema{"a": JSONSchema{"const": "a_value"}}},
			"then": JSONSchema{"required": []any{"b"}},
		},
		JSONSchema{
			"if":   JSONSchema{"properties": JSONSchema{"a": JSONSchema{"not": JSONSchema{"const": "x"}}}},
			"then": JSONSchema{"required": []any{"c"}},
		},
		JSONSchema{
			"if": JSONSchema{"anyOf": []any{
				JSONSchema{"properties": JSONSchema{"a": JSONSchema{"const": "1"}}, "required": []any{"a"}},
				JSONSchema{"properties": JSONSchema{"b": JSONSchema{"not": JSONSchema{"const": "2"}}}, "required": []any{"b"}},
			}},
			"then": JSONSchema{"required": []any{"d"}},
		},
	}, schema["allOf"])
}

func TestToJSONSchemaUnsupportedOperator(t *testing.T) {
	_, err := ToJSONSchema(Fields{
		"b": {Type: FieldTypeString, Required: When(MatchAll, Condition{FieldKey: "a", Operator: "contains", Value: "x"})},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported conditional operator "contains"`)
	assert.Contains(t, err.Error(), "field 'b'")
}

func TestRequirementJSON(t *testing.T) {
	var field InputField
	require.NoError(t, json.Unmarshal([]byte(`{"type": "string", "required": true}`), &field))
	assert.True(t, field.Required.Always)

	require.NoError(t, json.Unmarshal([]byte(`{"type": "string", "required": {"match": "any", "conditions": [{"fieldKey": "a", "operator": "is", "value": 1}]}}`), &field))
	require.NotNil(t, field.Required.Conditions)
	assert.Equal(t, MatchAny, field.Required.Conditions.Match)
	assert.Equal(t, "a", field.Required.Conditions.Conditions[0].FieldKey)

	b, err := json.Marshal(Requirement{Always: true})
	require.NoError(t, err)
	assert.Equal(t, "true", string(b))

	var choice Choice
	require.NoError(t, json.Unmarshal([]byte(`"email"`), &choice))
	assert.Equal(t, Choice{Label: "email", Value: "email"}, choice)
}

func TestFieldsValidate(t *testing.T) {
	assert.NoError(t, Fields{"a": {Type: FieldTypeString}}.Validate())

	err := Fields{"a": {Type: "color"}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'a'")

	err = Fields{"a": {Type: FieldTypeString, Properties: Fields{"b": {Type: FieldTypeString}}}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only allowed on object fields")

	err = Fields{"a": {Type: FieldTypeString, DependsOn: &DependsOnConditions{Conditions: []Condition{{FieldKey: "b", Operator: "gt"}}}}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported operator")
}

func ptr[T any](v T) *T {
	return &v
}
