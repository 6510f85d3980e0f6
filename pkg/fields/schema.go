package fields

import (
	maperr "github.com/Ramsey-B/petal/pkg/errors"
)

const (
	SchemaDraft07  = "http://json-schema.org/draft-07/schema#"
	FormatDateLike = "date-like"
	keySchema      = "$schema"
	keyAllOf       = "allOf"
	keyRequired    = "required"
	keyProperties  = "properties"
	keyAdditional  = "additionalProperties"
)

// JSONSchema is a Draft-07 schema document.
type JSONSchema = map[string]any

type schemaOptions struct {
	additionalProperties bool
	root                 bool
}

type SchemaOption func(*schemaOptions)

// WithAdditionalProperties controls whether keys without a field are allowed.
func WithAdditionalProperties(allowed bool) SchemaOption {
	return func(o *schemaOptions) {
		o.additionalProperties = allowed
	}
}

// ToJSONSchema compiles fields into a JSON Schema. Conditional requirements
// become `allOf` entries. An unsupported condition operator is an error.
func ToJSONSchema(fields Fields, opts ...SchemaOption) (JSONSchema, error) {
	o := schemaOptions{root: true}
	for _, opt := range opts {
		opt(&o)
	}
	return compileObject(fields, o)
}

func compileObject(fields Fields, o schemaOptions) (JSONSchema, error) {
	properties := map[string]any{}
	required := []any{}
	conditions := []any{}

	for _, key := range fields.Keys() {
		field := fields[key]

		schema, err := compileField(field)
		if err != nil {
			return nil, maperr.WrapMappingError(err).AddField(key)
		}
		properties[key] = schema

		switch {
		case field.Required.Conditions != nil:
			condition, err := compileRequirement(key, *field.Required.Conditions)
			if err != nil {
				return nil, maperr.WrapMappingError(err).AddField(key)
			}
			conditions = append(conditions, condition)
		case field.Required.Always:
			required = append(required, key)
		}
	}

	schema := JSONSchema{
		"type":        "object",
		keyAdditional: o.additionalProperties,
		keyProperties: properties,
		keyRequired:   required,
	}
	if o.root {
		schema[keySchema] = SchemaDraft07
	}
	if len(conditions) > 0 {
		schema[keyAllOf] = conditions
	}
	return schema, nil
}

func schemaType(t FieldType) any {
	switch t {
	case FieldTypeString, FieldTypeText, FieldTypePassword:
		return "string"
	case FieldTypeDatetime:
		return []any{"string", "number"}
	default:
		return string(t)
	}
}

func withNull(t any) any {
	if types, ok := t.([]any); ok {
		return append(append([]any{}, types...), "null")
	}
	return []any{t, "null"}
}

func compileField(field InputField) (JSONSchema, error) {
	// valueSchema describes a single value, the array wrapper is added below
	valueSchema := JSONSchema{"type": schemaType(field.Type)}

	if field.Type == FieldTypeDatetime {
		valueSchema["format"] = FormatDateLike
	} else if field.Format != "" {
		valueSchema["format"] = field.Format
	}

	if len(field.Choices) > 0 {
		enum := make([]any, 0, len(field.Choices)+1)
		for _, choice := range field.Choices {
			enum = append(enum, choice.Value)
		}
		valueSchema["enum"] = enum
	}

	if field.MinLength != nil {
		valueSchema["minLength"] = *field.MinLength
	}
	if field.MaxLength != nil {
		valueSchema["maxLength"] = *field.MaxLength
	}
	if field.Minimum != nil {
		valueSchema["minimum"] = *field.Minimum
	}
	if field.Maximum != nil {
		valueSchema["maximum"] = *field.Maximum
	}

	if field.Type == FieldTypeObject && len(field.Properties) > 0 {
		nested, err := compileObject(field.Properties, schemaOptions{additionalProperties: field.AdditionalProperties})
		if err != nil {
			return nil, err
		}
		for k, v := range nested {
			valueSchema[k] = v
		}
	}

	var schema JSONSchema
	if field.Multiple {
		schema = JSONSchema{"type": "array", "items": valueSchema}
	} else {
		schema = valueSchema
	}

	if field.AllowNull {
		schema["type"] = withNull(schema["type"])
		if enum, ok := schema["enum"].([]any); ok {
			schema["enum"] = append(enum, nil)
		}
	}

	if field.Label != "" {
		schema["title"] = field.Label
	}
	if field.Description != "" {
		schema["description"] = field.Description
	}
	if field.Default != nil {
		schema["default"] = field.Default
	}

	return schema, nil
}

// compileRequirement turns conditions into
// `{"if": ..., "then": {"required": [key]}}`.
func compileRequirement(key string, deps DependsOnConditions) (JSONSchema, error) {
	if len(deps.Conditions) == 0 {
		return nil, maperr.NewMappingError("conditional requirement has no conditions")
	}

	then := JSONSchema{keyRequired: []any{key}}

	if len(deps.Conditions) == 1 {
		c := deps.Conditions[0]
		match, err := conditionSchema(c)
		if err != nil {
			return nil, err
		}
		return JSONSchema{
			"if":   JSONSchema{keyProperties: JSONSchema{c.FieldKey: match}},
			"then": then,
		}, nil
	}

	fragments := make([]any, 0, len(deps.Conditions))
	for _, c := range deps.Conditions {
		match, err := conditionSchema(c)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, JSONSchema{
			keyProperties: JSONSchema{c.FieldKey: match},
			keyRequired:   []any{c.FieldKey},
		})
	}

	combinator := "allOf"
	if deps.MatchMode() == MatchAny {
		combinator = "anyOf"
	}

	return JSONSchema{
		"if":   JSONSchema{combinator: fragments},
		"then": then,
	}, nil
}

func conditionSchema(c Condition) (JSONSchema, error) {
	switch c.Operator {
	case OperatorIs:
		return JSONSchema{"const": c.Value}, nil
	case OperatorIsNot:
		return JSONSchema{"not": JSONSchema{"const": c.Value}}, nil
	default:
		return nil, maperr.NewMappingErrorf("unsupported conditional operator %q", c.Operator)
	}
}
