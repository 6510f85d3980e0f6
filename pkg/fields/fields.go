// Package fields describes the input fields of a destination action.
//
// # Overview
//
// Fields are author-time configuration. Each InputField describes one payload
// key: its type, whether it is required (always, or only when other fields hold
// certain values), whether it holds many values, nested properties and the
// choices a UI may offer.
//
// Fields compile into a Draft-07 JSON Schema with ToJSONSchema, and
// FilterPayloadByDependsOn strips keys whose depends_on condition is not met.
//
// # Example
//
//	Fields{
//	  "email": {Label: "Email", Type: FieldTypeString, Required: Always()},
//	  "phone": {Label: "Phone", Type: FieldTypeString, Required: When(MatchAll,
//	    Condition{FieldKey: "channel", Operator: OperatorIs, Value: "sms"})},
//	}
package fields

import (
	"encoding/json"
	"fmt"
	"sort"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
	"github.com/Ramsey-B/petal/pkg/utils"
)

type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeText     FieldType = "text"
	FieldTypePassword FieldType = "password"
	FieldTypeNumber   FieldType = "number"
	FieldTypeInteger  FieldType = "integer"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeObject   FieldType = "object"
)

type Operator string

const (
	OperatorIs    Operator = "is"
	OperatorIsNot Operator = "is_not"
)

type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

type Condition struct {
	FieldKey string   `json:"fieldKey" validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    any      `json:"value"`
}

// DependsOnConditions combines conditions on other payload fields.
type DependsOnConditions struct {
	Match      MatchMode   `json:"match,omitempty" validate:"omitempty,oneof=all any"`
	Conditions []Condition `json:"conditions" validate:"required,min=1,dive"`
}

func (d DependsOnConditions) MatchMode() MatchMode {
	if d.Match == "" {
		return MatchAll
	}
	return d.Match
}

// Requirement is either a plain boolean or a set of conditions that make the
// field required. In JSON it is `true`, `false` or a DependsOnConditions object.
type Requirement struct {
	Always     bool
	Conditions *DependsOnConditions
}

func Always() Requirement {
	return Requirement{Always: true}
}

func When(match MatchMode, conditions ...Condition) Requirement {
	return Requirement{Conditions: &DependsOnConditions{Match: match, Conditions: conditions}}
}

func (r Requirement) IsConditional() bool {
	return r.Conditions != nil
}

func (r Requirement) MarshalJSON() ([]byte, error) {
	if r.Conditions != nil {
		return json.Marshal(r.Conditions)
	}
	return json.Marshal(r.Always)
}

func (r *Requirement) UnmarshalJSON(b []byte) error {
	var always bool
	if err := json.Unmarshal(b, &always); err == nil {
		*r = Requirement{Always: always}
		return nil
	}

	var conditions DependsOnConditions
	if err := json.Unmarshal(b, &conditions); err != nil {
		return fmt.Errorf("required must be a boolean or a conditions object: %w", err)
	}
	*r = Requirement{Conditions: &conditions}
	return nil
}

// Choice is an allowed value. In JSON a bare string is shorthand for a choice
// whose label and value are the same.
type Choice struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

func (c *Choice) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = Choice{Label: s, Value: s}
		return nil
	}

	type plain Choice
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = Choice(p)
	return nil
}

type InputField struct {
	Label                string               `json:"label"`
	Description          string               `json:"description,omitempty"`
	Type                 FieldType            `json:"type" validate:"required,oneof=string text password number integer datetime boolean object"`
	Required             Requirement          `json:"required"`
	Multiple             bool                 `json:"multiple,omitempty"`
	AllowNull            bool                 `json:"allowNull,omitempty"`
	Properties           Fields               `json:"properties,omitempty" validate:"omitempty,dive"`
	AdditionalProperties bool                 `json:"additionalProperties,omitempty"`
	Choices              []Choice             `json:"choices,omitempty"`
	Default              any                  `json:"default,omitempty"`
	DependsOn            *DependsOnConditions `json:"depends_on,omitempty"`
	Dynamic              bool                 `json:"dynamic,omitempty"`
	Format               string               `json:"format,omitempty"`
	MinLength            *int                 `json:"minLength,omitempty" validate:"omitempty,min=0"`
	MaxLength            *int                 `json:"maxLength,omitempty" validate:"omitempty,min=0"`
	Minimum              *float64             `json:"minimum,omitempty"`
	Maximum              *float64             `json:"maximum,omitempty"`
}

type Fields map[string]InputField

// Keys returns the field keys in the order schemas and filters visit them.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f Fields) Validate() error {
	for _, key := range f.Keys() {
		if err := f[key].Validate(); err != nil {
			return maperr.WrapMappingError(err).AddField(key)
		}
	}
	return nil
}

func (f InputField) Validate() error {
	if _, err := utils.Validate(f); err != nil {
		return maperr.WrapMappingError(err)
	}

	if f.Required.Conditions != nil {
		if _, err := utils.Validate(*f.Required.Conditions); err != nil {
			return maperr.NewMappingErrorf("invalid required conditions: %v", err)
		}
		if err := checkOperators(f.Required.Conditions.Conditions); err != nil {
			return err
		}
	}

	if f.DependsOn != nil {
		if err := checkOperators(f.DependsOn.Conditions); err != nil {
			return err
		}
	}

	if len(f.Properties) > 0 && f.Type != FieldTypeObject {
		return maperr.NewMappingError("properties are only allowed on object fields")
	}

	return f.Properties.Validate()
}

func checkOperators(conditions []Condition) error {
	for _, c := range conditions {
		if c.Operator != OperatorIs && c.Operator != OperatorIsNot {
			return maperr.NewMappingErrorf("unsupported operator %q for field %q", c.Operator, c.FieldKey)
		}
	}
	return nil
}
