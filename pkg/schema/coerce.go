package schema

import (
	"math"
	"strconv"
	"strings"

	"github.com/Ramsey-B/petal/pkg/utils"
)

// coerce adjusts value to fit schema's declared type the way a coercing
// validator does: scalars convert between string, number, integer, boolean and
// null, scalars wrap into single element arrays and single element arrays
// unwrap into scalars. Objects are modified in place, additional properties are
// removed where the schema forbids them.
func coerce(value any, schema map[string]any) any {
	if schema == nil {
		return value
	}

	types := schemaTypes(schema["type"])
	if len(types) > 0 && !matchesAny(value, types) {
		value = coerceToTypes(value, types)
	}

	switch v := value.(type) {
	case map[string]any:
		coerceObject(v, schema)
	case []any:
		if items, ok := schema["items"].(map[string]any); ok {
			for i := range v {
				v[i] = coerce(v[i], items)
			}
		}
	}
	return value
}

func coerceObject(obj map[string]any, schema map[string]any) {
	properties, _ := schema["properties"].(map[string]any)

	if additional, ok := schema["additionalProperties"].(bool); ok && !additional {
		for k := range obj {
			if _, known := properties[k]; !known {
				delete(obj, k)
			}
		}
	}

	for k, propSchema := range properties {
		current, exists := obj[k]
		if !exists {
			continue
		}
		if ps, ok := propSchema.(map[string]any); ok {
			obj[k] = coerce(current, ps)
		}
	}
}

func schemaTypes(t any) []string {
	switch v := t.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func jsonType(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		if f, ok := utils.ToFloat64(val); ok {
			if f == math.Trunc(f) {
				return "integer"
			}
			return "number"
		}
		return "unknown"
	}
}

func matchesAny(v any, types []string) bool {
	actual := jsonType(v)
	for _, t := range types {
		if t == actual || (t == "number" && actual == "integer") {
			return true
		}
	}
	return false
}

func coerceToTypes(value any, types []string) any {
	// a single element array may stand in for its element
	if arr, ok := value.([]any); ok && len(arr) == 1 && !contains(types, "array") {
		if matchesAny(arr[0], types) {
			return arr[0]
		}
		value = arr[0]
	}

	for _, t := range types {
		if coerced, ok := coerceScalar(value, t); ok {
			return coerced
		}
	}
	return value
}

func coerceScalar(value any, target string) (any, bool) {
	switch target {
	case "string":
		switch v := value.(type) {
		case nil:
			return "", true
		case bool:
			return strconv.FormatBool(v), true
		default:
			if f, ok := utils.ToFloat64(v); ok {
				return strconv.FormatFloat(f, 'f', -1, 64), true
			}
		}
	case "number", "integer":
		var f float64
		switch v := value.(type) {
		case nil:
			f = 0
		case bool:
			if v {
				f = 1
			}
		case string:
			trimmed := strings.TrimSpace(v)
			if trimmed == "" || trimmed != v {
				return nil, false
			}
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsInf(parsed, 0) || math.IsNaN(parsed) {
				return nil, false
			}
			f = parsed
		default:
			return nil, false
		}
		if target == "integer" && f != math.Trunc(f) {
			return nil, false
		}
		return f, true
	case "boolean":
		switch v := value.(type) {
		case nil:
			return false, true
		case string:
			switch v {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		default:
			if f, ok := utils.ToFloat64(v); ok && (f == 0 || f == 1) {
				return f == 1, true
			}
		}
	case "null":
		switch v := value.(type) {
		case string:
			if v == "" {
				return nil, true
			}
		case bool:
			if !v {
				return nil, true
			}
		default:
			if f, ok := utils.ToFloat64(v); ok && f == 0 {
				return nil, true
			}
		}
	case "array":
		return []any{value}, true
	}
	return nil, false
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
