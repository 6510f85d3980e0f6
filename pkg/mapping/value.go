package mapping

import (
	"strings"
)

type undefinedValue struct{}

// Undefined marks a value that does not exist. Keys resolving to Undefined are
// pruned from transformed payloads while nil (JSON null) is kept.
var Undefined any = undefinedValue{}

func IsUndefined(v any) bool {
	_, ok := v.(undefinedValue)
	return ok
}

// IsNullish is true for Undefined and nil.
func IsNullish(v any) bool {
	return v == nil || IsUndefined(v)
}

// RemoveUndefined deep-strips Undefined keys from objects. Undefined array
// elements become nil so later elements keep their positions.
func RemoveUndefined(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			if IsUndefined(item) {
				continue
			}
			out[k] = RemoveUndefined(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			if IsUndefined(item) {
				continue
			}
			out[i] = RemoveUndefined(item)
		}
		return out
	default:
		return v
	}
}

// TypeOf names the JSON type of v the way error messages report it.
func TypeOf(v any) string {
	if IsUndefined(v) {
		return "undefined"
	}

	switch v.(type) {
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
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	default:
		return "object"
	}
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// isTruthy follows the loose truthiness used for optional directive branches.
func isTruthy(v any) bool {
	switch value := v.(type) {
	case nil, undefinedValue:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case float64:
		return value != 0
	case int:
		return value != 0
	default:
		return true
	}
}

func directiveKeys(obj map[string]any) []string {
	keys := []string{}
	for k := range obj {
		if strings.HasPrefix(k, "@") {
			keys = append(keys, k)
		}
	}
	return keys
}

// IsDirective reports whether v is an object with an @-prefixed key.
func IsDirective(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	return len(directiveKeys(obj)) > 0
}

// arrify wraps non-array values in a single element array.
func arrify(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	if IsNullish(v) {
		return []any{}
	}
	return []any{v}
}
