package mapping

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
)

var (
	ErrMalformedPath = errors.New("malformed path")
)

// Get looks up a dot/bracket path such as `a.b[0].c` or `a['b.c']` in obj.
// An empty path or "." returns obj. Missing segments return Undefined.
func Get(obj any, path string) any {
	if path == "" || path == "." {
		return obj
	}

	segments, err := ParsePath(path)
	if err != nil {
		return Undefined
	}

	value := obj
	for _, segment := range segments {
		value = getSegment(value, segment)
		if IsUndefined(value) {
			return Undefined
		}
	}
	return value
}

// ParsePath splits a path into its key segments. Quoted bracket segments keep
// dots and brackets literally.
func ParsePath(path string) ([]string, error) {
	segments := []string{}
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
		}
	}

	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '.':
			flush()
		case '[':
			flush()
			if i+1 < len(path) && (path[i+1] == '\'' || path[i+1] == '"') {
				quote := path[i+1]
				end := strings.IndexByte(path[i+2:], quote)
				if end < 0 || i+2+end+1 >= len(path) || path[i+2+end+1] != ']' {
					return nil, ErrMalformedPath
				}
				segments = append(segments, path[i+2:i+2+end])
				i = i + 2 + end + 1
				continue
			}
			end := strings.IndexByte(path[i+1:], ']')
			if end < 0 {
				return nil, ErrMalformedPath
			}
			key := path[i+1 : i+1+end]
			if key != "" {
				segments = append(segments, key)
			}
			i = i + 1 + end
		default:
			current.WriteByte(c)
		}
	}
	flush()

	return segments, nil
}

func getSegment(value any, key string) any {
	switch v := value.(type) {
	case map[string]any:
		item, ok := v[key]
		if !ok {
			return Undefined
		}
		return item
	case []any:
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 || index >= len(v) {
			return Undefined
		}
		return v[index]
	case nil, undefinedValue:
		return Undefined
	}

	return getReflectSegment(reflect.ValueOf(value), key)
}

// getReflectSegment handles typed maps and slices built in Go code.
func getReflectSegment(v reflect.Value, key string) any {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return Undefined
		}
		return getReflectSegment(v.Elem(), key)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return Undefined
		}
		item := v.MapIndex(reflect.ValueOf(key).Convert(v.Type().Key()))
		if !item.IsValid() {
			return Undefined
		}
		return item.Interface()
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 || index >= v.Len() {
			return Undefined
		}
		return v.Index(index).Interface()
	default:
		return Undefined
	}
}

// trimRootPrefix drops the optional `$.` prefix. A bare `$` addresses the root.
func trimRootPrefix(path string) string {
	if path == "$" {
		return ""
	}
	return strings.TrimPrefix(path, "$.")
}
