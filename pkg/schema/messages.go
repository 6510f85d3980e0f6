package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Ramsey-B/petal/pkg/utils"
)

var quotedName = regexp.MustCompile(`'([^']*)'`)

// humanMessages turns a validation failure into one sentence per violated
// constraint, ordered by instance location.
func humanMessages(err error, schema map[string]any, payload any) []string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}

	leaves := []*jsonschema.ValidationError{}
	collectLeaves(verr, &leaves)

	sort.SliceStable(leaves, func(i, j int) bool {
		return leaves[i].InstanceLocation < leaves[j].InstanceLocation
	})

	seen := map[string]bool{}
	messages := []string{}
	for _, leaf := range leaves {
		for _, msg := range describe(leaf, schema, payload) {
			if !seen[msg] {
				seen[msg] = true
				messages = append(messages, msg)
			}
		}
	}
	return messages
}

func collectLeaves(err *jsonschema.ValidationError, out *[]*jsonschema.ValidationError) {
	if len(err.Causes) == 0 {
		*out = append(*out, err)
		return
	}
	for _, cause := range err.Causes {
		collectLeaves(cause, out)
	}
}

func describe(leaf *jsonschema.ValidationError, schema map[string]any, payload any) []string {
	keywordPath := splitPointer(leaf.KeywordLocation)
	keyword := ""
	if len(keywordPath) > 0 {
		keyword = keywordPath[len(keywordPath)-1]
	}
	keywordValue, _ := lookup(schema, keywordPath)
	instance, _ := lookup(payload, splitPointer(leaf.InstanceLocation))

	subject := "The root value"
	if leaf.InstanceLocation != "" && leaf.InstanceLocation != "/" {
		subject = "The value at " + leaf.InstanceLocation
	}

	if keyword == "required" || strings.HasPrefix(leaf.Message, "missing properties") {
		return missingFields(subject, keywordValue, instance, leaf.Message)
	}

	switch keyword {
	case "type":
		return []string{fmt.Sprintf("%s must be %s but it was %s.", subject, describeTypes(keywordValue), withArticle(jsonTypeName(instance)))}
	case "minimum":
		return []string{fmt.Sprintf("%s should be greater than or equal to %s but it was %s.", subject, formatValue(keywordValue), formatValue(instance))}
	case "maximum":
		return []string{fmt.Sprintf("%s should be less than or equal to %s but it was %s.", subject, formatValue(keywordValue), formatValue(instance))}
	case "minLength":
		return []string{fmt.Sprintf("%s should be %s characters or more but it was %d characters long.", subject, formatValue(keywordValue), runeCount(instance))}
	case "maxLength":
		return []string{fmt.Sprintf("%s should be %s characters or fewer but it was %d characters long.", subject, formatValue(keywordValue), runeCount(instance))}
	case "enum":
		return []string{fmt.Sprintf("%s must be one of: %s.", subject, describeEnum(keywordValue))}
	case "const":
		return []string{fmt.Sprintf("%s must be equal to %s.", subject, formatValue(keywordValue))}
	case "format":
		return []string{fmt.Sprintf("%s must be a valid %s string but it was not.", subject, formatValue(keywordValue))}
	case "additionalProperties":
		return []string{fmt.Sprintf("%s has an unexpected property which is not allowed: %s", subject, leaf.Message)}
	default:
		return []string{fmt.Sprintf("%s %s.", subject, strings.TrimSuffix(leaf.Message, "."))}
	}
}

func missingFields(subject string, required any, instance any, fallback string) []string {
	names := []string{}
	obj, _ := instance.(map[string]any)
	if list, ok := required.([]any); ok {
		for _, item := range list {
			name, _ := item.(string)
			if _, present := obj[name]; !present {
				names = append(names, name)
			}
		}
	}
	if len(names) == 0 {
		for _, match := range quotedName.FindAllStringSubmatch(fallback, -1) {
			names = append(names, match[1])
		}
	}

	messages := make([]string, 0, len(names))
	for _, name := range names {
		messages = append(messages, fmt.Sprintf("%s is missing the required field '%s'.", subject, name))
	}
	return messages
}

func describeTypes(t any) string {
	types := schemaTypes(t)
	described := make([]string, len(types))
	for i, name := range types {
		described[i] = withArticle(name)
	}
	return strings.Join(described, " or ")
}

func describeEnum(v any) string {
	list, _ := v.([]any)
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = formatValue(item)
	}
	return strings.Join(parts, ", ")
}

func jsonTypeName(v any) string {
	t := jsonType(v)
	if t == "integer" {
		return "number"
	}
	return t
}

func withArticle(t string) string {
	switch t {
	case "array", "object", "integer", "undefined":
		return "an " + t
	default:
		return "a " + t
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	}
	if f, ok := utils.ToFloat64(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	b, err := utils.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func runeCount(v any) int {
	s, _ := v.(string)
	return len([]rune(s))
}

// splitPointer decodes a JSON pointer such as "/properties/a~1b".
func splitPointer(pointer string) []string {
	pointer = strings.TrimPrefix(pointer, "#")
	if pointer == "" || pointer == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
	}
	return parts
}

func lookup(doc any, path []string) (any, bool) {
	current := doc
	for _, segment := range path {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(v) {
				return nil, false
			}
			current = v[index]
		default:
			return nil, false
		}
	}
	return current, true
}
