package mapping

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Ramsey-B/petal/pkg/utils"
)

var placeholderPattern = regexp.MustCompile(`\{\{\{([^{}]+)\}\}\}|\{\{([^{}]+)\}\}`)

// RenderTemplate replaces `{{path}}` (HTML escaped) and `{{{path}}}` (raw)
// placeholders with values looked up in data. Missing values render empty.
func RenderTemplate(template string, data any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		raw, escaped := groups[1], groups[2]

		path := escaped
		if raw != "" {
			path = raw
		}

		value := Get(data, trimRootPrefix(strings.TrimSpace(path)))
		text := stringifyTemplateValue(value)
		if raw != "" {
			return text
		}
		return html.EscapeString(text)
	})
}

func stringifyTemplateValue(v any) string {
	switch value := v.(type) {
	case nil, undefinedValue:
		return ""
	case string:
		return value
	case map[string]any, []any:
		b, err := utils.Marshal(value)
		if err != nil {
			return ""
		}
		return string(b)
	case float64:
		return formatNumber(value)
	default:
		return fmt.Sprint(value)
	}
}

// formatNumber prints a float the way JavaScript's String(number) does:
// shortest round-trip digits, exponent notation below 1e-6 and from 1e21.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		mantissa, exponent, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
		sign, digits := exponent[:1], strings.TrimLeft(exponent[1:], "0")
		return mantissa + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
