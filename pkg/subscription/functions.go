package subscription

import (
	"regexp"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/Ramsey-B/petal/pkg/mapping"
	"github.com/Ramsey-B/petal/pkg/utils"
)

func builtins() []expr.Option {
	return []expr.Option{
		expr.Function("fqlGet", func(params ...any) (any, error) {
			event, _ := params[0].(map[string]any)
			path, _ := params[1].(string)
			value := mapping.Get(event, path)
			if mapping.IsUndefined(value) {
				return nil, nil
			}
			return value, nil
		}),
		expr.Function("fqlEq", func(params ...any) (any, error) {
			return equal(params[0], params[1]), nil
		}, new(func(any, any) bool)),
		expr.Function("fqlNeq", func(params ...any) (any, error) {
			return !equal(params[0], params[1]), nil
		}, new(func(any, any) bool)),
		expr.Function("fqlGt", compare(func(c int) bool { return c > 0 }), new(func(any, any) bool)),
		expr.Function("fqlGte", compare(func(c int) bool { return c >= 0 }), new(func(any, any) bool)),
		expr.Function("fqlLt", compare(func(c int) bool { return c < 0 }), new(func(any, any) bool)),
		expr.Function("fqlLte", compare(func(c int) bool { return c <= 0 }), new(func(any, any) bool)),
		expr.Function("fqlTruthy", func(params ...any) (any, error) {
			return truthy(params[0]), nil
		}, new(func(any) bool)),
		expr.Function("fqlContains", func(params ...any) (any, error) {
			haystack, ok := params[0].(string)
			needle, ok2 := params[1].(string)
			return ok && ok2 && strings.Contains(haystack, needle), nil
		}, new(func(any, any) bool)),
		expr.Function("fqlMatch", func(params ...any) (any, error) {
			s, ok := params[0].(string)
			pattern, ok2 := params[1].(string)
			if !ok || !ok2 {
				return false, nil
			}
			return globToRegexp(pattern).MatchString(s), nil
		}, new(func(any, any) bool)),
		expr.Function("fqlLower", func(params ...any) (any, error) {
			if s, ok := params[0].(string); ok {
				return strings.ToLower(s), nil
			}
			return params[0], nil
		}),
		expr.Function("fqlLength", func(params ...any) (any, error) {
			switch v := params[0].(type) {
			case string:
				return float64(len([]rune(v))), nil
			case []any:
				return float64(len(v)), nil
			case map[string]any:
				return float64(len(v)), nil
			default:
				return float64(0), nil
			}
		}),
	}
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return utils.DeepEqual(a, b)
}

func compare(accept func(int) bool) func(params ...any) (any, error) {
	return func(params ...any) (any, error) {
		a, b := params[0], params[1]
		if fa, ok := utils.ToFloat64(a); ok {
			if fb, ok := utils.ToFloat64(b); ok {
				switch {
				case fa < fb:
					return accept(-1), nil
				case fa > fb:
					return accept(1), nil
				default:
					return accept(0), nil
				}
			}
		}
		sa, ok := a.(string)
		sb, ok2 := b.(string)
		if ok && ok2 {
			return accept(strings.Compare(sa, sb)), nil
		}
		return false, nil
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	default:
		if f, ok := utils.ToFloat64(val); ok {
			return f != 0
		}
		return true
	}
}

func globToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
