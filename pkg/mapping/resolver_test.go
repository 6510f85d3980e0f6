package mapping

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
)

func parseJSON(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &out))
	return out
}

func TestTransformPrunesUndefined(t *testing.T) {
	ctx := context.Background()

	out, err := Transform(ctx, map[string]any{"x": Undefined, "y": 1.0}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"y": 1.0}, out)

	out, err = Transform(ctx, map[string]any{"x": nil}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": nil}, out)

	out, err = Transform(ctx, map[string]any{"list": []any{map[string]any{"@path": "$.missing"}, "kept"}}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"list": []any{nil, "kept"}}, out)
}

func TestTransformKeepsArrayPositions(t *testing.T) {
	mapping := parseJSON(t, `{"ids": [{"@path": "$.a"}, {"@path": "$.b"}, {"nested": {"@path": "$.c"}}]}`)

	out, err := Transform(context.Background(), mapping, map[string]any{"b": "B"})
	require.NoError(t, err)
	assert.Equal(t, []any{nil, "B", map[string]any{}}, out["ids"])

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids": [null, "B", {}]}`, string(b))
}

func TestTransformRequiresObjectData(t *testing.T) {
	_, err := Transform(context.Background(), map[string]any{}, []any{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data must be an object, got array")
}

func TestTransformIsIdempotent(t *testing.T) {
	mapping := parseJSON(t, `{
		"email": {"@path": "$.traits.email"},
		"greeting": {"@template": "Hi {{traits.name}}"},
		"items": {"@arrayPath": ["$.properties.products", {"id": {"@path": "$.productId"}}]}
	}`)
	payload := parseJSON(t, `{"traits": {"email": "a@b.co", "name": "Ann"}, "properties": {"products": [{"productId": "1"}, {"productId": "2"}]}}`)

	first, err := Transform(context.Background(), mapping, payload)
	require.NoError(t, err)
	second, err := Transform(context.Background(), mapping, payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []any{map[string]any{"id": "1"}, map[string]any{"id": "2"}}, first["items"])
}

func TestPathDirective(t *testing.T) {
	ctx := context.Background()
	payload := map[string]any{"foo": map[string]any{"bar": "baz"}}

	out, err := Transform(ctx, map[string]any{"neat": map[string]any{"@path": "$.foo.bar"}}, payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"neat": "baz"}, out)

	out, err = Transform(ctx, map[string]any{"neat": map[string]any{"@path": "$.foo.nope"}}, payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)

	out, err = Transform(ctx, map[string]any{"all": map[string]any{"@path": "$"}}, payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"all": payload}, out)

	out, err = Transform(ctx, map[string]any{"nested": map[string]any{"@path": map[string]any{"@template": "foo.{{key}}"}}}, map[string]any{"key": "bar", "foo": map[string]any{"bar": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"nested": 1.0}, out)
}

func TestIfDirective(t *testing.T) {
	payload := map[string]any{"a": 1.0, "d": nil, "e": ""}

	tests := []struct {
		name     string
		cond     string
		path     string
		expected any
	}{
		{"exists with value", "exists", "$.a", "yep"},
		{"exists with null", "exists", "$.d", "nope"},
		{"exists with empty string", "exists", "$.e", "yep"},
		{"exists missing", "exists", "$.z", "nope"},
		{"blank with value", "blank", "$.a", "yep"},
		{"blank with empty string", "blank", "$.e", "nope"},
		{"blank with null", "blank", "$.d", "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapping := map[string]any{
				"value": map[string]any{
					"@if": map[string]any{
						tt.cond: map[string]any{"@path": tt.path},
						"then":  "yep",
						"else":  "nope",
					},
				},
			}
			out, err := Transform(context.Background(), mapping, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out["value"])
		})
	}
}

func TestIfDirectiveFalsyElse(t *testing.T) {
	payload := map[string]any{}
	mapping := map[string]any{
		"raw":     map[string]any{"@if": map[string]any{"exists": map[string]any{"@path": "$.x"}, "then": true, "else": false}},
		"literal": map[string]any{"@if": map[string]any{"exists": map[string]any{"@path": "$.x"}, "then": true, "else": map[string]any{"@literal": false}}},
	}

	out, err := Transform(context.Background(), mapping, payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"literal": false}, out)
}

func TestIfRequiresOneCondition(t *testing.T) {
	_, err := Transform(context.Background(), map[string]any{"v": map[string]any{"@if": map[string]any{"then": 1.0}}}, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `exactly one of "exists" or "blank"`)
}

func TestCaseDirective(t *testing.T) {
	payload := map[string]any{"s": "MiXeD", "n": 12.0, "b": true}

	tests := []struct {
		operator string
		path     string
		expected any
	}{
		{"lower", "$.s", "mixed"},
		{"upper", "$.s", "MIXED"},
		{"upper", "$.n", 12.0},
		{"lower", "$.b", true},
	}

	for _, tt := range tests {
		t.Run(tt.operator+tt.path, func(t *testing.T) {
			out, err := Transform(context.Background(), map[string]any{
				"v": map[string]any{"@case": map[string]any{"operator": tt.operator, "value": map[string]any{"@path": tt.path}}},
			}, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out["v"])
		})
	}

	_, err := Transform(context.Background(), map[string]any{
		"v": map[string]any{"@case": map[string]any{"operator": "title", "value": "x"}},
	}, payload)
	assert.Error(t, err)
}

func TestReplaceDirective(t *testing.T) {
	payload := map[string]any{"s": "a+b+A+b", "n": 1234.0, "b": true, "o": map[string]any{}, "long": 123.456789012, "tiny": 1e-7}

	tests := []struct {
		name     string
		opts     map[string]any
		expected any
	}{
		{"global default", map[string]any{"pattern": "+", "replacement": "-", "value": map[string]any{"@path": "$.s"}}, "a-b-A-b"},
		{"non global", map[string]any{"pattern": "+", "replacement": "-", "global": false, "value": map[string]any{"@path": "$.s"}}, "a-b+A+b"},
		{"case sensitive", map[string]any{"pattern": "a", "replacement": "x", "value": map[string]any{"@path": "$.s"}}, "x+b+A+b"},
		{"ignore case", map[string]any{"pattern": "a", "replacement": "x", "ignorecase": true, "value": map[string]any{"@path": "$.s"}}, "x+b+x+b"},
		{"second pattern", map[string]any{"pattern": "a", "replacement": "x", "pattern2": "b", "replacement2": "y", "value": map[string]any{"@path": "$.s"}}, "x+y+A+y"},
		{"literal replacement", map[string]any{"pattern": "b", "replacement": "$0", "value": map[string]any{"@path": "$.s"}}, "a+$0+A+$0"},
		{"number coerced", map[string]any{"pattern": "23", "replacement": "", "value": map[string]any{"@path": "$.n"}}, "14"},
		{"boolean coerced", map[string]any{"pattern": "tr", "replacement": "", "value": map[string]any{"@path": "$.b"}}, "ue"},
		{"object dropped", map[string]any{"pattern": "x", "value": map[string]any{"@path": "$.o"}}, ""},
		{"long fraction kept", map[string]any{"pattern": "x", "value": map[string]any{"@path": "$.long"}}, "123.456789012"},
		{"tiny number", map[string]any{"pattern": "x", "value": map[string]any{"@path": "$.tiny"}}, "1e-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Transform(context.Background(), map[string]any{"v": map[string]any{"@replace": tt.opts}}, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out["v"])
		})
	}
}

func TestReplacePatternTooLong(t *testing.T) {
	err := Validate(map[string]any{"v": map[string]any{"@replace": map[string]any{"pattern": "01234567890", "value": "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/v/@replace/pattern should be at most 10 characters")
}

func TestArrayPathDirective(t *testing.T) {
	shape := map[string]any{"product_id": map[string]any{"@path": "$.productId"}}

	tests := []struct {
		name     string
		payload  map[string]any
		expected any
	}{
		{"array root", map[string]any{"products": []any{map[string]any{"productId": "123", "price": 0.5}}}, []any{map[string]any{"product_id": "123"}}},
		{"object root", map[string]any{"products": map[string]any{"productId": "9"}}, []any{map[string]any{"product_id": "9"}}},
		{"scalar root", map[string]any{"products": "nope"}, []any{map[string]any{}}},
		{"missing root", map[string]any{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Transform(context.Background(), map[string]any{"v": map[string]any{"@arrayPath": []any{"$.products", shape}}}, tt.payload)
			require.NoError(t, err)
			if tt.expected == nil {
				assert.NotContains(t, out, "v")
				return
			}
			assert.Equal(t, tt.expected, out["v"])
		})
	}

	out, err := Transform(context.Background(), map[string]any{"v": map[string]any{"@arrayPath": []any{"$.products"}}}, map[string]any{"products": "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw", out["v"])
}

func TestTemplateKeepsNumberPrecision(t *testing.T) {
	mapping := parseJSON(t, `{
		"a": {"@template": "{{a}}"},
		"b": {"@template": "{{b}}"},
		"r": {"@replace": {"pattern": "x", "value": {"@path": "$.c"}}}
	}`)

	out, err := Transform(context.Background(), mapping, map[string]any{"a": 0.1234567, "b": 1e-7, "c": 123.456789012})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "0.1234567", "b": "1e-7", "r": "123.456789012"}, out)
}

func TestFlattenDirective(t *testing.T) {
	payload := parseJSON(t, `{"o": {"a": {"b": 1, "c": [1, {"d": 2}]}, "e": "x"}}`)

	out, err := Transform(context.Background(), map[string]any{
		"v": map[string]any{"@flatten": map[string]any{"value": map[string]any{"@path": "$.o"}, "separator": "."}},
	}, payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a.b": 1.0, "a.c.0": 1.0, "a.c.1.d": 2.0, "e": "x"}, out["v"])

	out, err = Transform(context.Background(), map[string]any{
		"v": map[string]any{"@flatten": map[string]any{"value": map[string]any{"@path": "$.o"}, "separator": "_", "omitArrays": true}},
	}, payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a_b": 1.0, "a_c": []any{1.0, map[string]any{"d": 2.0}}, "e": "x"}, out["v"])
}

func TestFlattenDefaultsToDotSeparator(t *testing.T) {
	mapping := map[string]any{"f": map[string]any{"@flatten": map[string]any{"value": map[string]any{"@path": "$.p"}}}}
	require.NoError(t, Validate(mapping))

	out, err := Transform(context.Background(), mapping, parseJSON(t, `{"p": {"a": {"b": 1}}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a.b": 1.0}, out["f"])
}

func TestJSONDirective(t *testing.T) {
	payload := parseJSON(t, `{"o": {"a": 1}, "s": "{\"b\":[true]}", "n": 5}`)

	out, err := Transform(context.Background(), map[string]any{
		"enc":     map[string]any{"@json": map[string]any{"mode": "encode", "value": map[string]any{"@path": "$.o"}}},
		"dec":     map[string]any{"@json": map[string]any{"mode": "decode", "value": map[string]any{"@path": "$.s"}}},
		"passed":  map[string]any{"@json": map[string]any{"mode": "decode", "value": map[string]any{"@path": "$.n"}}},
		"missing": map[string]any{"@json": map[string]any{"mode": "encode", "value": map[string]any{"@path": "$.zzz"}}},
	}, payload)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out["enc"])
	assert.Equal(t, map[string]any{"b": []any{true}}, out["dec"])
	assert.Equal(t, 5.0, out["passed"])
	assert.NotContains(t, out, "missing")
}

func TestMergeDirective(t *testing.T) {
	payload := parseJSON(t, `{"first": {"a": 1, "b": 1}, "second": {"b": 2, "c": 2}}`)
	objects := []any{map[string]any{"@path": "$.first"}, map[string]any{"@path": "$.second"}, "skipped"}

	out, err := Transform(context.Background(), map[string]any{
		"right": map[string]any{"@merge": map[string]any{"direction": "right", "objects": objects}},
		"left":  map[string]any{"@merge": map[string]any{"direction": "left", "objects": objects}},
	}, payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0, "c": 2.0}, out["right"])
	assert.Equal(t, map[string]any{"a": 1.0, "b": 1.0, "c": 2.0}, out["left"])
	// the mapping itself is never reordered
	assert.Equal(t, "$.first", objects[0].(map[string]any)["@path"])
}

func TestTransformDirective(t *testing.T) {
	payload := parseJSON(t, `{"properties": {"first": "Ann", "last": "Lee"}}`)

	out, err := Transform(context.Background(), map[string]any{
		"v": map[string]any{"@transform": map[string]any{
			"apply":   map[string]any{"name": map[string]any{"@template": "{{properties.first}} {{properties.last}}"}},
			"mapping": map[string]any{"full": map[string]any{"@path": "$.name"}},
		}},
	}, payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"full": "Ann Lee"}, out["v"])
}

func TestRootDirective(t *testing.T) {
	payload := parseJSON(t, `{"properties": {"a": {"b": 1}}}`)

	out, err := Transform(context.Background(), map[string]any{
		RootDirectiveKey: map[string]any{"@transform": map[string]any{
			"apply": map[string]any{"flat": map[string]any{"@flatten": map[string]any{"value": map[string]any{"@path": "$.properties"}, "separator": "_"}}},
		}},
		"x": map[string]any{"@path": "$.flat.a_b"},
	}, payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1.0}, out)

	_, err = Transform(context.Background(), map[string]any{
		RootDirectiveKey: map[string]any{"@transform": map[string]any{}, "@merge": map[string]any{}},
	}, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single directive")
}

func TestExcludeWhenNullAndLiteral(t *testing.T) {
	payload := map[string]any{"n": nil, "v": "x"}

	out, err := Transform(context.Background(), map[string]any{
		"gone":    map[string]any{"@excludeWhenNull": map[string]any{"@path": "$.n"}},
		"kept":    map[string]any{"@excludeWhenNull": map[string]any{"@path": "$.v"}},
		"null":    map[string]any{"@path": "$.n"},
		"literal": map[string]any{"@literal": false},
	}, payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"kept": "x", "null": nil, "literal": false}, out)
}

func TestLiquidDirective(t *testing.T) {
	payload := parseJSON(t, `{"traits": {"name": "ann"}}`)

	out, err := Transform(context.Background(), map[string]any{
		"v": map[string]any{"@liquid": "{{ traits.name | capitalize }}"},
	}, payload)
	require.NoError(t, err)
	assert.Equal(t, "Ann", out["v"])

	_, err = Transform(context.Background(), map[string]any{
		"v": map[string]any{"@liquid": "{% tablerow x in traits %}{% endtablerow %}"},
	}, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `tag "tablerow" is disabled`)
	assert.Contains(t, err.Error(), "directive '@liquid'")
}

func TestMixedKeysRejected(t *testing.T) {
	_, err := Resolve(context.Background(), map[string]any{"@path": "$.a", "other": 1.0}, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot mix")

	out, err := Resolve(context.Background(), map[string]any{"@path": "$.a", MetadataKey: map[string]any{"label": "x"}}, map[string]any{"a": 2.0})
	require.NoError(t, err)
	assert.Equal(t, 2.0, out)
}

func TestUnknownDirective(t *testing.T) {
	_, err := Resolve(context.Background(), map[string]any{"@nope": 1.0}, map[string]any{})
	require.Error(t, err)
	assert.True(t, maperr.IsMappingError(err))
	assert.Contains(t, err.Error(), "@nope is not a valid directive")
}

func TestCustomDirectives(t *testing.T) {
	r := NewResolver(WithDirectives(Directives{
		"@reverse": {
			Validate: validateDirectiveOrString,
			Resolve: func(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
				value, err := r.Resolve(ctx, opts, payload)
				if err != nil {
					return nil, err
				}
				s, _ := value.(string)
				runes := []rune(s)
				for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
					runes[i], runes[j] = runes[j], runes[i]
				}
				return string(runes), nil
			},
		},
		DirectivePath: {Resolve: func(context.Context, *Resolver, any, any) (any, error) { return "overridden", nil }},
	}))

	out, err := r.Transform(context.Background(), map[string]any{
		"v": map[string]any{"@reverse": map[string]any{"@path": "$.s"}},
	}, map[string]any{"s": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "cba", out["v"])

	// custom directives stay local to their resolver
	_, err = Transform(context.Background(), map[string]any{"v": map[string]any{"@reverse": "x"}}, map[string]any{})
	assert.Error(t, err)
}

func TestTransformBatch(t *testing.T) {
	mapping := map[string]any{"id": map[string]any{"@path": "$.userId"}}

	out, err := TransformBatch(context.Background(), mapping, []any{
		map[string]any{"userId": "a"},
		map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": "a"}, {}}, out)

	_, err = TransformBatch(context.Background(), mapping, []any{map[string]any{}, "bad"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "item 1"))
}

func TestResolveHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Resolve(ctx, map[string]any{"a": map[string]any{"@path": "$.a"}}, map[string]any{})
	assert.ErrorIs(t, err, context.Canceled)
}
