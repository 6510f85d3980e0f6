// Package mapping resolves directive mappings against analytics events.
//
// # Overview
//
// A mapping is a JSON tree of literal values and directive objects. Resolving
// a mapping against a payload walks the tree:
//   - Scalars resolve to themselves
//   - Arrays resolve element-wise
//   - Plain objects resolve key-wise
//   - Directive objects (exactly one @-prefixed key, plus an optional
//     `_metadata` key) dispatch to the matching Directive
//
// # Directives
//
// The built in set is returned by DefaultDirectives:
//
//	{"@path": "$.properties.email"}
//	{"@template": "Hello {{traits.name}}"}
//	{"@if": {"exists": {"@path": "$.userId"}, "then": "known", "else": "anonymous"}}
//	{"@arrayPath": ["$.products", {"sku": {"@path": "$.id"}}]}
//
// Embedders can add their own with WithDirectives. There is no global registry.
//
// # Undefined
//
// Lookups that find nothing produce Undefined. Transform prunes Undefined from
// the output so a payload never carries an absent value, while nil is kept.
//
// # Root directive
//
// When a mapping holds RootDirectiveKey, every sibling key is moved under that
// directive's `mapping` option before resolving, letting a single root
// directive such as @transform receive the rest of the mapping as input.
package mapping

import (
	"context"
	"sort"

	"github.com/osteele/liquid"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
)

const RootDirectiveKey = "__segment_internal_directive"

type Resolver struct {
	directives Directives
	liquid     *LiquidRenderer
}

type ResolverOption func(*Resolver)

// WithDirectives registers additional directives. Built in names cannot be replaced.
func WithDirectives(extra Directives) ResolverOption {
	return func(r *Resolver) {
		for name, directive := range extra {
			if _, exists := r.directives[name]; exists {
				continue
			}
			r.directives[name] = directive
		}
	}
}

func WithLiquidEngine(engine *liquid.Engine) ResolverOption {
	return func(r *Resolver) {
		r.liquid = NewLiquidRenderer(engine)
	}
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		directives: DefaultDirectives(),
		liquid:     NewLiquidRenderer(nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultResolver = NewResolver()

// Transform validates and resolves mapping against data and prunes Undefined values.
func Transform(ctx context.Context, mapping map[string]any, data any) (map[string]any, error) {
	return defaultResolver.Transform(ctx, mapping, data)
}

func TransformBatch(ctx context.Context, mapping map[string]any, data []any) ([]map[string]any, error) {
	return defaultResolver.TransformBatch(ctx, mapping, data)
}

func Resolve(ctx context.Context, node any, payload any) (any, error) {
	return defaultResolver.Resolve(ctx, node, payload)
}

func (r *Resolver) Transform(ctx context.Context, mapping map[string]any, data any) (map[string]any, error) {
	if _, ok := data.(map[string]any); !ok {
		return nil, maperr.NewMappingErrorf("data must be an object, got %s", TypeOf(data))
	}

	expanded, err := r.prepare(mapping)
	if err != nil {
		return nil, err
	}

	return r.transformOne(ctx, expanded, data)
}

func (r *Resolver) TransformBatch(ctx context.Context, mapping map[string]any, data []any) ([]map[string]any, error) {
	expanded, err := r.prepare(mapping)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(data))
	for i, item := range data {
		if _, ok := item.(map[string]any); !ok {
			return nil, maperr.NewMappingErrorf("data must be an object, got %s", TypeOf(item)).AddItemIndex(i)
		}
		out, err := r.transformOne(ctx, expanded, item)
		if err != nil {
			return nil, maperr.WrapMappingError(err).AddItemIndex(i)
		}
		results = append(results, out)
	}
	return results, nil
}

func (r *Resolver) prepare(mapping map[string]any) (map[string]any, error) {
	if mapping == nil {
		mapping = map[string]any{}
	}

	expanded, err := expandRootDirective(mapping)
	if err != nil {
		return nil, err
	}

	if err := r.validate(expanded, []string{}); err != nil {
		return nil, err
	}
	return expanded, nil
}

func (r *Resolver) transformOne(ctx context.Context, mapping map[string]any, data any) (map[string]any, error) {
	resolved, err := r.Resolve(ctx, mapping, data)
	if err != nil {
		return nil, err
	}

	switch out := RemoveUndefined(resolved).(type) {
	case map[string]any:
		return out, nil
	case nil, undefinedValue:
		return map[string]any{}, nil
	default:
		return nil, maperr.NewMappingErrorf("mapping must resolve to an object, got %s", TypeOf(out))
	}
}

// Resolve resolves one mapping node. The result may contain Undefined.
func (r *Resolver) Resolve(ctx context.Context, node any, payload any) (any, error) {
	switch value := node.(type) {
	case map[string]any:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys := directiveKeys(value)
		if len(keys) == 0 {
			out := make(map[string]any, len(value))
			for k, child := range value {
				resolved, err := r.Resolve(ctx, child, payload)
				if err != nil {
					return nil, err
				}
				out[k] = resolved
			}
			return out, nil
		}
		return r.runDirective(ctx, value, keys, payload)
	case []any:
		out := make([]any, len(value))
		for i, child := range value {
			resolved, err := r.Resolve(ctx, child, payload)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return node, nil
	}
}

func (r *Resolver) runDirective(ctx context.Context, obj map[string]any, keys []string, payload any) (any, error) {
	if len(keys) > 1 {
		sort.Strings(keys)
		return nil, maperr.NewMappingErrorf("directive objects must have exactly one @-prefixed key, got %v", keys)
	}

	name := keys[0]
	for k := range obj {
		if k != name && k != MetadataKey {
			return nil, maperr.NewMappingErrorf("directive objects cannot mix @-prefixed and plain keys, got %q beside %q", k, name)
		}
	}

	directive, ok := r.directives[name]
	if !ok || directive.Resolve == nil {
		return nil, maperr.NewMappingErrorf("%s is not a valid directive", name)
	}

	out, err := directive.Resolve(ctx, r, obj[name], payload)
	if err != nil {
		return nil, maperr.WrapMappingError(err).AddDirective(name)
	}
	return out, nil
}

// expandRootDirective nests the siblings of RootDirectiveKey under the root
// directive's `mapping` option.
func expandRootDirective(mapping map[string]any) (map[string]any, error) {
	root, ok := mapping[RootDirectiveKey]
	if !ok {
		return mapping, nil
	}

	rootObj, ok := root.(map[string]any)
	if !ok || len(rootObj) != 1 {
		return nil, maperr.NewMappingError("the root mapping must only have a single directive object")
	}

	var name string
	var args any
	for k, v := range rootObj {
		name, args = k, v
	}
	if len(name) == 0 || name[0] != '@' {
		return nil, maperr.NewMappingErrorf("the root mapping directive must be @-prefixed, got %q", name)
	}

	siblings := make(map[string]any, len(mapping)-1)
	for k, v := range mapping {
		if k != RootDirectiveKey {
			siblings[k] = v
		}
	}

	options := map[string]any{}
	if argsObj, ok := args.(map[string]any); ok {
		for k, v := range argsObj {
			options[k] = v
		}
	} else if args != nil {
		return nil, maperr.NewMappingErrorf("root directive %s options must be an object, got %s", name, TypeOf(args))
	}
	options["mapping"] = siblings

	return map[string]any{name: options}, nil
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
