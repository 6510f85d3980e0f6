package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Ramsey-B/petal/pkg/utils"
)

type DirectiveName = string

const (
	DirectivePath            DirectiveName = "@path"
	DirectiveTemplate        DirectiveName = "@template"
	DirectiveLiquid          DirectiveName = "@liquid"
	DirectiveIf              DirectiveName = "@if"
	DirectiveCase            DirectiveName = "@case"
	DirectiveReplace         DirectiveName = "@replace"
	DirectiveArrayPath       DirectiveName = "@arrayPath"
	DirectiveFlatten         DirectiveName = "@flatten"
	DirectiveJSON            DirectiveName = "@json"
	DirectiveMerge           DirectiveName = "@merge"
	DirectiveTransform       DirectiveName = "@transform"
	DirectiveExcludeWhenNull DirectiveName = "@excludeWhenNull"
	DirectiveLiteral         DirectiveName = "@literal"
)

const (
	maxReplacePatternLength     = 10
	maxReplaceReplacementLength = 10
)

// ValidateFunc checks the shape of a directive's options. stack already ends
// with the directive name.
type ValidateFunc func(r *Resolver, opts any, stack []string) error

// ResolveFunc produces the directive's value for payload.
type ResolveFunc func(ctx context.Context, r *Resolver, opts any, payload any) (any, error)

type Directive struct {
	Validate ValidateFunc
	Resolve  ResolveFunc
}

type Directives map[DirectiveName]Directive

// DefaultDirectives returns a fresh copy of the built in directive set.
func DefaultDirectives() Directives {
	return Directives{
		DirectivePath:            {Validate: validateDirectiveOrString, Resolve: resolvePath},
		DirectiveTemplate:        {Validate: validateDirectiveOrString, Resolve: resolveTemplate},
		DirectiveLiquid:          {Validate: validateLiquid, Resolve: resolveLiquid},
		DirectiveIf:              {Validate: validateIf, Resolve: resolveIf},
		DirectiveCase:            {Validate: validateCase, Resolve: resolveCase},
		DirectiveReplace:         {Validate: validateReplace, Resolve: resolveReplace},
		DirectiveArrayPath:       {Validate: validateArrayPath, Resolve: resolveArrayPath},
		DirectiveFlatten:         {Validate: validateFlatten, Resolve: resolveFlatten},
		DirectiveJSON:            {Validate: validateJSON, Resolve: resolveJSON},
		DirectiveMerge:           {Validate: validateMerge, Resolve: resolveMerge},
		DirectiveTransform:       {Validate: validateTransform, Resolve: resolveTransform},
		DirectiveExcludeWhenNull: {Validate: validateDirectiveOrRaw, Resolve: resolveExcludeWhenNull},
		DirectiveLiteral:         {Validate: validateDirectiveOrRaw, Resolve: resolveLiteral},
	}
}

func (r *Resolver) resolveString(ctx context.Context, name string, opts any, payload any) (string, error) {
	value, err := r.Resolve(ctx, opts, payload)
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected string, got %s", name, TypeOf(value))
	}
	return s, nil
}

func options(name string, opts any) (map[string]any, error) {
	obj, ok := opts.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s requires an object, got %s", name, TypeOf(opts))
	}
	return obj, nil
}

// @path

func resolvePath(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	path, err := r.resolveString(ctx, DirectivePath, opts, payload)
	if err != nil {
		return nil, err
	}
	return Get(payload, trimRootPrefix(path)), nil
}

// @template

func resolveTemplate(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	template, err := r.resolveString(ctx, DirectiveTemplate, opts, payload)
	if err != nil {
		return nil, err
	}
	return RenderTemplate(template, payload), nil
}

// @liquid

func validateLiquid(r *Resolver, opts any, stack []string) error {
	if err := validateDirectiveOrString(r, opts, stack); err != nil {
		return err
	}
	if s, ok := opts.(string); ok && len(s) > MaxLiquidTemplateLength {
		return validationError(stack, "liquid template values are limited to %d characters", MaxLiquidTemplateLength)
	}
	return nil
}

func resolveLiquid(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	template, err := r.resolveString(ctx, DirectiveLiquid, opts, payload)
	if err != nil {
		return nil, err
	}
	return r.liquid.Render(template, payload)
}

// @if

func validateIf(r *Resolver, opts any, stack []string) error {
	if err := validateOptions(r, opts, stack,
		optionRule{key: "exists", check: validateDirectiveOrRaw},
		optionRule{key: "blank", check: validateDirectiveOrRaw},
		optionRule{key: "then", check: validateDirectiveOrRaw},
		optionRule{key: "else", check: validateDirectiveOrRaw},
	); err != nil {
		return err
	}

	obj := opts.(map[string]any)
	_, hasExists := obj["exists"]
	_, hasBlank := obj["blank"]
	if hasExists == hasBlank {
		return validationError(stack, "should have exactly one of \"exists\" or \"blank\"")
	}
	return nil
}

func resolveIf(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	obj, err := options(DirectiveIf, opts)
	if err != nil {
		return nil, err
	}

	existsOpt, hasExists := obj["exists"]
	blankOpt, hasBlank := obj["blank"]
	if hasExists == hasBlank {
		return nil, fmt.Errorf("@if requires exactly one of an \"exists\" key or a \"blank\" key")
	}

	var condition bool
	if hasExists {
		value, err := r.Resolve(ctx, existsOpt, payload)
		if err != nil {
			return nil, err
		}
		condition = !IsNullish(value)
	} else {
		value, err := r.Resolve(ctx, blankOpt, payload)
		if err != nil {
			return nil, err
		}
		condition = !IsNullish(value) && value != ""
	}

	if then, ok := obj["then"]; condition && ok {
		return r.Resolve(ctx, then, payload)
	}
	// a falsy raw else branch emits nothing, @literal lets false or 0 through
	if elseOpt, ok := obj["else"]; !condition && ok && isTruthy(elseOpt) {
		return r.Resolve(ctx, elseOpt, payload)
	}
	return Undefined, nil
}

// @case

func validateCase(r *Resolver, opts any, stack []string) error {
	return validateOptions(r, opts, stack,
		optionRule{key: "operator", required: true, check: validateOneOf("lower", "upper")},
		optionRule{key: "value", check: validateDirectiveOrRaw},
	)
}

func resolveCase(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	obj, err := options(DirectiveCase, opts)
	if err != nil {
		return nil, err
	}

	operator, _ := obj["operator"].(string)
	if err := utils.ValidateValue(operator, "oneof=lower upper"); err != nil {
		return nil, fmt.Errorf("operator key should have a value of \"lower\" or \"upper\": %w", err)
	}

	raw, ok := obj["value"]
	if !ok {
		return Undefined, nil
	}
	value, err := r.Resolve(ctx, raw, payload)
	if err != nil {
		return nil, err
	}

	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	if operator == "lower" {
		return strings.ToLower(s), nil
	}
	return strings.ToUpper(s), nil
}

// @replace

func validateReplace(r *Resolver, opts any, stack []string) error {
	return validateOptions(r, opts, stack,
		optionRule{key: "pattern", required: true, check: validateMaxLength(maxReplacePatternLength, validateString)},
		optionRule{key: "replacement", check: validateMaxLength(maxReplaceReplacementLength, validateString)},
		optionRule{key: "pattern2", check: validateMaxLength(maxReplacePatternLength, validateString)},
		optionRule{key: "replacement2", check: validateMaxLength(maxReplaceReplacementLength, validateString)},
		optionRule{key: "ignorecase", check: validateBoolean},
		optionRule{key: "global", check: validateBoolean},
		optionRule{key: "value", required: true, check: validateDirectiveOrRaw},
	)
}

type replaceOptions struct {
	Pattern      string `json:"pattern" validate:"required,max=10"`
	Replacement  string `json:"replacement" validate:"max=10"`
	Pattern2     string `json:"pattern2" validate:"max=10"`
	Replacement2 string `json:"replacement2" validate:"max=10"`
	IgnoreCase   *bool  `json:"ignorecase"`
	Global       *bool  `json:"global"`
}

func resolveReplace(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	obj, err := options(DirectiveReplace, opts)
	if err != nil {
		return nil, err
	}

	settings := map[string]any{}
	for k, v := range obj {
		if k != "value" {
			settings[k] = v
		}
	}
	parsed, err := utils.ValidateArguments[replaceOptions](settings)
	if err != nil {
		return nil, err
	}

	raw, ok := obj["value"]
	if !ok {
		return Undefined, nil
	}
	value, err := r.Resolve(ctx, raw, payload)
	if err != nil {
		return nil, err
	}

	var input string
	switch v := value.(type) {
	case string:
		input = v
	case bool:
		input = strconv.FormatBool(v)
	default:
		if !utils.IsNumber(v) {
			return "", nil
		}
		input = stringifyTemplateValue(v)
	}

	ignoreCase := parsed.IgnoreCase != nil && *parsed.IgnoreCase
	global := parsed.Global == nil || *parsed.Global

	out := replaceLiteral(input, parsed.Pattern, parsed.Replacement, ignoreCase, global)
	if parsed.Pattern2 != "" {
		out = replaceLiteral(out, parsed.Pattern2, parsed.Replacement2, ignoreCase, global)
	}
	return out, nil
}

func replaceLiteral(input, pattern, replacement string, ignoreCase, global bool) string {
	expr := regexp.QuoteMeta(pattern)
	if ignoreCase {
		expr = "(?i)" + expr
	}
	re := regexp.MustCompile(expr)

	if global {
		return re.ReplaceAllLiteralString(input, replacement)
	}

	loc := re.FindStringIndex(input)
	if loc == nil {
		return input
	}
	return input[:loc[0]] + replacement + input[loc[1]:]
}

// @arrayPath

func validateArrayPath(r *Resolver, opts any, stack []string) error {
	arr, ok := opts.([]any)
	if !ok {
		return validationError(stack, "should be an array but it is %s", typeWithArticle(opts))
	}
	if len(arr) < 1 || len(arr) > 2 {
		return validationError(stack, "should be an array of one or two items but it has %d", len(arr))
	}

	errs := []error{}
	if err := validateDirectiveOrString(r, arr[0], push(stack, "0")); err != nil {
		errs = append(errs, err)
	}
	if len(arr) == 2 {
		if err := validateMappingObject(r, arr[1], push(stack, "1")); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

func resolveArrayPath(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	arr, ok := opts.([]any)
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("@arrayPath expected array, got %s", TypeOf(opts))
	}

	var root any
	if path, ok := arr[0].(string); ok {
		root = Get(payload, trimRootPrefix(path))
	} else {
		resolved, err := r.Resolve(ctx, arr[0], payload)
		if err != nil {
			return nil, err
		}
		root = resolved
	}

	var shape map[string]any
	if len(arr) > 1 {
		shape, _ = arr[1].(map[string]any)
	}
	if len(shape) == 0 || IsNullish(root) {
		return root, nil
	}

	items := arrify(root)
	out := make([]any, len(items))
	for i, item := range items {
		resolved, err := r.Resolve(ctx, shape, item)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

// @flatten

const DefaultFlattenSeparator = "."

func validateFlatten(r *Resolver, opts any, stack []string) error {
	return validateOptions(r, opts, stack,
		optionRule{key: "value", required: true, check: validateDirectiveOrRaw},
		optionRule{key: "separator", check: validateString},
		optionRule{key: "omitArrays", check: validateBoolean},
	)
}

func resolveFlatten(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	obj, err := options(DirectiveFlatten, opts)
	if err != nil {
		return nil, err
	}

	separator := DefaultFlattenSeparator
	if raw, exists := obj["separator"]; exists {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("@flatten \"separator\" must be a string")
		}
		separator = s
	}
	omitArrays, _ := obj["omitArrays"].(bool)

	value, err := r.Resolve(ctx, obj["value"], payload)
	if err != nil {
		return nil, err
	}
	return Flatten(value, separator, omitArrays), nil
}

// Flatten collapses nested objects (and arrays unless omitArrays) into a
// single level object keyed by separator-joined paths. Scalars pass through.
func Flatten(value any, separator string, omitArrays bool) any {
	if !flattenable(value, omitArrays) {
		return value
	}
	out := map[string]any{}
	flattenInto(out, value, "", separator, omitArrays)
	return out
}

func flattenable(value any, omitArrays bool) bool {
	switch value.(type) {
	case map[string]any:
		return true
	case []any:
		return !omitArrays
	default:
		return false
	}
}

func flattenInto(out map[string]any, value any, prefix, separator string, omitArrays bool) {
	join := func(key string) string {
		if prefix == "" {
			return key
		}
		return prefix + separator + key
	}

	visit := func(key string, child any) {
		if flattenable(child, omitArrays) {
			flattenInto(out, child, join(key), separator, omitArrays)
			return
		}
		out[join(key)] = child
	}

	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			visit(k, child)
		}
	case []any:
		for i, child := range v {
			visit(strconv.Itoa(i), child)
		}
	}
}

// @json

func validateJSON(r *Resolver, opts any, stack []string) error {
	return validateOptions(r, opts, stack,
		optionRule{key: "value", required: true, check: validateDirectiveOrRaw},
		optionRule{key: "mode", required: true, check: validateOneOf("encode", "decode")},
	)
}

func resolveJSON(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	obj, err := options(DirectiveJSON, opts)
	if err != nil {
		return nil, err
	}

	value, err := r.Resolve(ctx, obj["value"], payload)
	if err != nil {
		return nil, err
	}
	if IsUndefined(value) {
		return Undefined, nil
	}

	switch obj["mode"] {
	case "encode":
		b, err := utils.Marshal(RemoveUndefined(value))
		if err != nil {
			return nil, fmt.Errorf("@json failed to encode value: %w", err)
		}
		return string(b), nil
	case "decode":
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, fmt.Errorf("@json failed to decode value: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("@json mode must be \"encode\" or \"decode\", got %v", obj["mode"])
	}
}

// @merge

func validateMerge(r *Resolver, opts any, stack []string) error {
	return validateOptions(r, opts, stack,
		optionRule{key: "objects", required: true, check: func(r *Resolver, v any, stack []string) error {
			if _, ok := v.([]any); !ok {
				return validationError(stack, "should be an array but it is %s", typeWithArticle(v))
			}
			return r.validate(v, stack)
		}},
		optionRule{key: "direction", required: true, check: validateOneOf("left", "right")},
	)
}

// resolveMerge shallow merges objects in order. With direction "right" later
// objects win; "left" reverses the order so the leftmost object wins.
func resolveMerge(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	obj, err := options(DirectiveMerge, opts)
	if err != nil {
		return nil, err
	}

	objects, ok := obj["objects"].([]any)
	if !ok {
		return nil, fmt.Errorf("@merge requires an \"objects\" array")
	}

	ordered := make([]any, len(objects))
	copy(ordered, objects)
	if obj["direction"] == "left" {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}

	out := map[string]any{}
	for _, item := range ordered {
		resolved, err := r.Resolve(ctx, item, payload)
		if err != nil {
			return nil, err
		}
		resolvedObj, ok := resolved.(map[string]any)
		if !ok {
			continue
		}
		for k, v := range resolvedObj {
			if IsUndefined(v) {
				continue
			}
			out[k] = v
		}
	}
	return out, nil
}

// @transform

func validateTransform(r *Resolver, opts any, stack []string) error {
	return validateOptions(r, opts, stack,
		optionRule{key: "apply", required: true, check: validateMappingObject},
		optionRule{key: "mapping", required: true, check: validateMappingObject},
	)
}

func resolveTransform(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	obj, err := options(DirectiveTransform, opts)
	if err != nil {
		return nil, err
	}

	apply, ok := obj["apply"]
	if !ok {
		return nil, fmt.Errorf("@transform requires an \"apply\" key")
	}
	mapping, ok := obj["mapping"]
	if !ok {
		return nil, fmt.Errorf("@transform requires a \"mapping\" key")
	}

	applied, err := r.Resolve(ctx, apply, payload)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, mapping, RemoveUndefined(applied))
}

// @excludeWhenNull

func resolveExcludeWhenNull(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	value, err := r.Resolve(ctx, opts, payload)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return Undefined, nil
	}
	return value, nil
}

// @literal

func resolveLiteral(ctx context.Context, r *Resolver, opts any, payload any) (any, error) {
	return r.Resolve(ctx, opts, payload)
}
