package mapping

import (
	"fmt"

	maperr "github.com/Ramsey-B/petal/pkg/errors"
)

// MetadataKey may sit beside a directive key without making the object mixed.
const MetadataKey = "_metadata"

type checkFunc func(r *Resolver, v any, stack []string) error

type optionRule struct {
	key      string
	required bool
	check    checkFunc
}

// Validate checks the structure of a mapping without resolving it.
func Validate(mapping any) error {
	return defaultResolver.Validate(mapping)
}

func (r *Resolver) Validate(mapping any) error {
	if obj, ok := mapping.(map[string]any); ok {
		expanded, err := expandRootDirective(obj)
		if err != nil {
			return err
		}
		mapping = expanded
	}
	return r.validate(mapping, []string{})
}

func (r *Resolver) validate(node any, stack []string) error {
	switch value := node.(type) {
	case map[string]any:
		return r.validateObject(value, stack)
	case []any:
		errs := []error{}
		for i, item := range value {
			if err := r.validate(item, push(stack, fmt.Sprint(i))); err != nil {
				errs = append(errs, err)
			}
		}
		return maperr.JoinValidationErrors(errs)
	default:
		return nil
	}
}

func (r *Resolver) validateObject(obj map[string]any, stack []string) error {
	keys := directiveKeys(obj)
	if len(keys) > 1 {
		return maperr.NewValidationError(fmt.Sprintf("should only have one @-prefixed key but it has %d keys", len(keys)), stack)
	}

	if len(keys) == 1 {
		for k := range obj {
			if k != keys[0] && k != MetadataKey {
				return maperr.NewValidationError(fmt.Sprintf("should only have one @-prefixed key but it has %d keys", len(obj)), stack)
			}
		}
		return r.validateDirective(keys[0], obj[keys[0]], stack)
	}

	errs := []error{}
	for _, k := range sortedKeys(obj) {
		if err := r.validate(obj[k], push(stack, k)); err != nil {
			errs = append(errs, err)
		}
	}
	return maperr.JoinValidationErrors(errs)
}

func (r *Resolver) validateDirective(name string, opts any, stack []string) error {
	directive, ok := r.directives[name]
	if !ok {
		return maperr.NewValidationError(fmt.Sprintf("has an invalid directive: %s", name), stack)
	}
	if directive.Validate == nil {
		return nil
	}
	return directive.Validate(r, opts, push(stack, name))
}

func validateDirectiveOrRaw(r *Resolver, v any, stack []string) error {
	return r.validate(v, stack)
}

func validateDirectiveOrString(r *Resolver, v any, stack []string) error {
	if IsDirective(v) {
		return r.validate(v, stack)
	}
	if _, ok := v.(string); ok {
		return nil
	}
	return maperr.NewValidationError(fmt.Sprintf("should be a string or a directive but it is %s", typeWithArticle(v)), stack)
}

func validateString(_ *Resolver, v any, stack []string) error {
	if _, ok := v.(string); ok {
		return nil
	}
	return maperr.NewValidationError(fmt.Sprintf("should be a string but it is %s", typeWithArticle(v)), stack)
}

func validateBoolean(_ *Resolver, v any, stack []string) error {
	if _, ok := v.(bool); ok {
		return nil
	}
	return maperr.NewValidationError(fmt.Sprintf("should be a boolean but it is %s", typeWithArticle(v)), stack)
}

func validateMappingObject(r *Resolver, v any, stack []string) error {
	if !isObject(v) {
		return maperr.NewValidationError(fmt.Sprintf("should be an object but it is %s", typeWithArticle(v)), stack)
	}
	return r.validate(v, stack)
}

func validateMaxLength(max int, next checkFunc) checkFunc {
	return func(r *Resolver, v any, stack []string) error {
		if err := next(r, v, stack); err != nil {
			return err
		}
		if s, ok := v.(string); ok && len(s) > max {
			return maperr.NewValidationError(fmt.Sprintf("should be at most %d characters but it has %d", max, len(s)), stack)
		}
		return nil
	}
}

func validateOneOf(allowed ...string) checkFunc {
	return func(r *Resolver, v any, stack []string) error {
		s, ok := v.(string)
		if !ok {
			return validateString(r, v, stack)
		}
		for _, option := range allowed {
			if s == option {
				return nil
			}
		}
		return maperr.NewValidationError(fmt.Sprintf("should be one of %v but it is %q", allowed, s), stack)
	}
}

// validateOptions checks an options object against its rules and reports
// every failing key.
func validateOptions(r *Resolver, opts any, stack []string, rules ...optionRule) error {
	obj, ok := opts.(map[string]any)
	if !ok {
		return maperr.NewValidationError(fmt.Sprintf("should be an object but it is %s", typeWithArticle(opts)), stack)
	}

	errs := []error{}
	for _, rule := range rules {
		value, exists := obj[rule.key]
		if !exists || IsUndefined(value) {
			if rule.required {
				errs = append(errs, maperr.NewValidationError(fmt.Sprintf("should have field %q but it doesn't", rule.key), stack))
			}
			continue
		}
		if rule.check == nil {
			continue
		}
		if err := rule.check(r, value, push(stack, rule.key)); err != nil {
			errs = append(errs, err)
		}
	}
	return maperr.JoinValidationErrors(errs)
}

func typeWithArticle(v any) string {
	t := TypeOf(v)
	switch t {
	case "array", "object", "undefined":
		return "an " + t
	default:
		return "a " + t
	}
}

func push(stack []string, key string) []string {
	next := make([]string, len(stack), len(stack)+1)
	copy(next, stack)
	return append(next, key)
}

func validationError(stack []string, format string, args ...any) error {
	return maperr.NewValidationError(fmt.Sprintf(format, args...), stack)
}

func joinErrors(errs []error) error {
	return maperr.JoinValidationErrors(errs)
}
