package auth

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// extractor evaluates JMESPath expressions against token responses and caches
// the compiled expressions.
type extractor struct {
	mu    sync.RWMutex
	cache map[string]*jmespath.JMESPath
}

func newExtractor() *extractor {
	return &extractor{cache: make(map[string]*jmespath.JMESPath)}
}

func (e *extractor) compile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	compiled, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()
	return compiled, nil
}

func (e *extractor) search(expression string, data any) (any, error) {
	compiled, err := e.compile(expression)
	if err != nil {
		return nil, err
	}
	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

// String returns "" for a missing value.
func (e *extractor) String(expression string, data any) (string, error) {
	result, err := e.search(expression, data)
	if err != nil || result == nil {
		return "", err
	}
	if s, ok := result.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", result), nil
}

// Int accepts numbers and numeric strings. A missing value is 0.
func (e *extractor) Int(expression string, data any) (int, error) {
	result, err := e.search(expression, data)
	if err != nil || result == nil {
		return 0, err
	}
	switch v := result.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", result)
	}
}
