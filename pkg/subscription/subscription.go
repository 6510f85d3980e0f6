// Package subscription evaluates subscription queries against events.
//
// Queries use the filter query language destinations are configured with:
//
//	type = "track" and (event = "Order Completed" or properties.total > 100)
//	contains(context.page.url, "/checkout") and !match(event, "Test*")
//
// Paths are dot separated lookups into the event. A missing path compares
// unequal to everything and is falsy. Queries are translated once into
// expr-lang programs and cached by query string.
package subscription

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Predicate is a compiled subscription query.
type Predicate struct {
	query   string
	program *vm.Program
}

func (p *Predicate) Query() string {
	return p.query
}

// Match reports whether event satisfies the query. Evaluation failures count
// as no match.
func (p *Predicate) Match(event map[string]any) bool {
	out, err := expr.Run(p.program, map[string]any{"event": event})
	if err != nil {
		return false
	}
	matched, _ := out.(bool)
	return matched
}

// Parser compiles queries and caches the result.
type Parser struct {
	cache map[string]*Predicate
	mu    sync.RWMutex
}

func NewParser() *Parser {
	return &Parser{cache: make(map[string]*Predicate)}
}

// Parse compiles query. The returned error describes why the query is invalid.
func (p *Parser) Parse(query string) (*Predicate, error) {
	p.mu.RLock()
	cached, ok := p.cache[query]
	p.mu.RUnlock()
	if ok {
		return cached, nil
	}

	predicate, err := compile(query)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[query] = predicate
	p.mu.Unlock()
	return predicate, nil
}

var defaultParser = NewParser()

// Parse compiles query with the package level parser.
func Parse(query string) (*Predicate, error) {
	return defaultParser.Parse(query)
}

func compile(query string) (*Predicate, error) {
	source, err := translate(query)
	if err != nil {
		return nil, err
	}

	opts := []expr.Option{
		expr.Env(map[string]any{"event": map[string]any{}}),
		expr.AsBool(),
	}
	opts = append(opts, builtins()...)

	program, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile subscription: %w", err)
	}
	return &Predicate{query: query, program: program}, nil
}
