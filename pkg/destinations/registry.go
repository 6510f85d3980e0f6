// Package destinations holds the destinations this service can deliver to.
package destinations

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Ramsey-B/petal/pkg/destination"
	"github.com/Ramsey-B/petal/pkg/destinations/webhook"
)

// Registry maps slugs to built destinations.
type Registry struct {
	mu           sync.RWMutex
	destinations map[string]*destination.Destination
}

func NewRegistry() *Registry {
	return &Registry{destinations: make(map[string]*destination.Destination)}
}

// Build registers every bundled destination with the shared options.
func Build(opts ...destination.Option) (*Registry, error) {
	r := NewRegistry()

	wh, err := webhook.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s destination: %w", webhook.Slug, err)
	}
	if err := r.Register(webhook.Slug, wh); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) Register(slug string, d *destination.Destination) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.destinations[slug]; exists {
		return fmt.Errorf("destination %q is already registered", slug)
	}
	r.destinations[slug] = d
	return nil
}

func (r *Registry) Lookup(slug string) (*destination.Destination, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.destinations[slug]
	return d, ok
}

func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slugs := make([]string, 0, len(r.destinations))
	for slug := range r.destinations {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}
