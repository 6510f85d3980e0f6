package schema

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Ramsey-B/petal/pkg/fields"
)

type compiledSchema struct {
	raw      fields.JSONSchema
	compiled *jsonschema.Schema
}

// SchemaCache holds compiled schemas by key. The first schema stored under a
// key wins, later stores are ignored.
type SchemaCache struct {
	cache  map[string]*compiledSchema
	mu     sync.RWMutex
	hits   int64
	misses int64
}

func NewSchemaCache() *SchemaCache {
	return &SchemaCache{
		cache: make(map[string]*compiledSchema),
	}
}

func (c *SchemaCache) get(key string) (*compiledSchema, bool) {
	c.mu.RLock()
	entry, exists := c.cache[key]
	c.mu.RUnlock()

	c.mu.Lock()
	if exists {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	return entry, exists
}

// store keeps entry unless key is already taken and returns the cached entry.
func (c *SchemaCache) store(key string, entry *compiledSchema) *compiledSchema {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.cache[key]; ok {
		return existing
	}
	c.cache[key] = entry
	return entry
}

func (c *SchemaCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.cache[key]
	return ok
}

func (c *SchemaCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.cache, key)
	c.mu.Unlock()
}

func (c *SchemaCache) Clear() {
	c.mu.Lock()
	c.cache = make(map[string]*compiledSchema)
	c.mu.Unlock()
}

type CacheStats struct {
	Size   int
	Hits   int64
	Misses int64
}

func (c *SchemaCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Size:   len(c.cache),
		Hits:   c.hits,
		Misses: c.misses,
	}
}
