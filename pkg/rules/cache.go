package rules

import (
	"sort"
	"strings"
	"sync"
)

// ProgramCache stores compiled expression programs keyed by expression strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MemoryCache is an unbounded ProgramCache safe for concurrent use.
type MemoryCache struct {
	mu       sync.RWMutex
	programs map[string]any
}

// NewMemoryCache constructs an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{programs: make(map[string]any)}
}

func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	program, ok := c.programs[key]
	return program, ok
}

func (c *MemoryCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.programs == nil {
		c.programs = make(map[string]any)
	}
	c.programs[key] = value
}

// Len reports how many programs are cached.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

// cacheKey scopes a cached program to the engine and the bound names it was
// compiled against.
func cacheKey(engine, expression string, names []string) string {
	if len(names) == 0 {
		return engine + "\x00" + expression
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return engine + "\x00" + expression + "\x00" + strings.Join(sorted, ",")
}
