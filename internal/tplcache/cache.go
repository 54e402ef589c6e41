// Package tplcache caches compiled template handles across renders.
package tplcache

import (
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/cryguy/render/internal/core"
)

// DefaultSize is the number of compiled templates kept when no size is
// configured.
const DefaultSize = 100

// Cache maps (content, engine) to the handle the engine compiled for it.
// It is safe for concurrent use; concurrent misses on one key compile once.
type Cache struct {
	entries *lru.Cache[string, any]
	group   singleflight.Group
}

// New creates a cache holding at most size handles.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, any](size)
	if err != nil {
		return nil, fmt.Errorf("creating template cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Key returns the cache key for content compiled by engine. The content
// length prefix keeps engine names containing ':' from colliding.
func Key(content, engine string) string {
	return "template:" + strconv.Itoa(len(content)) + ":" + content + ":" + engine
}

// GetOrCompile returns the cached handle for (content, engine), calling
// compile on a miss. Compile failures are tagged as content errors and are
// never cached.
func (c *Cache) GetOrCompile(content, engine string, compile func() (any, error)) (any, error) {
	key := Key(content, engine)
	if v, ok := c.entries.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.entries.Get(key); ok {
			return v, nil
		}
		compiled, err := compile()
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, compiled)
		return compiled, nil
	})
	if err != nil {
		return nil, core.CompilationError(err)
	}
	return v, nil
}

// Reset drops every cached handle.
func (c *Cache) Reset() {
	c.entries.Purge()
}

// Len reports the number of cached handles.
func (c *Cache) Len() int {
	return c.entries.Len()
}
