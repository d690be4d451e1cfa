package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCapacity bounds the in-memory cache when the caller passes 0.
// At 768 float32 dimensions one entry is ~3KB, so 4096 entries stay
// comfortably in double-digit megabytes.
const defaultCapacity = 4096

// LRU is a bounded in-process Cache with least-recently-used eviction.
type LRU struct {
	entries *lru.Cache[string, []float32]
}

// NewLRU constructs an LRU cache holding at most capacity vectors.
// capacity <= 0 selects the package default.
func NewLRU(capacity int) (*LRU, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	entries, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, fmt.Errorf("cache: lru: %w", err)
	}
	return &LRU{entries: entries}, nil
}

// Get returns the cached vector for key. The stored slice is returned
// directly; callers must not mutate it.
func (c *LRU) Get(_ context.Context, key string) ([]float32, bool, error) {
	vec, ok := c.entries.Get(key)
	return vec, ok, nil
}

// Put stores vec under key. A copy is taken so later mutation of the
// caller's slice cannot corrupt the cache.
func (c *LRU) Put(_ context.Context, key string, vec []float32) error {
	c.entries.Add(key, append([]float32(nil), vec...))
	return nil
}

// Len returns the number of cached vectors.
func (c *LRU) Len() int { return c.entries.Len() }
