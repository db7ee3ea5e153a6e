package scenario

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/agrisim/internal/metrics"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// DefaultCacheSize is the number of base vectors kept.
const DefaultCacheSize = 4096

// Loader derives the base vector of a key from the store.
type Loader func(ctx context.Context, key core.Key) (core.FeatureVector, error)

// Generation reports the current store generation. Entries stamped with an
// older generation are stale.
type Generation func(ctx context.Context) (int64, error)

type entry struct {
	generation int64
	vector     core.FeatureVector
}

// Cache keeps base feature vectors in an LRU. Concurrent misses for one key
// share a single load, and a store rebuild invalidates every entry.
type Cache struct {
	lru        *lru.Cache[core.Key, entry]
	group      singleflight.Group
	load       Loader
	generation Generation
	metrics    *metrics.Metrics
}

// NewCache creates a cache of size entries (DefaultCacheSize when <= 0).
func NewCache(size int, load Loader, gen Generation, m *metrics.Metrics) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[core.Key, entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector cache: %w", err)
	}
	return &Cache{lru: l, load: load, generation: gen, metrics: m}, nil
}

// Get returns a copy of the base vector of key, loading it on a miss.
func (c *Cache) Get(ctx context.Context, key core.Key) (core.FeatureVector, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return core.FeatureVector{}, err
	}
	if e, ok := c.lru.Get(key); ok && e.generation == gen {
		c.metrics.CacheLookup(true)
		return e.vector.Clone(), nil
	}
	c.metrics.CacheLookup(false)

	v, err, _ := c.group.Do(fmt.Sprintf("%d/%s", gen, key), func() (any, error) {
		vec, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, entry{generation: gen, vector: vec})
		return vec, nil
	})
	if err != nil {
		return core.FeatureVector{}, err
	}
	return v.(core.FeatureVector).Clone(), nil
}

// Len returns the number of cached entries, stale ones included.
func (c *Cache) Len() int { return c.lru.Len() }

// Purge drops every entry.
func (c *Cache) Purge() { c.lru.Purge() }
