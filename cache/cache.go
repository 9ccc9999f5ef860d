package cache

import (
	"sync"

	"github.com/cespare/xxhash"
	"github.com/rs/zerolog/log"
)

// Cache memoizes values computed from a string key, typically a position
// fingerprint. Keys are stored as 64-bit hashes. When the cache grows past
// its limit it is emptied; callers must treat every value as recomputable.
type Cache[T any] struct {
	sync.Mutex
	objects map[uint64]T
	limit   int

	hits   uint64
	misses uint64
}

// LoadFunc computes the value for a key on a cache miss.
type LoadFunc[T any] func(key string) (T, error)

// New creates a cache holding at most limit entries. A limit <= 0 means
// unbounded.
func New[T any](limit int) *Cache[T] {
	return &Cache[T]{objects: make(map[uint64]T), limit: limit}
}

func (c *Cache[T]) load(hash uint64, key string, loadFunc LoadFunc[T]) (T, error) {
	obj, err := loadFunc(key)
	if err != nil {
		return obj, err
	}
	if c.limit > 0 && len(c.objects) >= c.limit {
		log.Debug().Int("entries", len(c.objects)).Uint64("hits", c.hits).Uint64("misses", c.misses).
			Msg("cache-full-clearing")
		clear(c.objects)
	}
	c.objects[hash] = obj
	return obj, nil
}

// Get returns the cached value for key, computing it with loadFunc if needed.
func (c *Cache[T]) Get(key string, loadFunc LoadFunc[T]) (T, error) {
	hash := xxhash.Sum64String(key)
	c.Lock()
	defer c.Unlock()
	if obj, ok := c.objects[hash]; ok {
		c.hits++
		return obj, nil
	}
	c.misses++
	return c.load(hash, key, loadFunc)
}

// Len returns the number of cached entries.
func (c *Cache[T]) Len() int {
	c.Lock()
	defer c.Unlock()
	return len(c.objects)
}

