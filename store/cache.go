package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/immagent/immagent/asset"
)

// cacheSize bounds the LRU cache of the database-backed store.
const cacheSize = 10_000

// assetCache maps asset ID to asset value. Implementations must be safe for
// concurrent use; reads and writes are O(1).
type assetCache interface {
	get(id uuid.UUID) (any, bool)
	put(id uuid.UUID, v any)
	remove(id uuid.UUID)
	clear()
	// values snapshots every cached asset. Memory mode uses it to answer
	// list/count/find queries.
	values() []any
}

// lruCache backs the Postgres store. Eviction is safe: the database is the
// source of truth.
type lruCache struct {
	inner *lru.Cache[uuid.UUID, any]
}

func newLRUCache(size int) (*lruCache, error) {
	inner, err := lru.New[uuid.UUID, any](size)
	if err != nil {
		return nil, err
	}
	return &lruCache{inner: inner}, nil
}

func (c *lruCache) get(id uuid.UUID) (any, bool) { return c.inner.Get(id) }
func (c *lruCache) put(id uuid.UUID, v any)      { c.inner.Add(id, v) }
func (c *lruCache) remove(id uuid.UUID)          { c.inner.Remove(id) }
func (c *lruCache) clear()                       { c.inner.Purge() }

func (c *lruCache) values() []any {
	return c.inner.Values()
}

// strongCache backs memory mode. It never discards.
type strongCache struct {
	mu sync.RWMutex
	m  map[uuid.UUID]any
}

func newStrongCache() *strongCache {
	return &strongCache{m: make(map[uuid.UUID]any)}
}

func (c *strongCache) get(id uuid.UUID) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[id]
	return v, ok
}

func (c *strongCache) put(id uuid.UUID, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = v
}

func (c *strongCache) remove(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
}

func (c *strongCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[uuid.UUID]any)
}

func (c *strongCache) values() []any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]any, 0, len(c.m))
	for _, v := range c.m {
		out = append(out, v)
	}
	return out
}

// CacheAll inserts the given assets into the cache. The cascade save pulls
// an agent's dependencies from here, so callers cache dependencies before
// saving the parent; the turn engine always does.
func (s *Store) CacheAll(assets ...any) {
	for _, a := range assets {
		if id, ok := assetID(a); ok {
			s.cache.put(id, a)
		}
	}
}

func assetID(v any) (uuid.UUID, bool) {
	switch a := v.(type) {
	case asset.Agent:
		return a.ID, true
	case asset.Conversation:
		return a.ID, true
	case asset.Message:
		return a.ID, true
	case asset.SystemPrompt:
		return a.ID, true
	}
	return uuid.UUID{}, false
}
