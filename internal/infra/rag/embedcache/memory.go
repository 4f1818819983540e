// Package embedcache implements the Embedding Cache port (component C) in
// two backends, mirroring the dual in-memory/Valkey shape of
// internal/infra/faqstore: a mutex-guarded map for tests/local dev and a
// Valkey-backed variant for the embedding_cache_backend=redis config
// setting.
package embedcache

import (
	"context"
	"sync"
	"time"

	domain "github.com/yanqian/rag-service/internal/domain/rag"
)

type cacheEntry struct {
	vector    []float32
	expiresAt time.Time
}

// MemoryCache is an in-process, mutex-guarded embedding cache.
type MemoryCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache constructs a cache. ttl <= 0 means entries never expire.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// Get returns the cached vector for key, if present and unexpired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if hasExpired(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.vector, true, nil
}

// Set stores vector under key with the cache's configured TTL.
func (c *MemoryCache) Set(_ context.Context, key string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp := time.Time{}
	if c.ttl > 0 {
		exp = time.Now().Add(c.ttl)
	}
	c.entries[key] = cacheEntry{vector: vector, expiresAt: exp}
	return nil
}

func hasExpired(ts time.Time) bool {
	if ts.IsZero() {
		return false
	}
	return ts.Before(time.Now())
}

var _ domain.EmbeddingCache = (*MemoryCache)(nil)
