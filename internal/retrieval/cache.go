package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// CachedRetriever fronts a Retriever with a TTL cache keyed on
// query+k. Health-check tasks fire the same query every minute; the
// cache keeps those from re-ranking an unchanged corpus.
type CachedRetriever struct {
	inner Retriever
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    int64
	misses  int64
}

type cacheEntry struct {
	hits    []Hit
	expires time.Time
}

// NewCachedRetriever wraps inner with a ttl-bounded result cache.
func NewCachedRetriever(inner Retriever, ttl time.Duration) *CachedRetriever {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedRetriever{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(query string, k int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", k, query)))
	return hex.EncodeToString(sum[:16])
}

func (c *CachedRetriever) Retrieve(ctx context.Context, query string, k int) ([]Hit, error) {
	key := cacheKey(query, k)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expires) {
		c.hits++
		out := make([]Hit, len(e.hits))
		copy(out, e.hits)
		c.mu.Unlock()
		return out, nil
	}
	c.misses++
	c.mu.Unlock()

	hits, err := c.inner.Retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{hits: hits, expires: now.Add(c.ttl)}
	// Opportunistic sweep; the map stays small for a single host.
	for k2, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k2)
		}
	}
	c.mu.Unlock()

	out := make([]Hit, len(hits))
	copy(out, hits)
	return out, nil
}

// Invalidate drops every cached result. The memory ingest hook calls
// this so fresh entries become retrievable immediately.
func (c *CachedRetriever) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Stats reports cache hits and misses since start.
func (c *CachedRetriever) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
