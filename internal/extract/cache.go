package extract

import (
	"sync"
	"time"

	"github.com/snapradar/archive-crawler/internal/archive"
)

type cacheKey struct {
	url      string
	snapshot int64
}

type cacheEntry struct {
	content   archive.ExtractedContent
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache of successful extractions keyed by
// (url, snapshot). Expired entries are dropped lazily on read and swept when
// the map grows past a threshold.
type MemoryCache struct {
	ttl   time.Duration
	clock archive.Clock

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

const sweepThreshold = 4096

// NewMemoryCache builds a cache with the given TTL (default 1h).
func NewMemoryCache(ttl time.Duration, clock archive.Clock) *MemoryCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Get returns the cached content if present and unexpired.
func (c *MemoryCache) Get(url string, snapshot time.Time) (archive.ExtractedContent, bool) {
	key := cacheKey{url: url, snapshot: snapshot.Unix()}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return archive.ExtractedContent{}, false
	}
	if c.clock.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return archive.ExtractedContent{}, false
	}
	return entry.content, true
}

// Put stores content under (url, snapshot) for the configured TTL.
func (c *MemoryCache) Put(url string, snapshot time.Time, content archive.ExtractedContent) {
	key := cacheKey{url: url, snapshot: snapshot.Unix()}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= sweepThreshold {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = cacheEntry{content: content, expiresAt: now.Add(c.ttl)}
}

// Len reports the number of entries, counting expired ones not yet swept.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
