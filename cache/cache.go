package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/dirscrape/models"
	"golang.org/x/sync/singleflight"
)

// entry holds a cached selector map with its creation timestamp.
type entry struct {
	selectors *models.SelectorMap
	createdAt time.Time
}

// SelectorCache memoizes inferred selectors per (site, schema).
// Concurrent misses on one key share a single inference call.
// It is safe for concurrent use.
type SelectorCache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration

	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a SelectorCache. maxEntries <= 0 means unbounded; ttl <= 0
// means entries never expire.
func New(maxEntries int, ttl time.Duration) *SelectorCache {
	return &SelectorCache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Key generates a cache key from the site and the schema fingerprint.
// detail distinguishes detail-page selectors from listing selectors.
func Key(site string, schema *models.Schema, detail bool) string {
	h := sha256.New()
	h.Write([]byte(site))
	h.Write([]byte("|"))
	h.Write([]byte(schema.Fingerprint()))
	if detail {
		h.Write([]byte("|detail"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SiteOf reduces a page URL to its site identity, scheme://host.
func SiteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// Get retrieves a copy of a cached selector map.
func (c *SelectorCache) Get(key string) (*models.SelectorMap, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok || c.expired(e) {
		return nil, false
	}
	return e.selectors.Clone(), true
}

// Set stores a selector map. If the cache is at capacity, expired entries
// are purged first, then a random entry is evicted to make room.
func (c *SelectorCache) Set(key string, sm *models.SelectorMap) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && len(c.store) >= c.maxEntries {
		for k, e := range c.store {
			if c.expired(e) {
				delete(c.store, k)
			}
		}
		// Map iteration is random in Go.
		for k := range c.store {
			if len(c.store) < c.maxEntries {
				break
			}
			delete(c.store, k)
		}
	}

	c.store[key] = &entry{
		selectors: sm.Clone(),
		createdAt: time.Now(),
	}
}

// InferFunc produces selectors on a cache miss.
type InferFunc func(ctx context.Context) (*models.SelectorMap, error)

// GetOrInfer returns the cached selectors for key, or runs infer once for
// all concurrent callers of the same key and caches a successful result.
// Failures are not cached. hit reports whether the value came from cache.
//
// The shared call does not inherit the first caller's cancellation: a
// caller that goes away stops waiting, while the others still get the
// result. infer must bound itself (the LLM client has its own timeout).
func (c *SelectorCache) GetOrInfer(ctx context.Context, key string, infer InferFunc) (sm *models.SelectorMap, hit bool, err error) {
	if sm, ok := c.Get(key); ok {
		c.hits.Add(1)
		return sm, true, nil
	}
	c.misses.Add(1)

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// A caller that lost the race may find the value already stored.
		if sm, ok := c.Get(key); ok {
			return sm, nil
		}
		sm, err := infer(shared)
		if err != nil {
			return nil, err
		}
		c.Set(key, sm)
		return sm, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*models.SelectorMap).Clone(), false, nil
	}
}

// Stats reports cache size and hit counters.
func (c *SelectorCache) Stats() models.CacheStats {
	c.mu.RLock()
	n := len(c.store)
	c.mu.RUnlock()
	return models.CacheStats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

func (c *SelectorCache) expired(e *entry) bool {
	return c.ttl > 0 && time.Since(e.createdAt) > c.ttl
}
