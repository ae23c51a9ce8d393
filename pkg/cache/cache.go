// Package cache is the read_resource response cache: a thread-safe
// URI-keyed map of content items with per-entry TTL, lazy expiry, and
// single-flight fills so concurrent misses for one URI invoke the
// resource handler exactly once.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mcpwire/mcpd/pkg/mcp"
)

// DefaultTTL applies to entries stored with TTL 0.
const DefaultTTL = 60 * time.Second

// FillFunc produces the content items for a URI on a cache miss.
type FillFunc func(ctx context.Context, uri string) ([]mcp.ContentItem, error)

type entry struct {
	items     []mcp.ContentItem
	createdAt time.Time
	ttl       time.Duration
	lruElem   *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// Cache is a TTL response cache. Stored items and returned items are
// deep copies; callers never share storage with the cache or each
// other.
type Cache struct {
	defaultTTL time.Duration
	maxEntries int // 0 = unbounded

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recent; values are uri strings
	group   singleflight.Group

	hits   uint64
	misses uint64
}

// Option adjusts cache construction.
type Option func(*Cache)

// WithDefaultTTL sets the TTL applied to entries stored with TTL 0.
// Non-positive values keep the package default.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithMaxEntries bounds the cache; least-recently-used entries are
// evicted past the bound. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		defaultTTL: DefaultTTL,
		entries:    make(map[string]*entry),
		lru:        list.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns a deep copy of the cached items for uri, or false on miss
// or expiry. Expired entries are removed on the way out.
func (c *Cache) Get(uri string) ([]mcp.ContentItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[uri]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(time.Now()) {
		c.removeLocked(uri, e)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(e.lruElem)
	c.hits++
	return mcp.CopyItems(e.items), true
}

// Put stores a deep copy of items under uri. TTL 0 uses the cache
// default.
func (c *Cache) Put(uri string, items []mcp.ContentItem, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[uri]; ok {
		c.removeLocked(uri, old)
	}
	e := &entry{
		items:     mcp.CopyItems(items),
		createdAt: time.Now(),
		ttl:       ttl,
	}
	e.lruElem = c.lru.PushFront(uri)
	c.entries[uri] = e

	for c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		victim := oldest.Value.(string)
		c.removeLocked(victim, c.entries[victim])
	}
}

// GetOrFill returns the cached items for uri, invoking fill on a miss.
// Concurrent misses for the same URI share one fill call; everyone gets
// an independent deep copy of its result. A failed fill caches nothing,
// and all waiters observe the error.
func (c *Cache) GetOrFill(ctx context.Context, uri string, ttl time.Duration, fill FillFunc) ([]mcp.ContentItem, error) {
	if items, ok := c.Get(uri); ok {
		return items, nil
	}

	v, err, _ := c.group.Do(uri, func() (any, error) {
		// Re-check: another flight may have filled between our miss and
		// joining the group.
		if items, ok := c.Get(uri); ok {
			return items, nil
		}
		items, err := fill(ctx, uri)
		if err != nil {
			return nil, err
		}
		c.Put(uri, items, ttl)
		return mcp.CopyItems(items), nil
	})
	if err != nil {
		return nil, err
	}
	return mcp.CopyItems(v.([]mcp.ContentItem)), nil
}

// Invalidate removes the entry for uri.
func (c *Cache) Invalidate(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[uri]; ok {
		c.removeLocked(uri, e)
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.lru.Init()
}

// Len reports the number of live entries, expired ones included until
// their lazy removal.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}

func (c *Cache) removeLocked(uri string, e *entry) {
	delete(c.entries, uri)
	if e != nil && e.lruElem != nil {
		c.lru.Remove(e.lruElem)
	}
}
