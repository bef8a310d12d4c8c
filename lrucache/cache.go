/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	pinned    bool
}

func (e *cacheEntry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LRUCache represents an LRU cache with per-entry expiration and Prometheus metrics.
type LRUCache[K comparable, V any] struct {
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	lruList *list.List
	cache   map[K]*list.Element

	metricsCollector MetricsCollector
}

// Options represents options for the cache.
type Options struct {
	// DefaultTTL is the TTL used by Add. Zero means entries never expire.
	// Expired entries are removed lazily on access or by RunPeriodicCleanup.
	DefaultTTL time.Duration

	// Now returns the current time. time.Now is used if nil.
	Now func() time.Time
}

// New creates a new LRUCache with the provided maximum number of entries and metrics collector.
func New[K comparable, V any](maxEntries int, metricsCollector MetricsCollector) (*LRUCache[K, V], error) {
	return NewWithOpts[K, V](maxEntries, metricsCollector, Options{})
}

// NewWithOpts creates a new LRUCache with the provided maximum number of entries, metrics collector, and options.
// Metrics collector can be nil, in this case, metrics will be disabled.
func NewWithOpts[K comparable, V any](maxEntries int, metricsCollector MetricsCollector, opts Options) (*LRUCache[K, V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("maxEntries must be greater than 0")
	}
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("defaultTTL must be greater or equal to 0 (no expiration)")
	}
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LRUCache[K, V]{
		maxEntries:       maxEntries,
		defaultTTL:       opts.DefaultTTL,
		now:              opts.Now,
		lruList:          list.New(),
		cache:            make(map[K]*list.Element),
		metricsCollector: metricsCollector,
	}, nil
}

// Get returns a non-expired value from the cache by the provided key.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem := c.lookup(key)
	if elem == nil {
		c.metricsCollector.IncMisses()
		return value, false
	}
	c.lruList.MoveToFront(elem)
	c.metricsCollector.IncHits()
	return elem.Value.(*cacheEntry[K, V]).value, true
}

// Add adds a value to the cache with the default TTL.
// If the cache is full, the least recently used entry is evicted.
func (c *LRUCache[K, V]) Add(key K, value V) {
	c.AddWithTTL(key, value, c.defaultTTL)
}

// AddWithTTL adds a value to the cache with the provided TTL (zero or negative means no expiration).
// If the cache is full, the least recently used entry is evicted.
func (c *LRUCache[K, V]) AddWithTTL(key K, value V, ttl time.Duration) {
	c.add(key, value, ttl, false)
}

// AddPinnedWithTTL adds a value that is never evicted by the LRU policy, it's removed only by expiration or Remove.
// Pinned entries are not limited by the maximum number of entries, so they should have a TTL.
func (c *LRUCache[K, V]) AddPinnedWithTTL(key K, value V, ttl time.Duration) {
	c.add(key, value, ttl, true)
}

func (c *LRUCache[K, V]) add(key K, value V, ttl time.Duration, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry[K, V]{key: key, value: value, expiresAt: c.expiresAt(ttl), pinned: pinned}
	if elem, ok := c.cache[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value = entry
		return
	}
	c.cache[key] = c.lruList.PushFront(entry)
	if len(c.cache) > c.maxEntries {
		if c.evictOldest() {
			c.metricsCollector.AddEvictions(1)
		}
	}
	c.metricsCollector.SetAmount(len(c.cache))
}

// Expire changes the TTL of an existing non-expired entry (zero or negative ttl removes expiration).
// It returns false if there is no such entry.
func (c *LRUCache[K, V]) Expire(key K, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem := c.lookup(key)
	if elem == nil {
		return false
	}
	elem.Value.(*cacheEntry[K, V]).expiresAt = c.expiresAt(ttl)
	return true
}

// TTL returns the remaining time to live of the entry.
// The second value is false if the entry does not exist, the first one is zero if the entry never expires.
func (c *LRUCache[K, V]) TTL(key K) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem := c.lookup(key)
	if elem == nil {
		return 0, false
	}
	entry := elem.Value.(*cacheEntry[K, V])
	if entry.expiresAt.IsZero() {
		return 0, true
	}
	return entry.expiresAt.Sub(c.now()), true
}

// Remove removes a value from the cache by the provided key.
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem := c.lookup(key)
	if elem == nil {
		return false
	}
	c.removeElement(elem)
	c.metricsCollector.SetAmount(len(c.cache))
	return true
}

// Purge clears the cache. Removed entries are not counted as evictions.
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[K]*list.Element)
	c.lruList.Init()
	c.metricsCollector.SetAmount(0)
}

// Len returns the number of items in the cache (expired but not yet collected entries included).
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// RunPeriodicCleanup removes expired entries every cleanupInterval until ctx is done.
// It's supposed to be run in a separate goroutine.
func (c *LRUCache[K, V]) RunPeriodicCleanup(ctx context.Context, cleanupInterval time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.DeleteExpired()
		}
	}
}

// DeleteExpired removes all expired entries and returns their number.
func (c *LRUCache[K, V]) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, elem := range c.cache {
		if elem.Value.(*cacheEntry[K, V]).expired(now) {
			c.removeElement(elem)
			removed++
		}
	}
	c.metricsCollector.SetAmount(len(c.cache))
	return removed
}

// lookup returns the element for the key, dropping it if it's expired. Must be called under lock.
func (c *LRUCache[K, V]) lookup(key K) *list.Element {
	elem, ok := c.cache[key]
	if !ok {
		return nil
	}
	if elem.Value.(*cacheEntry[K, V]).expired(c.now()) {
		c.removeElement(elem)
		c.metricsCollector.SetAmount(len(c.cache))
		return nil
	}
	return elem
}

// evictOldest removes the least recently used entry that is expired or not pinned.
// The most recently added entry is never evicted, so the cache grows past maxEntries when all others are pinned.
// Must be called under lock.
func (c *LRUCache[K, V]) evictOldest() bool {
	now := c.now()
	for elem := c.lruList.Back(); elem != nil && elem != c.lruList.Front(); elem = elem.Prev() {
		entry := elem.Value.(*cacheEntry[K, V])
		if !entry.pinned || entry.expired(now) {
			c.removeElement(elem)
			return true
		}
	}
	return false
}

func (c *LRUCache[K, V]) removeElement(elem *list.Element) {
	if elem == nil {
		return
	}
	c.lruList.Remove(elem)
	delete(c.cache, elem.Value.(*cacheEntry[K, V]).key)
}

func (c *LRUCache[K, V]) expiresAt(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}
