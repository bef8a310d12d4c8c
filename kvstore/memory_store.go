/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package kvstore

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/acronis/go-ratekit/lrucache"
)

type memEntryKind int

const (
	memEntryBytes memEntryKind = iota
	memEntryCounter
	memEntrySortedSet
	memEntryTokenBucket
)

type memEntry struct {
	kind       memEntryKind
	data       []byte
	counter    int64
	zset       map[string]float64
	tokens     float64
	lastRefill float64
}

// MemoryStoreOpts represents options for MemoryStore.
type MemoryStoreOpts struct {
	// MaxKeys bounds the number of keys, the least recently used key is evicted when it's exceeded.
	MaxKeys int

	// MetricsCollector receives LRU metrics. Metrics are disabled if nil.
	MetricsCollector lrucache.MetricsCollector

	// Now returns the current time. time.Now is used if nil.
	Now func() time.Time
}

// MemoryStore is an in-process Store.
// Keys are the same as in the shared store, all operations are serialized by a single mutex.
// Values written by Set and SetIfAbsent with a TTL (locks and block markers) are never evicted
// to make room for rate limiting state, they live until they expire or are deleted.
type MemoryStore struct {
	mu      sync.Mutex
	entries *lrucache.LRUCache[string, *memEntry]
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore(opts MemoryStoreOpts) (*MemoryStore, error) {
	if opts.MaxKeys == 0 {
		opts.MaxKeys = defaultMemoryMaxKeys
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	entries, err := lrucache.NewWithOpts[string, *memEntry](
		opts.MaxKeys, opts.MetricsCollector, lrucache.Options{Now: opts.Now})
	if err != nil {
		return nil, fmt.Errorf("create memory store: %w", err)
	}
	return &MemoryStore{entries: entries, now: opts.Now}, nil
}

// Len returns the number of live keys in the store, expired keys are collected before counting.
func (s *MemoryStore) Len() int {
	s.entries.DeleteExpired()
	return s.entries.Len()
}

// RunPeriodicCleanup removes expired keys every interval until ctx is done.
func (s *MemoryStore) RunPeriodicCleanup(ctx context.Context, interval time.Duration) {
	s.entries.RunPeriodicCleanup(ctx, interval)
}

// Get returns the value stored at key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	switch entry.kind {
	case memEntryBytes:
		return append([]byte(nil), entry.data...), true, nil
	case memEntryCounter:
		return []byte(strconv.FormatInt(entry.counter, 10)), true, nil
	default:
		return nil, false, ErrWrongType
	}
}

// Set stores the value at key.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addBytes(key, value, ttl)
	return nil
}

// SetIfAbsent stores the value only if the key doesn't exist.
func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries.Get(key); ok {
		return false, nil
	}
	s.addBytes(key, value, ttl)
	return true, nil
}

// addBytes stores a copy of the value, pinning it if it expires.
func (s *MemoryStore) addBytes(key string, value []byte, ttl time.Duration) {
	entry := &memEntry{kind: memEntryBytes, data: append([]byte(nil), value...)}
	if ttl > 0 {
		s.entries.AddPinnedWithTTL(key, entry, ttl)
		return
	}
	s.entries.AddWithTTL(key, entry, ttl)
}

// Delete removes the key.
func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Remove(key), nil
}

// Exists reports whether the key exists.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries.TTL(key)
	return ok, nil
}

// TTL returns the remaining time to live of the key.
func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ttl, ok := s.entries.TTL(key)
	return ttl, ok, nil
}

// Increment increments the counter at key, the ttl is set when the counter is created.
func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(key)
	if !ok {
		s.entries.AddWithTTL(key, &memEntry{kind: memEntryCounter, counter: 1}, ttl)
		return 1, nil
	}
	if err := entry.toCounter(); err != nil {
		return 0, err
	}
	entry.counter++
	return entry.counter, nil
}

// ZAdd adds a member with the score to the sorted set.
func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.sortedSet(key, true)
	if err != nil {
		return err
	}
	entry.zset[member] = score
	return nil
}

// ZRemRangeByScore removes sorted set members with scores within [min, max].
func (s *MemoryStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.sortedSet(key, false)
	if err != nil || entry == nil {
		return 0, err
	}
	return entry.removeScoreRange(min, max), nil
}

// ZCard returns the number of sorted set members.
func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.sortedSet(key, false)
	if err != nil || entry == nil {
		return 0, err
	}
	return int64(len(entry.zset)), nil
}

// SlidingWindow prunes, counts, records and expires the window under the store mutex.
func (s *MemoryStore) SlidingWindow(_ context.Context, op SlidingWindowOp) (SlidingWindowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.sortedSet(op.Key, true)
	if err != nil {
		return SlidingWindowResult{}, err
	}
	entry.removeScoreRange(0, unixSeconds(op.Now.Add(-op.Window)))
	count := int64(len(entry.zset))
	entry.zset[op.Member] = unixSeconds(op.Now)
	s.entries.Expire(op.Key, op.TTL)
	return SlidingWindowResult{Count: count}, nil
}

// TakeToken refills the bucket and consumes one token if available.
func (s *MemoryStore) TakeToken(_ context.Context, op TokenBucketOp) (TokenBucketResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := unixSeconds(op.Now)
	entry, ok := s.entries.Get(op.Key)
	if !ok {
		entry = &memEntry{kind: memEntryTokenBucket, tokens: op.Capacity, lastRefill: now}
	} else if entry.kind != memEntryTokenBucket {
		return TokenBucketResult{}, ErrWrongType
	}

	elapsed := math.Max(0, now-entry.lastRefill)
	entry.tokens = math.Min(op.Capacity, entry.tokens+elapsed*op.RefillRate)
	entry.lastRefill = now
	allowed := false
	if entry.tokens >= 1 {
		entry.tokens--
		allowed = true
	}
	if ok {
		s.entries.Expire(op.Key, op.TTL)
	} else {
		s.entries.AddWithTTL(op.Key, entry, op.TTL)
	}
	return TokenBucketResult{Allowed: allowed, Tokens: entry.tokens}, nil
}

// CompareAndDelete deletes the key only if it holds the value.
func (s *MemoryStore) CompareAndDelete(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(key)
	if !ok || entry.kind != memEntryBytes || !bytes.Equal(entry.data, value) {
		return false, nil
	}
	return s.entries.Remove(key), nil
}

// GetIntWithTime returns the integer at key (-1 if missing) and the current time.
func (s *MemoryStore) GetIntWithTime(_ context.Context, key string) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries.Get(key)
	if !ok {
		return -1, now, nil
	}
	if err := entry.toCounter(); err != nil {
		return 0, time.Time{}, err
	}
	return entry.counter, now, nil
}

// SetIntIfAbsent stores the integer only if the key doesn't exist.
func (s *MemoryStore) SetIntIfAbsent(_ context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries.Get(key); ok {
		return false, nil
	}
	s.entries.AddWithTTL(key, &memEntry{kind: memEntryCounter, counter: value}, ttl)
	return true, nil
}

// CompareAndSwapInt replaces the integer at key only if it equals old.
func (s *MemoryStore) CompareAndSwapInt(_ context.Context, key string, old, new int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(key)
	if !ok {
		return false, nil
	}
	if err := entry.toCounter(); err != nil {
		return false, err
	}
	if entry.counter != old {
		return false, nil
	}
	s.entries.AddWithTTL(key, &memEntry{kind: memEntryCounter, counter: new}, ttl)
	return true, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close drops all keys.
func (s *MemoryStore) Close() error {
	s.entries.Purge()
	return nil
}

// sortedSet returns the sorted set at key. A missing key yields nil unless create is set.
// Must be called under the store mutex.
func (s *MemoryStore) sortedSet(key string, create bool) (*memEntry, error) {
	entry, ok := s.entries.Get(key)
	if !ok {
		if !create {
			return nil, nil
		}
		entry = &memEntry{kind: memEntrySortedSet, zset: make(map[string]float64)}
		s.entries.AddWithTTL(key, entry, 0)
		return entry, nil
	}
	if entry.kind != memEntrySortedSet {
		return nil, ErrWrongType
	}
	return entry, nil
}

func (e *memEntry) removeScoreRange(min, max float64) int64 {
	var removed int64
	for member, score := range e.zset {
		if score >= min && score <= max {
			delete(e.zset, member)
			removed++
		}
	}
	return removed
}

// toCounter converts a bytes entry holding an integer to a counter entry.
func (e *memEntry) toCounter() error {
	switch e.kind {
	case memEntryCounter:
		return nil
	case memEntryBytes:
		n, err := strconv.ParseInt(string(e.data), 10, 64)
		if err != nil {
			return fmt.Errorf("value is not an integer: %w", err)
		}
		e.kind, e.counter, e.data = memEntryCounter, n, nil
		return nil
	default:
		return ErrWrongType
	}
}
