/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package kvstore

import (
	"context"
	"errors"
	"time"
)

// Backend names reported by Adapter.Backend.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ErrDegraded is returned by Adapter.CheckHealth when the shared store is unreachable
// and the adapter serves everything from the in-process fallback.
var ErrDegraded = errors.New("shared key-value store is unavailable, in-memory fallback is used")

// ErrWrongType is returned when an operation is applied to a key holding a value of another kind.
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// Store is a key-value store with the primitives needed for rate limiting and distributed locking.
// Every quota-changing operation is applied atomically.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent stores the value only if the key doesn't exist and reports whether it was stored.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining time to live. Zero with found=true means the key never expires.
	TTL(ctx context.Context, key string) (ttl time.Duration, found bool, err error)
	// Increment increments an integer counter. The ttl is applied only when the counter is created.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	// SlidingWindow prunes, counts, records and expires a sorted-set window as one atomic unit.
	SlidingWindow(ctx context.Context, op SlidingWindowOp) (SlidingWindowResult, error)

	// TakeToken refills a token bucket and tries to consume one token as one atomic unit.
	TakeToken(ctx context.Context, op TokenBucketOp) (TokenBucketResult, error)
	// CompareAndDelete deletes the key only if it holds the given value.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)

	// GetIntWithTime returns an integer value (-1 if missing) together with the store's current time.
	GetIntWithTime(ctx context.Context, key string) (int64, time.Time, error)
	SetIntIfAbsent(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)
	CompareAndSwapInt(ctx context.Context, key string, old, new int64, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// SlidingWindowOp describes one sliding window step.
// Member must be unique per request, TTL is set on the whole window after the request is recorded.
type SlidingWindowOp struct {
	Key    string
	Now    time.Time
	Window time.Duration
	Member string
	TTL    time.Duration
}

// SlidingWindowResult is the outcome of a sliding window step.
type SlidingWindowResult struct {
	// Count is the number of requests in the window before the current one was recorded.
	Count int64
}

// TokenBucketOp describes one token bucket step.
type TokenBucketOp struct {
	Key        string
	Now        time.Time
	Capacity   float64
	RefillRate float64 // tokens per second
	TTL        time.Duration
}

// TokenBucketResult is the outcome of a token bucket step.
type TokenBucketResult struct {
	Allowed bool

	// Tokens is the number of tokens left in the bucket after the step.
	Tokens float64
}

// unixSeconds converts time to fractional unix seconds, the score unit of sliding windows.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
