/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/throttled/throttled/v2"

	"github.com/acronis/go-ratekit/kvstore"
)

// newGCRALimiter creates a GCRA (Generic Cell Rate Algorithm) limiter, a leaky bucket variant,
// that keeps its state in the shared store. More details: https://brandur.org/rate-limiting#gcra.
func newGCRALimiter(store kvstore.Store, rule Rule) (*throttled.GCRARateLimiterCtx, error) {
	quota := throttled.RateQuota{
		MaxRate:  throttled.PerDuration(rule.RequestsPerWindow, rule.Window),
		MaxBurst: rule.BucketSize() - 1,
	}
	gcraLimiter, err := throttled.NewGCRARateLimiterCtx(gcraStore{store}, quota)
	if err != nil {
		return nil, fmt.Errorf("new GCRA rate limiter: %w", err)
	}
	return gcraLimiter, nil
}

// gcraStore adapts kvstore.Store to throttled.GCRAStoreCtx.
type gcraStore struct {
	store kvstore.Store
}

var _ throttled.GCRAStoreCtx = gcraStore{}

func (s gcraStore) GetWithTime(ctx context.Context, key string) (int64, time.Time, error) {
	return s.store.GetIntWithTime(ctx, key)
}

func (s gcraStore) SetIfNotExistsWithTTL(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	return s.store.SetIntIfAbsent(ctx, key, value, ttl)
}

func (s gcraStore) CompareAndSwapWithTTL(ctx context.Context, key string, old, new int64, ttl time.Duration) (bool, error) {
	return s.store.CompareAndSwapInt(ctx, key, old, new, ttl)
}
