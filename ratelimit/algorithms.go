/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/acronis/go-ratekit/kvstore"
	"github.com/acronis/go-ratekit/log"
)

// slidingWindow counts requests within the last window. The current request is recorded even if it's rejected.
func (l *Limiter) slidingWindow(ctx context.Context, rule Rule, key string, now time.Time) (bool, QuotaInfo, error) {
	res, err := l.store.SlidingWindow(ctx, kvstore.SlidingWindowOp{
		Key:    key,
		Now:    now,
		Window: rule.Window,
		Member: xid.NewWithTime(now).String(),
		TTL:    rule.Window + time.Second,
	})
	if err != nil {
		return false, QuotaInfo{}, err
	}
	count := int(res.Count)
	allowed := count < rule.RequestsPerWindow
	info := QuotaInfo{
		Algorithm: AlgorithmSlidingWindow,
		Limit:     rule.RequestsPerWindow,
		Remaining: max(0, rule.RequestsPerWindow-count-1),
		ResetTime: now.Add(rule.Window).Unix(),
	}
	if !allowed {
		info.RetryAfter = ceilSeconds(rule.Window)
	}
	return allowed, info, nil
}

// tokenBucket refills the bucket with RequestsPerWindow tokens per minute and takes one token per request.
func (l *Limiter) tokenBucket(ctx context.Context, rule Rule, key string, now time.Time) (bool, QuotaInfo, error) {
	bucketSize := rule.BucketSize()
	refillRate := rule.RefillRate()
	fullRefill := time.Duration(float64(bucketSize) / refillRate * float64(time.Second))

	res, err := l.store.TakeToken(ctx, kvstore.TokenBucketOp{
		Key:        key,
		Now:        now,
		Capacity:   float64(bucketSize),
		RefillRate: refillRate,
		TTL:        max(rule.Window, fullRefill),
	})
	if err != nil {
		return false, QuotaInfo{}, err
	}
	tokens := int(res.Tokens)
	info := QuotaInfo{
		Algorithm:       AlgorithmTokenBucket,
		Limit:           rule.RequestsPerWindow,
		Remaining:       tokens,
		TokensRemaining: &tokens,
		BucketSize:      bucketSize,
		RefillRate:      refillRate,
		ResetTime:       now.Unix() + int64(math.Ceil((float64(bucketSize)-res.Tokens)/refillRate)),
	}
	if !res.Allowed {
		info.RetryAfter = max(1, int(math.Ceil((1-res.Tokens)/refillRate)))
	}
	return res.Allowed, info, nil
}

// fixedWindow counts requests in the window aligned to the epoch. The counter expires with the window.
func (l *Limiter) fixedWindow(ctx context.Context, rule Rule, key string, now time.Time) (bool, QuotaInfo, error) {
	windowNs := rule.Window.Nanoseconds()
	windowStart := time.Unix(0, now.UnixNano()/windowNs*windowNs)
	windowEnd := windowStart.Add(rule.Window)

	count, err := l.store.Increment(ctx, key+":"+strconv.FormatInt(windowStart.Unix(), 10), rule.Window)
	if err != nil {
		return false, QuotaInfo{}, err
	}
	allowed := count <= int64(rule.RequestsPerWindow)
	info := QuotaInfo{
		Algorithm: AlgorithmFixedWindow,
		Limit:     rule.RequestsPerWindow,
		Remaining: max(0, rule.RequestsPerWindow-int(count)),
		ResetTime: windowEnd.Unix(),
	}
	if !allowed {
		info.RetryAfter = max(1, ceilSeconds(windowEnd.Sub(now)))
	}
	return allowed, info, nil
}

// adaptive applies the sliding window with a limit reduced according to the current load.
// If the load is unknown, the base limit is used.
func (l *Limiter) adaptive(ctx context.Context, rule Rule, key string, now time.Time) (bool, QuotaInfo, error) {
	var load LoadMetrics
	var err error
	if l.loadSource == nil {
		err = errNoLoadSource
	} else {
		load, err = l.loadSource.CurrentLoad(ctx)
	}
	if err != nil {
		l.logError("error while getting load metrics, base limit is used",
			log.String("rule", rule.Name), log.Error(err))
		allowed, info, swErr := l.slidingWindow(ctx, rule, key, now)
		if swErr != nil {
			return false, QuotaInfo{}, swErr
		}
		info.Algorithm = AlgorithmAdaptive
		info.OriginalLimit = rule.RequestsPerWindow
		info.AdaptiveLimit = rule.RequestsPerWindow
		return allowed, info, nil
	}

	limit := AdaptiveLimit(rule.RequestsPerWindow, load)
	l.metrics.SetAdaptiveLimit(rule.Name, limit)

	allowed, info, err := l.slidingWindow(ctx, rule.WithLimit(limit), key, now)
	if err != nil {
		return false, QuotaInfo{}, err
	}
	info.Algorithm = AlgorithmAdaptive
	info.OriginalLimit = rule.RequestsPerWindow
	info.AdaptiveLimit = limit
	info.AdjustmentFactors = makeAdjustmentFactors(load)
	return allowed, info, nil
}

// leakyBucket applies GCRA with the theoretical arrival time kept in the store.
func (l *Limiter) leakyBucket(ctx context.Context, rule Rule, key string, now time.Time) (bool, QuotaInfo, error) {
	limited, res, err := l.gcraLimiters[rule.Name].RateLimitCtx(ctx, key, 1)
	if err != nil {
		return false, QuotaInfo{}, err
	}
	info := QuotaInfo{
		Algorithm:  AlgorithmLeakyBucket,
		Limit:      rule.RequestsPerWindow,
		Remaining:  res.Remaining,
		BucketSize: res.Limit,
		ResetTime:  now.Add(res.ResetAfter).Unix(),
	}
	if limited {
		info.RetryAfter = max(1, ceilSeconds(res.RetryAfter))
	}
	return !limited, info, nil
}
