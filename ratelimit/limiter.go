/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/throttled/throttled/v2"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/acronis/go-ratekit/kvstore"
	"github.com/acronis/go-ratekit/log"
)

var errNoLoadSource = errors.New("load metrics source is not configured")

// QuotaInfo describes the quota state after a check. It's returned to clients in 429 responses.
type QuotaInfo struct {
	Rule              string             `json:"rule"`
	Algorithm         Algorithm          `json:"algorithm"`
	Limit             int                `json:"limit"`
	Remaining         int                `json:"remaining"`
	TokensRemaining   *int               `json:"tokens_remaining,omitempty"`
	BucketSize        int                `json:"bucket_size,omitempty"`
	RefillRate        float64            `json:"refill_rate,omitempty"`
	ResetTime         int64              `json:"reset_time,omitempty"`
	RetryAfter        int                `json:"retry_after,omitempty"`
	OriginalLimit     int                `json:"original_limit,omitempty"`
	AdaptiveLimit     int                `json:"adaptive_limit,omitempty"`
	AdjustmentFactors *AdjustmentFactors `json:"adjustment_factors,omitempty"`
	Blocked           bool               `json:"blocked,omitempty"`
	Error             string             `json:"error,omitempty"`

	ClientID string `json:"-"`
}

// LimiterOpts represents options for the Limiter.
type LimiterOpts struct {
	// LoadSource feeds the adaptive algorithm. Adaptive rules fall back to the base limit if it's nil.
	LoadSource LoadMetricsSource

	// MetricsCollector receives decision metrics. Metrics are disabled if nil.
	MetricsCollector MetricsCollector

	// ErrorLogInterval is the minimal interval between two logged store errors. Zero logs every error.
	ErrorLogInterval time.Duration

	// Now returns the current time. time.Now is used if nil.
	Now func() time.Time
}

// Limiter decides whether a request may proceed. Quota state lives in the store, so all processes
// sharing the store share the quotas. Store failures never reject requests.
type Limiter struct {
	rules        *RuleSet
	store        kvstore.Store
	logger       log.FieldLogger
	loadSource   LoadMetricsSource
	metrics      MetricsCollector
	now          func() time.Time
	gcraLimiters map[string]*throttled.GCRARateLimiterCtx

	errLogSometimes   *rate.Sometimes
	suppressedErrLogs atomic.Int64
}

// NewLimiter creates a new Limiter.
func NewLimiter(rules *RuleSet, store kvstore.Store, logger log.FieldLogger) (*Limiter, error) {
	return NewLimiterWithOpts(rules, store, logger, LimiterOpts{})
}

// NewLimiterWithOpts creates a new Limiter with the provided options.
func NewLimiterWithOpts(rules *RuleSet, store kvstore.Store, logger log.FieldLogger, opts LimiterOpts) (*Limiter, error) {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	sometimes := &rate.Sometimes{Every: 1}
	if opts.ErrorLogInterval > 0 {
		sometimes = &rate.Sometimes{Interval: opts.ErrorLogInterval}
	}

	l := &Limiter{
		rules:           rules,
		store:           store,
		logger:          logger,
		loadSource:      opts.LoadSource,
		metrics:         opts.MetricsCollector,
		now:             opts.Now,
		gcraLimiters:    make(map[string]*throttled.GCRARateLimiterCtx),
		errLogSometimes: sometimes,
	}
	for _, rule := range rules.Rules() {
		if rule.Algorithm != AlgorithmLeakyBucket {
			continue
		}
		gcraLimiter, err := newGCRALimiter(store, rule)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		l.gcraLimiters[rule.Name] = gcraLimiter
	}
	return l, nil
}

// Rules returns the rule set used by the limiter.
func (l *Limiter) Rules() *RuleSet {
	return l.rules
}

// CheckLimit selects the rule for the request, applies its algorithm and reports whether the request is allowed.
// If the store fails, the request is allowed and QuotaInfo.Error describes the failure.
func (l *Limiter) CheckLimit(ctx context.Context, req Request) (allowed bool, info QuotaInfo) {
	// A canceled request must not leave a half-applied update.
	ctx = context.WithoutCancel(ctx)

	rule := l.rules.Select(req)
	clientID := ClientIdentifier(rule, req)
	key := Key(rule.Name, clientID, req.Path)
	now := l.now()

	defer func() {
		info.Rule = rule.Name
		info.ClientID = clientID
		l.metrics.IncDecisions(rule.Name, rule.Algorithm, decisionOf(allowed, info))
	}()

	if rule.BlockDuration > 0 {
		blocked, blockInfo, err := l.checkBlock(ctx, rule, clientID, now)
		if err != nil {
			return l.failOpen(rule, clientID, err)
		}
		if blocked {
			return false, blockInfo
		}
	}

	var err error
	switch rule.Algorithm {
	case AlgorithmTokenBucket:
		allowed, info, err = l.tokenBucket(ctx, rule, key, now)
	case AlgorithmFixedWindow:
		allowed, info, err = l.fixedWindow(ctx, rule, key, now)
	case AlgorithmAdaptive:
		allowed, info, err = l.adaptive(ctx, rule, key, now)
	case AlgorithmLeakyBucket:
		allowed, info, err = l.leakyBucket(ctx, rule, key, now)
	default:
		allowed, info, err = l.slidingWindow(ctx, rule, key, now)
	}
	if err != nil {
		return l.failOpen(rule, clientID, err)
	}

	if !allowed && rule.BlockDuration > 0 {
		l.block(ctx, rule, clientID)
	}
	return allowed, info
}

func (l *Limiter) checkBlock(ctx context.Context, rule Rule, clientID string, now time.Time) (bool, QuotaInfo, error) {
	ttl, found, err := l.store.TTL(ctx, BlockKey(rule.Name, clientID))
	if err != nil || !found {
		return false, QuotaInfo{}, err
	}
	if ttl <= 0 {
		ttl = rule.BlockDuration
	}
	return true, QuotaInfo{
		Algorithm:  rule.Algorithm,
		Limit:      rule.RequestsPerWindow,
		Remaining:  0,
		ResetTime:  now.Add(ttl).Unix(),
		RetryAfter: ceilSeconds(ttl),
		Blocked:    true,
	}, nil
}

func (l *Limiter) block(ctx context.Context, rule Rule, clientID string) {
	blockKey := BlockKey(rule.Name, clientID)
	created, err := l.store.SetIfAbsent(ctx, blockKey, []byte("1"), rule.BlockDuration)
	if err != nil {
		l.logError("error while blocking client", log.String("rule", rule.Name),
			log.String("client", clientID), log.Error(err))
		return
	}
	if created {
		l.logger.Warn("client is blocked after exceeding rate limit",
			log.String("rule", rule.Name), log.String("client", clientID),
			log.Duration("block_duration", rule.BlockDuration))
	}
}

func (l *Limiter) failOpen(rule Rule, clientID string, err error) (bool, QuotaInfo) {
	l.metrics.IncStoreErrors(rule.Name)
	l.logError("rate limit check failed, request is allowed", log.String("rule", rule.Name),
		log.String("client", clientID), log.Error(err))
	return true, QuotaInfo{Algorithm: rule.Algorithm, Limit: rule.RequestsPerWindow, Error: err.Error()}
}

// logError logs errors not more often than configured, the number of suppressed messages is attached.
func (l *Limiter) logError(msg string, fields ...log.Field) {
	logged := false
	l.errLogSometimes.Do(func() {
		logged = true
		l.logger.Error(msg, append(fields, log.Int64("suppressed", l.suppressedErrLogs.Swap(0)))...)
	})
	if !logged {
		l.suppressedErrLogs.Inc()
	}
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
