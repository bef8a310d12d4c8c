/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/lrucache"
)

const connectPingTimeout = 2 * time.Second

// Adapter is a Store that uses redis when it's reachable at startup and the in-process MemoryStore otherwise.
// The choice is made once in Connect and kept for the process lifetime.
type Adapter struct {
	Store

	memory   *MemoryStore
	redis    *RedisStore
	degraded bool
	metrics  *lrucache.PrometheusMetrics
	logger   log.FieldLogger
}

// AdapterOpts represents options for the Adapter.
type AdapterOpts struct {
	// MetricsNamespace is a namespace for Prometheus metrics of the in-memory store.
	MetricsNamespace string

	// Now returns the current time for the in-memory store. time.Now is used if nil.
	Now func() time.Time
}

// Connect creates a new Adapter. It pings redis and, if the ping fails,
// logs the failure once and switches to the in-process store.
func Connect(ctx context.Context, cfg *Config, logger log.FieldLogger) (*Adapter, error) {
	return ConnectWithOpts(ctx, cfg, logger, AdapterOpts{})
}

// ConnectWithOpts creates a new Adapter with the provided options.
func ConnectWithOpts(ctx context.Context, cfg *Config, logger log.FieldLogger, opts AdapterOpts) (*Adapter, error) {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	metrics := lrucache.NewPrometheusMetrics(opts.MetricsNamespace, "kvstore_memory")
	memory, err := NewMemoryStore(MemoryStoreOpts{MaxKeys: cfg.Memory.MaxKeys, MetricsCollector: metrics, Now: opts.Now})
	if err != nil {
		return nil, err
	}
	a := &Adapter{memory: memory, metrics: metrics, logger: logger}

	if !cfg.Redis.Enabled {
		logger.Info("shared store is disabled, in-memory store will be used")
		a.useMemory()
		return a, nil
	}

	redisOpts, err := cfg.Redis.redisOptions()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(redisOpts)
	pingCtx, pingCancel := context.WithTimeout(ctx, connectPingTimeout)
	defer pingCancel()
	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		_ = client.Close()
		logger.Warn("redis is not available, in-memory store will be used",
			log.String("addr", redisOpts.Addr), log.Error(pingErr))
		a.useMemory()
		return a, nil
	}

	logger.Info("connected to redis", log.String("addr", redisOpts.Addr), log.Int("db", redisOpts.DB))
	a.redis = NewRedisStore(client)
	a.Store = a.redis
	return a, nil
}

// NewAdapter creates an Adapter over an already connected redis client.
// A nil client makes the adapter degraded from the start.
func NewAdapter(client redis.UniversalClient, memory *MemoryStore, logger log.FieldLogger) *Adapter {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	a := &Adapter{memory: memory, logger: logger}
	if client == nil {
		a.useMemory()
		return a
	}
	a.redis = NewRedisStore(client)
	a.Store = a.redis
	return a
}

func (a *Adapter) useMemory() {
	a.degraded = true
	a.Store = a.memory
}

// Degraded reports whether the adapter serves requests from the in-process store.
func (a *Adapter) Degraded() bool {
	return a.degraded
}

// Backend returns "redis" or "memory".
func (a *Adapter) Backend() string {
	if a.degraded {
		return BackendMemory
	}
	return BackendRedis
}

// MemoryKeyCount returns the number of keys in the in-process store.
func (a *Adapter) MemoryKeyCount() int {
	if a.memory == nil {
		return 0
	}
	return a.memory.Len()
}

// CheckHealth returns ErrDegraded if the in-process store is used, or the redis ping error.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	if a.degraded {
		return ErrDegraded
	}
	if err := a.redis.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// RunMemoryCleanup removes expired in-process keys every interval until ctx is done.
// It's a no-op when redis is used.
func (a *Adapter) RunMemoryCleanup(ctx context.Context, interval time.Duration) {
	if !a.degraded || a.memory == nil {
		return
	}
	a.memory.RunPeriodicCleanup(ctx, interval)
}

// MustRegisterMetrics registers metrics of the in-process store in Prometheus.
func (a *Adapter) MustRegisterMetrics() {
	if a.metrics != nil {
		a.metrics.MustRegister()
	}
}

// UnregisterMetrics unregisters metrics of the in-process store.
func (a *Adapter) UnregisterMetrics() {
	if a.metrics != nil {
		a.metrics.Unregister()
	}
}

// Close closes the underlying stores.
func (a *Adapter) Close() error {
	var err error
	if a.redis != nil {
		err = a.redis.Close()
	}
	if a.memory != nil {
		_ = a.memory.Close()
	}
	return err
}
