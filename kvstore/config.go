/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package kvstore

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-ratekit/config"
)

const cfgDefaultKeyPrefix = "kvstore"

const (
	cfgKeyRedisURL              = "redis.url"
	cfgKeyRedisEnabled          = "redis.enabled"
	cfgKeyRedisDialTimeout      = "redis.dialTimeout"
	cfgKeyRedisReadTimeout      = "redis.readTimeout"
	cfgKeyRedisWriteTimeout     = "redis.writeTimeout"
	cfgKeyRedisPoolSize         = "redis.poolSize"
	cfgKeyMemoryMaxKeys         = "memory.maxKeys"
	cfgKeyMemoryCleanupInterval = "memory.cleanupInterval"
)

const (
	defaultRedisURL              = "redis://localhost:6379/0"
	defaultRedisDialTimeout      = 2 * time.Second
	defaultRedisReadTimeout      = 2 * time.Second
	defaultRedisWriteTimeout     = 2 * time.Second
	defaultMemoryMaxKeys         = 100000
	defaultMemoryCleanupInterval = time.Minute
	minMemoryCleanupInterval     = time.Second
)

// Config represents a set of configuration parameters for the key-value store.
type Config struct {
	Redis  RedisConfig  `mapstructure:"redis" yaml:"redis" json:"redis"`
	Memory MemoryConfig `mapstructure:"memory" yaml:"memory" json:"memory"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// RedisConfig is a configuration of the shared redis store.
type RedisConfig struct {
	// Enabled may be set to false to run with the in-memory store only (single-process setups and tests).
	Enabled      bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	URL          string              `mapstructure:"url" yaml:"url" json:"url"`
	DialTimeout  config.TimeDuration `mapstructure:"dialTimeout" yaml:"dialTimeout" json:"dialTimeout"`
	ReadTimeout  config.TimeDuration `mapstructure:"readTimeout" yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout config.TimeDuration `mapstructure:"writeTimeout" yaml:"writeTimeout" json:"writeTimeout"`
	PoolSize     int                 `mapstructure:"poolSize" yaml:"poolSize" json:"poolSize"`
}

// MemoryConfig is a configuration of the in-process fallback store.
type MemoryConfig struct {
	MaxKeys         int                 `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`
	CleanupInterval config.TimeDuration `mapstructure:"cleanupInterval" yaml:"cleanupInterval" json:"cleanupInterval"`
}

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	cfg := NewConfig(options...)
	cfg.Redis = RedisConfig{
		Enabled:      true,
		URL:          defaultRedisURL,
		DialTimeout:  config.TimeDuration(defaultRedisDialTimeout),
		ReadTimeout:  config.TimeDuration(defaultRedisReadTimeout),
		WriteTimeout: config.TimeDuration(defaultRedisWriteTimeout),
	}
	cfg.Memory = MemoryConfig{
		MaxKeys:         defaultMemoryMaxKeys,
		CleanupInterval: config.TimeDuration(defaultMemoryCleanupInterval),
	}
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the store in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRedisEnabled, true)
	dp.SetDefault(cfgKeyRedisURL, defaultRedisURL)
	dp.SetDefault(cfgKeyRedisDialTimeout, defaultRedisDialTimeout)
	dp.SetDefault(cfgKeyRedisReadTimeout, defaultRedisReadTimeout)
	dp.SetDefault(cfgKeyRedisWriteTimeout, defaultRedisWriteTimeout)
	dp.SetDefault(cfgKeyRedisPoolSize, 0)
	dp.SetDefault(cfgKeyMemoryMaxKeys, defaultMemoryMaxKeys)
	dp.SetDefault(cfgKeyMemoryCleanupInterval, defaultMemoryCleanupInterval)
}

// Set sets store configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	if err := c.Redis.set(dp); err != nil {
		return err
	}
	return c.Memory.set(dp)
}

func (r *RedisConfig) set(dp config.DataProvider) error {
	var err error
	if r.Enabled, err = dp.GetBool(cfgKeyRedisEnabled); err != nil {
		return err
	}
	if r.URL, err = dp.GetString(cfgKeyRedisURL); err != nil {
		return err
	}
	if r.Enabled {
		if _, err = redis.ParseURL(r.URL); err != nil {
			return dp.WrapKeyErr(cfgKeyRedisURL, err)
		}
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyRedisDialTimeout); err != nil {
		return err
	}
	r.DialTimeout = config.TimeDuration(dur)
	if dur, err = dp.GetDuration(cfgKeyRedisReadTimeout); err != nil {
		return err
	}
	r.ReadTimeout = config.TimeDuration(dur)
	if dur, err = dp.GetDuration(cfgKeyRedisWriteTimeout); err != nil {
		return err
	}
	r.WriteTimeout = config.TimeDuration(dur)

	if r.PoolSize, err = dp.GetInt(cfgKeyRedisPoolSize); err != nil {
		return err
	}
	if r.PoolSize < 0 {
		return dp.WrapKeyErr(cfgKeyRedisPoolSize, fmt.Errorf("should be >= 0"))
	}
	return nil
}

func (m *MemoryConfig) set(dp config.DataProvider) error {
	var err error
	if m.MaxKeys, err = dp.GetInt(cfgKeyMemoryMaxKeys); err != nil {
		return err
	}
	if m.MaxKeys <= 0 {
		return dp.WrapKeyErr(cfgKeyMemoryMaxKeys, fmt.Errorf("should be > 0"))
	}
	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyMemoryCleanupInterval); err != nil {
		return err
	}
	if dur < minMemoryCleanupInterval {
		return dp.WrapKeyErr(cfgKeyMemoryCleanupInterval, fmt.Errorf("should be >= %s", minMemoryCleanupInterval))
	}
	m.CleanupInterval = config.TimeDuration(dur)
	return nil
}

// redisOptions builds go-redis client options from the configuration.
func (r *RedisConfig) redisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if r.DialTimeout > 0 {
		opts.DialTimeout = time.Duration(r.DialTimeout)
	}
	if r.ReadTimeout > 0 {
		opts.ReadTimeout = time.Duration(r.ReadTimeout)
	}
	if r.WriteTimeout > 0 {
		opts.WriteTimeout = time.Duration(r.WriteTimeout)
	}
	if r.PoolSize > 0 {
		opts.PoolSize = r.PoolSize
	}
	return opts, nil
}
