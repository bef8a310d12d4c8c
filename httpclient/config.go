/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"fmt"
	"time"

	"github.com/acronis/go-ratekit/config"
)

const cfgDefaultKeyPrefix = "httpClient"

const (
	cfgKeyTimeout                 = "timeout"
	cfgKeyLogEnabled              = "log.enabled"
	cfgKeyLogMode                 = "log.mode"
	cfgKeyLogSlowRequestThreshold = "log.slowRequestThreshold"
	cfgKeyMetricsEnabled          = "metrics.enabled"
)

// DefaultTimeout is a default timeout of the whole request including reading of the response body.
const DefaultTimeout = 30 * time.Second

// DefaultSlowRequestThreshold is a default threshold after which a successful request is logged at warn level.
const DefaultSlowRequestThreshold = 5 * time.Second

// Config represents a set of configuration parameters for the HTTP client.
type Config struct {
	Timeout config.TimeDuration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Log     LogConfig           `mapstructure:"log" yaml:"log" json:"log"`
	Metrics MetricsConfig       `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// LogConfig configures logging of outgoing requests.
type LogConfig struct {
	Enabled              bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Mode                 LoggingMode         `mapstructure:"mode" yaml:"mode" json:"mode"`
	SlowRequestThreshold config.TimeDuration `mapstructure:"slowRequestThreshold" yaml:"slowRequestThreshold" json:"slowRequestThreshold"`
}

// MetricsConfig configures Prometheus metrics of outgoing requests.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
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
	cfg.Timeout = config.TimeDuration(DefaultTimeout)
	cfg.Log = LogConfig{
		Enabled:              true,
		Mode:                 LoggingModeAll,
		SlowRequestThreshold: config.TimeDuration(DefaultSlowRequestThreshold),
	}
	cfg.Metrics.Enabled = true
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the HTTP client in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyTimeout, DefaultTimeout)
	dp.SetDefault(cfgKeyLogEnabled, true)
	dp.SetDefault(cfgKeyLogMode, string(LoggingModeAll))
	dp.SetDefault(cfgKeyLogSlowRequestThreshold, DefaultSlowRequestThreshold)
	dp.SetDefault(cfgKeyMetricsEnabled, true)
}

// Set sets the HTTP client configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	timeout, err := dp.GetDuration(cfgKeyTimeout)
	if err != nil {
		return err
	}
	if timeout < 0 {
		return dp.WrapKeyErr(cfgKeyTimeout, fmt.Errorf("cannot be negative"))
	}
	c.Timeout = config.TimeDuration(timeout)

	if c.Log.Enabled, err = dp.GetBool(cfgKeyLogEnabled); err != nil {
		return err
	}
	mode, err := dp.GetString(cfgKeyLogMode)
	if err != nil {
		return err
	}
	if !LoggingMode(mode).IsValid() {
		return dp.WrapKeyErr(cfgKeyLogMode, fmt.Errorf("choose one of: [%s, %s, %s]",
			LoggingModeNone, LoggingModeAll, LoggingModeFailed))
	}
	c.Log.Mode = LoggingMode(mode)
	threshold, err := dp.GetDuration(cfgKeyLogSlowRequestThreshold)
	if err != nil {
		return err
	}
	if threshold < 0 {
		return dp.WrapKeyErr(cfgKeyLogSlowRequestThreshold, fmt.Errorf("cannot be negative"))
	}
	c.Log.SlowRequestThreshold = config.TimeDuration(threshold)

	if c.Metrics.Enabled, err = dp.GetBool(cfgKeyMetricsEnabled); err != nil {
		return err
	}
	return nil
}

// TransportOpts returns options for the logging round tripper.
func (lc *LogConfig) TransportOpts() LoggingRoundTripperOpts {
	return LoggingRoundTripperOpts{Mode: lc.Mode, SlowRequestThreshold: time.Duration(lc.SlowRequestThreshold)}
}
