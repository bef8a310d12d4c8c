/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scraping

import (
	"fmt"
	"net/url"
	"time"

	"github.com/acronis/go-ratekit/config"
	"github.com/acronis/go-ratekit/distlock"
	"github.com/acronis/go-ratekit/retry"
)

const cfgDefaultKeyPrefix = "scraping"

const (
	cfgKeyScraperURL           = "scraperURL"
	cfgKeyRunTimeout           = "runTimeout"
	cfgKeyRetryMaxAttempts     = "retry.maxAttempts"
	cfgKeyRetryInitialInterval = "retry.initialInterval"
	cfgKeyScheduleEnabled      = "schedule.enabled"
	cfgKeyScheduleInterval     = "schedule.interval"
	cfgKeyScheduleInitialDelay = "schedule.initialDelay"
	cfgKeyScheduleSources      = "schedule.sources"
)

// Default scraping parameters.
const (
	DefaultRunTimeout           = 30 * time.Minute
	DefaultRetryMaxAttempts     = 3
	DefaultRetryInitialInterval = 5 * time.Second
	DefaultScheduleInterval     = 24 * time.Hour
	DefaultScheduleInitialDelay = time.Minute
)

// Config represents a set of configuration parameters for scraping runs.
type Config struct {
	// ScraperURL is a base URL of the external scraper service. Runs are only logged if it's empty.
	ScraperURL string              `mapstructure:"scraperURL" yaml:"scraperURL" json:"scraperURL"`
	RunTimeout config.TimeDuration `mapstructure:"runTimeout" yaml:"runTimeout" json:"runTimeout"`
	Retry      RetryConfig         `mapstructure:"retry" yaml:"retry" json:"retry"`
	Schedule   ScheduleConfig      `mapstructure:"schedule" yaml:"schedule" json:"schedule"`
}

// RetryConfig configures retries of a failed run. Delays grow exponentially.
type RetryConfig struct {
	MaxAttempts     int                 `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`
	InitialInterval config.TimeDuration `mapstructure:"initialInterval" yaml:"initialInterval" json:"initialInterval"`
}

// ScheduleConfig configures periodic scraping.
type ScheduleConfig struct {
	Enabled      bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Interval     config.TimeDuration `mapstructure:"interval" yaml:"interval" json:"interval"`
	InitialDelay config.TimeDuration `mapstructure:"initialDelay" yaml:"initialDelay" json:"initialDelay"`

	// Sources are scraped one by one on every tick. All sources are scraped at once if the list is empty.
	Sources []string `mapstructure:"sources" yaml:"sources" json:"sources"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		RunTimeout: config.TimeDuration(DefaultRunTimeout),
		Retry: RetryConfig{
			MaxAttempts:     DefaultRetryMaxAttempts,
			InitialInterval: config.TimeDuration(DefaultRetryInitialInterval),
		},
		Schedule: ScheduleConfig{
			Interval:     config.TimeDuration(DefaultScheduleInterval),
			InitialDelay: config.TimeDuration(DefaultScheduleInitialDelay),
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return cfgDefaultKeyPrefix
}

// SetProviderDefaults sets default configuration values for scraping in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRunTimeout, DefaultRunTimeout)
	dp.SetDefault(cfgKeyRetryMaxAttempts, DefaultRetryMaxAttempts)
	dp.SetDefault(cfgKeyRetryInitialInterval, DefaultRetryInitialInterval)
	dp.SetDefault(cfgKeyScheduleEnabled, false)
	dp.SetDefault(cfgKeyScheduleInterval, DefaultScheduleInterval)
	dp.SetDefault(cfgKeyScheduleInitialDelay, DefaultScheduleInitialDelay)
}

// Set sets scraping configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.ScraperURL, err = dp.GetString(cfgKeyScraperURL); err != nil {
		return err
	}
	if c.ScraperURL != "" {
		u, parseErr := url.Parse(c.ScraperURL)
		if parseErr != nil || u.Scheme == "" || u.Host == "" {
			return dp.WrapKeyErr(cfgKeyScraperURL, fmt.Errorf("should be an absolute URL"))
		}
	}

	for _, item := range []struct {
		key    string
		dst    *config.TimeDuration
		allow0 bool
	}{
		{cfgKeyRunTimeout, &c.RunTimeout, false},
		{cfgKeyRetryInitialInterval, &c.Retry.InitialInterval, false},
		{cfgKeyScheduleInterval, &c.Schedule.Interval, false},
		{cfgKeyScheduleInitialDelay, &c.Schedule.InitialDelay, true},
	} {
		dur, durErr := dp.GetDuration(item.key)
		if durErr != nil {
			return durErr
		}
		if dur < 0 || (dur == 0 && !item.allow0) {
			if item.allow0 {
				return dp.WrapKeyErr(item.key, fmt.Errorf("cannot be negative"))
			}
			return dp.WrapKeyErr(item.key, fmt.Errorf("should be > 0"))
		}
		*item.dst = config.TimeDuration(dur)
	}

	if c.Retry.MaxAttempts, err = dp.GetInt(cfgKeyRetryMaxAttempts); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyRetryMaxAttempts, fmt.Errorf("cannot be negative"))
	}

	if c.Schedule.Enabled, err = dp.GetBool(cfgKeyScheduleEnabled); err != nil {
		return err
	}
	if c.Schedule.Sources, err = dp.GetStringSlice(cfgKeyScheduleSources); err != nil {
		return err
	}
	for _, src := range c.Schedule.Sources {
		if src == "" {
			return dp.WrapKeyErr(cfgKeyScheduleSources, fmt.Errorf("source id cannot be empty"))
		}
	}
	return nil
}

// ManagerOpts returns options for the Manager. Lock parameters are taken from the lock configuration.
func (c *Config) ManagerOpts(lockCfg *distlock.Config) ManagerOpts {
	opts := ManagerOpts{RunTimeout: time.Duration(c.RunTimeout)}
	if lockCfg != nil {
		opts.LockExpire = time.Duration(lockCfg.Expire)
		opts.LockWaitTimeout = time.Duration(lockCfg.WaitTimeout)
	}
	if c.Retry.MaxAttempts > 0 {
		opts.RetryPolicy = retry.NewExponentialBackoffPolicy(time.Duration(c.Retry.InitialInterval), c.Retry.MaxAttempts)
	}
	return opts
}
