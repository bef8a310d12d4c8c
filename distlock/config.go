/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package distlock

import (
	"fmt"
	"time"

	"github.com/acronis/go-ratekit/config"
)

const cfgDefaultKeyPrefix = "lock"

const (
	cfgKeyExpire       = "expire"
	cfgKeyWaitTimeout  = "waitTimeout"
	cfgKeyPollInterval = "pollInterval"
)

// Config represents a set of configuration parameters for distributed locks.
type Config struct {
	Expire       config.TimeDuration `mapstructure:"expire" yaml:"expire" json:"expire"`
	WaitTimeout  config.TimeDuration `mapstructure:"waitTimeout" yaml:"waitTimeout" json:"waitTimeout"`
	PollInterval config.TimeDuration `mapstructure:"pollInterval" yaml:"pollInterval" json:"pollInterval"`
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
		Expire:       config.TimeDuration(DefaultExpire),
		WaitTimeout:  config.TimeDuration(DefaultWaitTimeout),
		PollInterval: config.TimeDuration(DefaultPollInterval),
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return cfgDefaultKeyPrefix
}

// SetProviderDefaults sets default configuration values for locks in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyExpire, DefaultExpire)
	dp.SetDefault(cfgKeyWaitTimeout, DefaultWaitTimeout)
	dp.SetDefault(cfgKeyPollInterval, DefaultPollInterval)
}

// Set sets lock configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	for _, item := range []struct {
		key string
		dst *config.TimeDuration
	}{
		{cfgKeyExpire, &c.Expire},
		{cfgKeyWaitTimeout, &c.WaitTimeout},
		{cfgKeyPollInterval, &c.PollInterval},
	} {
		dur, err := dp.GetDuration(item.key)
		if err != nil {
			return err
		}
		if dur <= 0 {
			return dp.WrapKeyErr(item.key, fmt.Errorf("should be > 0"))
		}
		*item.dst = config.TimeDuration(dur)
	}
	if c.PollInterval > c.WaitTimeout {
		return dp.WrapKeyErr(cfgKeyPollInterval, fmt.Errorf("should not exceed %s", time.Duration(c.WaitTimeout)))
	}
	return nil
}
