/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package monitoring

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"

	"github.com/acronis/go-ratekit/config"
)

const cfgDefaultKeyPrefix = "monitoring"

const (
	cfgKeyHistorySize          = "historySize"
	cfgKeySystemSampleInterval = "systemSampleInterval"
	cfgKeyProcPath             = "procPath"
)

// Default values.
const (
	DefaultHistorySize          = 1000
	DefaultSystemSampleInterval = 5 * time.Second
)

// Config represents a set of configuration parameters for the monitoring collector.
type Config struct {
	HistorySize          int                 `mapstructure:"historySize" yaml:"historySize" json:"historySize"`
	SystemSampleInterval config.TimeDuration `mapstructure:"systemSampleInterval" yaml:"systemSampleInterval" json:"systemSampleInterval"`
	ProcPath             string              `mapstructure:"procPath" yaml:"procPath" json:"procPath"`
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
		HistorySize:          DefaultHistorySize,
		SystemSampleInterval: config.TimeDuration(DefaultSystemSampleInterval),
		ProcPath:             procfs.DefaultMountPoint,
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	return cfgDefaultKeyPrefix
}

// SetProviderDefaults sets default configuration values for monitoring in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyHistorySize, DefaultHistorySize)
	dp.SetDefault(cfgKeySystemSampleInterval, DefaultSystemSampleInterval)
	dp.SetDefault(cfgKeyProcPath, procfs.DefaultMountPoint)
}

// Set sets monitoring configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.HistorySize, err = dp.GetInt(cfgKeyHistorySize); err != nil {
		return err
	}
	if c.HistorySize <= 0 {
		return dp.WrapKeyErr(cfgKeyHistorySize, fmt.Errorf("should be > 0"))
	}
	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeySystemSampleInterval); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeySystemSampleInterval, fmt.Errorf("should be > 0"))
	}
	c.SystemSampleInterval = config.TimeDuration(dur)
	if c.ProcPath, err = dp.GetString(cfgKeyProcPath); err != nil {
		return err
	}
	return nil
}

// CollectorOpts returns options for the Collector built from the configuration.
func (c *Config) CollectorOpts() CollectorOpts {
	return CollectorOpts{
		HistorySize:          c.HistorySize,
		SystemSampleInterval: time.Duration(c.SystemSampleInterval),
		ProcPath:             c.ProcPath,
	}
}
