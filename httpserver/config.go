/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"errors"
	"time"

	"github.com/acronis/go-ratekit/config"
	"github.com/acronis/go-ratekit/httpserver/middleware"
)

const cfgDefaultKeyPrefix = "server"

const (
	cfgKeyAddress           = "address"
	cfgKeyUnixSocketPath    = "unixSocketPath"
	cfgKeyServiceNameHeader = "serviceNameHeader"

	cfgKeyTLSEnabled = "tls.enabled"
	cfgKeyTLSCert    = "tls.cert"
	cfgKeyTLSKey     = "tls.key"

	cfgKeyTimeoutsWrite      = "timeouts.write"
	cfgKeyTimeoutsRead       = "timeouts.read"
	cfgKeyTimeoutsReadHeader = "timeouts.readHeader"
	cfgKeyTimeoutsIdle       = "timeouts.idle"
	cfgKeyTimeoutsShutdown   = "timeouts.shutdown"

	cfgKeyLogRequestStart         = "log.requestStart"
	cfgKeyLogRequestHeaders       = "log.requestHeaders"
	cfgKeyLogExcludedEndpoints    = "log.excludedEndpoints"
	cfgKeyLogSecretQueryParams    = "log.secretQueryParams" // nolint:gosec // false positive
	cfgKeyLogAddRequestInfo       = "log.addRequestInfo"
	cfgKeyLogSlowRequestThreshold = "log.slowRequestThreshold"
)

// Default server settings. Scrape requests may wait for the distributed lock, so the write timeout is generous.
const (
	DefaultAddress              = ":8080"
	DefaultWriteTimeout         = time.Minute
	DefaultReadTimeout          = 15 * time.Second
	DefaultReadHeaderTimeout    = 10 * time.Second
	DefaultIdleTimeout          = time.Minute
	DefaultShutdownTimeout      = 5 * time.Second
	DefaultSlowRequestThreshold = time.Second
)

var defaultLogExcludedEndpoints = []string{"/healthz", "/metrics"}

// Config represents a set of configuration parameters for HTTPServer.
type Config struct {
	Address        string `mapstructure:"address" yaml:"address" json:"address"`
	UnixSocketPath string `mapstructure:"unixSocketPath" yaml:"unixSocketPath" json:"unixSocketPath"`

	// ServiceNameHeader identifies the calling service in request logs and in rate limit keys.
	ServiceNameHeader string `mapstructure:"serviceNameHeader" yaml:"serviceNameHeader" json:"serviceNameHeader"`

	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
	Log      LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
	TLS      TLSConfig      `mapstructure:"tls" yaml:"tls" json:"tls"`
}

// TimeoutsConfig contains timeouts of the underlying http.Server and the graceful shutdown timeout.
type TimeoutsConfig struct {
	Write      config.TimeDuration `mapstructure:"write" yaml:"write" json:"write"`
	Read       config.TimeDuration `mapstructure:"read" yaml:"read" json:"read"`
	ReadHeader config.TimeDuration `mapstructure:"readHeader" yaml:"readHeader" json:"readHeader"`
	Idle       config.TimeDuration `mapstructure:"idle" yaml:"idle" json:"idle"`
	Shutdown   config.TimeDuration `mapstructure:"shutdown" yaml:"shutdown" json:"shutdown"`
}

// LogConfig configures the request logging middleware.
type LogConfig struct {
	RequestStart           bool                `mapstructure:"requestStart" yaml:"requestStart" json:"requestStart"`
	RequestHeaders         []string            `mapstructure:"requestHeaders" yaml:"requestHeaders" json:"requestHeaders"`
	ExcludedEndpoints      []string            `mapstructure:"excludedEndpoints" yaml:"excludedEndpoints" json:"excludedEndpoints"`
	SecretQueryParams      []string            `mapstructure:"secretQueryParams" yaml:"secretQueryParams" json:"secretQueryParams"`
	AddRequestInfoToLogger bool                `mapstructure:"addRequestInfo" yaml:"addRequestInfo" json:"addRequestInfo"`
	SlowRequestThreshold   config.TimeDuration `mapstructure:"slowRequestThreshold" yaml:"slowRequestThreshold" json:"slowRequestThreshold"`
}

// TLSConfig enables HTTPS. Both files are required when it's enabled.
type TLSConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Certificate string `mapstructure:"cert" yaml:"cert" json:"cert"`
	Key         string `mapstructure:"key" yaml:"key" json:"key"`
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
		Address:           DefaultAddress,
		ServiceNameHeader: middleware.DefaultServiceNameHeader,
		Timeouts: TimeoutsConfig{
			Write:      config.TimeDuration(DefaultWriteTimeout),
			Read:       config.TimeDuration(DefaultReadTimeout),
			ReadHeader: config.TimeDuration(DefaultReadHeaderTimeout),
			Idle:       config.TimeDuration(DefaultIdleTimeout),
			Shutdown:   config.TimeDuration(DefaultShutdownTimeout),
		},
		Log: LogConfig{
			ExcludedEndpoints:    append([]string(nil), defaultLogExcludedEndpoints...),
			SlowRequestThreshold: config.TimeDuration(DefaultSlowRequestThreshold),
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return cfgDefaultKeyPrefix
}

// SetProviderDefaults sets default configuration values for HTTPServer in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	def := NewDefaultConfig()
	dp.SetDefault(cfgKeyAddress, def.Address)
	dp.SetDefault(cfgKeyServiceNameHeader, def.ServiceNameHeader)
	for _, d := range def.Timeouts.durations() {
		dp.SetDefault(d.key, time.Duration(*d.dst))
	}
	dp.SetDefault(cfgKeyLogRequestStart, false)
	dp.SetDefault(cfgKeyLogAddRequestInfo, false)
	dp.SetDefault(cfgKeyLogExcludedEndpoints, def.Log.ExcludedEndpoints)
	dp.SetDefault(cfgKeyLogSlowRequestThreshold, time.Duration(def.Log.SlowRequestThreshold))
}

// Set sets HTTPServer configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	err := setAll(dp,
		stringSetter(cfgKeyAddress, &c.Address),
		stringSetter(cfgKeyUnixSocketPath, &c.UnixSocketPath),
		stringSetter(cfgKeyServiceNameHeader, &c.ServiceNameHeader),
		boolSetter(cfgKeyTLSEnabled, &c.TLS.Enabled),
		stringSetter(cfgKeyTLSCert, &c.TLS.Certificate),
		stringSetter(cfgKeyTLSKey, &c.TLS.Key),
		boolSetter(cfgKeyLogRequestStart, &c.Log.RequestStart),
		stringsSetter(cfgKeyLogRequestHeaders, &c.Log.RequestHeaders),
		stringsSetter(cfgKeyLogExcludedEndpoints, &c.Log.ExcludedEndpoints),
		stringsSetter(cfgKeyLogSecretQueryParams, &c.Log.SecretQueryParams),
		boolSetter(cfgKeyLogAddRequestInfo, &c.Log.AddRequestInfoToLogger),
		durationSetter(cfgKeyLogSlowRequestThreshold, &c.Log.SlowRequestThreshold),
	)
	if err != nil {
		return err
	}
	for _, d := range c.Timeouts.durations() {
		if err = durationSetter(d.key, d.dst)(dp); err != nil {
			return err
		}
		if *d.dst < 0 {
			return dp.WrapKeyErr(d.key, errors.New("cannot be negative"))
		}
	}

	if c.Address == "" && c.UnixSocketPath == "" {
		return dp.WrapKeyErr(cfgKeyAddress, errors.New("either address or unixSocketPath should be set"))
	}
	if c.TLS.Enabled && (c.TLS.Certificate == "" || c.TLS.Key == "") {
		return dp.WrapKeyErr(cfgKeyTLSKey, errors.New("both cert and key should be set"))
	}
	return nil
}

type durationKey struct {
	key string
	dst *config.TimeDuration
}

func (t *TimeoutsConfig) durations() []durationKey {
	return []durationKey{
		{cfgKeyTimeoutsWrite, &t.Write},
		{cfgKeyTimeoutsRead, &t.Read},
		{cfgKeyTimeoutsReadHeader, &t.ReadHeader},
		{cfgKeyTimeoutsIdle, &t.Idle},
		{cfgKeyTimeoutsShutdown, &t.Shutdown},
	}
}

type setter func(dp config.DataProvider) error

func setAll(dp config.DataProvider, setters ...setter) error {
	for _, set := range setters {
		if err := set(dp); err != nil {
			return err
		}
	}
	return nil
}

func stringSetter(key string, dst *string) setter {
	return func(dp config.DataProvider) (err error) {
		*dst, err = dp.GetString(key)
		return err
	}
}

func stringsSetter(key string, dst *[]string) setter {
	return func(dp config.DataProvider) (err error) {
		*dst, err = dp.GetStringSlice(key)
		return err
	}
}

func boolSetter(key string, dst *bool) setter {
	return func(dp config.DataProvider) (err error) {
		*dst, err = dp.GetBool(key)
		return err
	}
}

func durationSetter(key string, dst *config.TimeDuration) setter {
	return func(dp config.DataProvider) error {
		dur, err := dp.GetDuration(key)
		if err != nil {
			return err
		}
		*dst = config.TimeDuration(dur)
		return nil
	}
}
