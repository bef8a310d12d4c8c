/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"time"

	"github.com/acronis/go-ratekit/config"
)

const cfgDefaultKeyPrefix = "rateLimit"

const (
	cfgKeyEnabled                     = "enabled"
	cfgKeyRules                       = "rules"
	cfgKeyMatchingInternalPathPrefix  = "matching.internalPathPrefix"
	cfgKeyMatchingPublicAPIPathPrefix = "matching.publicAPIPathPrefix"
	cfgKeyMatchingAuthPathMarkers     = "matching.authPathMarkers"
	cfgKeyExcludedPaths               = "excludedPaths"
	cfgKeyProtectedPaths              = "protectedPaths"
	cfgKeyErrorLogInterval            = "errorLogInterval"
)

// DefaultErrorLogInterval is the minimal interval between two logged store errors.
const DefaultErrorLogInterval = 10 * time.Second

// DefaultExcludedPaths are operational endpoints that are never rate limited.
var DefaultExcludedPaths = []string{
	"/health", "/healthz", "/readiness", "/liveness", "/metrics", "/docs", "/redoc", "/openapi.json",
}

// Config represents a set of configuration parameters for rate limiting.
type Config struct {
	Enabled  bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Rules    []RuleConfig        `mapstructure:"rules" yaml:"rules" json:"rules"`
	Matching MatchingConfigEntry `mapstructure:"matching" yaml:"matching" json:"matching"`

	// ExcludedPaths are path prefixes that bypass rate limiting.
	ExcludedPaths []string `mapstructure:"excludedPaths" yaml:"excludedPaths" json:"excludedPaths"`

	// ProtectedPaths, when set, switches the middleware to protect-list mode:
	// only listed paths (exact or glob patterns) are rate limited.
	ProtectedPaths []string `mapstructure:"protectedPaths" yaml:"protectedPaths" json:"protectedPaths"`

	ErrorLogInterval config.TimeDuration `mapstructure:"errorLogInterval" yaml:"errorLogInterval" json:"errorLogInterval"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// RuleConfig is a configuration of a single rule.
type RuleConfig struct {
	Name          string              `mapstructure:"name" yaml:"name" json:"name"`
	Rate          RateValue           `mapstructure:"rate" yaml:"rate" json:"rate"`
	Burst         int                 `mapstructure:"burst" yaml:"burst" json:"burst"`
	Algorithm     Algorithm           `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm"`
	Paths         []string            `mapstructure:"paths" yaml:"paths" json:"paths"`
	Methods       []string            `mapstructure:"methods" yaml:"methods" json:"methods"`
	UserBased     bool                `mapstructure:"userBased" yaml:"userBased" json:"userBased"`
	BlockDuration config.TimeDuration `mapstructure:"blockDuration" yaml:"blockDuration" json:"blockDuration"`
}

// MatchingConfigEntry is a configuration of rule matching.
type MatchingConfigEntry struct {
	InternalPathPrefix  string   `mapstructure:"internalPathPrefix" yaml:"internalPathPrefix" json:"internalPathPrefix"`
	PublicAPIPathPrefix string   `mapstructure:"publicAPIPathPrefix" yaml:"publicAPIPathPrefix" json:"publicAPIPathPrefix"`
	AuthPathMarkers     []string `mapstructure:"authPathMarkers" yaml:"authPathMarkers" json:"authPathMarkers"`
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	defaultRules := DefaultRules()
	ruleCfgs := make([]RuleConfig, 0, len(defaultRules))
	for _, rule := range defaultRules {
		ruleCfgs = append(ruleCfgs, makeRuleConfig(rule))
	}
	return &Config{
		Enabled: true,
		Rules:   ruleCfgs,
		Matching: MatchingConfigEntry{
			InternalPathPrefix:  DefaultInternalPathPrefix,
			PublicAPIPathPrefix: DefaultPublicAPIPathPrefix,
			AuthPathMarkers:     append([]string(nil), DefaultAuthPathMarkers...),
		},
		ExcludedPaths:    append([]string(nil), DefaultExcludedPaths...),
		ErrorLogInterval: config.TimeDuration(DefaultErrorLogInterval),
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	return cfgDefaultKeyPrefix
}

// SetProviderDefaults sets default configuration values for rate limiting in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyEnabled, true)
	dp.SetDefault(cfgKeyRules, defaultRawRules())
	dp.SetDefault(cfgKeyMatchingInternalPathPrefix, DefaultInternalPathPrefix)
	dp.SetDefault(cfgKeyMatchingPublicAPIPathPrefix, DefaultPublicAPIPathPrefix)
	dp.SetDefault(cfgKeyMatchingAuthPathMarkers, DefaultAuthPathMarkers)
	dp.SetDefault(cfgKeyExcludedPaths, DefaultExcludedPaths)
	dp.SetDefault(cfgKeyErrorLogInterval, DefaultErrorLogInterval)
}

// Set sets rate limiting configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}

	c.Rules = nil
	if err = dp.UnmarshalKey(cfgKeyRules, &c.Rules, config.WithDecodeHook()); err != nil {
		return err
	}
	if _, err = c.RuleSet(); err != nil {
		return dp.WrapKeyErr(cfgKeyRules, err)
	}

	if c.Matching.InternalPathPrefix, err = dp.GetString(cfgKeyMatchingInternalPathPrefix); err != nil {
		return err
	}
	if c.Matching.PublicAPIPathPrefix, err = dp.GetString(cfgKeyMatchingPublicAPIPathPrefix); err != nil {
		return err
	}
	if c.Matching.AuthPathMarkers, err = dp.GetStringSlice(cfgKeyMatchingAuthPathMarkers); err != nil {
		return err
	}

	if c.ExcludedPaths, err = dp.GetStringSlice(cfgKeyExcludedPaths); err != nil {
		return err
	}
	c.ProtectedPaths = nil
	if dp.IsSet(cfgKeyProtectedPaths) {
		if c.ProtectedPaths, err = dp.GetStringSlice(cfgKeyProtectedPaths); err != nil {
			return err
		}
		if c.ProtectedPaths == nil {
			c.ProtectedPaths = []string{}
		}
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyErrorLogInterval); err != nil {
		return err
	}
	if dur < 0 {
		return dp.WrapKeyErr(cfgKeyErrorLogInterval, fmt.Errorf("should be >= 0"))
	}
	c.ErrorLogInterval = config.TimeDuration(dur)

	return nil
}

// RuleSet builds and validates rules described by the configuration.
func (c *Config) RuleSet() (*RuleSet, error) {
	rules := make([]Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		rules = append(rules, rc.Rule())
	}
	return NewRuleSet(rules, c.MatchingConfig())
}

// MatchingConfig returns the rule matching configuration.
func (c *Config) MatchingConfig() MatchingConfig {
	return MatchingConfig{
		InternalPathPrefix:  c.Matching.InternalPathPrefix,
		PublicAPIPathPrefix: c.Matching.PublicAPIPathPrefix,
		AuthPathMarkers:     c.Matching.AuthPathMarkers,
	}
}

// Rule converts the configuration to a Rule. The window defaults to one minute and the algorithm to sliding window.
func (rc RuleConfig) Rule() Rule {
	window := rc.Rate.Duration
	if window == 0 {
		window = DefaultWindow
	}
	alg := rc.Algorithm
	if alg == "" {
		alg = AlgorithmSlidingWindow
	}
	return Rule{
		Name:              rc.Name,
		RequestsPerWindow: rc.Rate.Count,
		BurstSize:         rc.Burst,
		Window:            window,
		Algorithm:         alg,
		PathPrefixes:      rc.Paths,
		Methods:           rc.Methods,
		UserBased:         rc.UserBased,
		BlockDuration:     time.Duration(rc.BlockDuration),
	}
}

func makeRuleConfig(rule Rule) RuleConfig {
	return RuleConfig{
		Name:          rule.Name,
		Rate:          RateValue{Count: rule.RequestsPerWindow, Duration: rule.Window},
		Burst:         rule.BurstSize,
		Algorithm:     rule.Algorithm,
		Paths:         rule.PathPrefixes,
		Methods:       rule.Methods,
		UserBased:     rule.UserBased,
		BlockDuration: config.TimeDuration(rule.BlockDuration),
	}
}

// defaultRawRules returns default rules in the form they have in configuration files.
func defaultRawRules() []interface{} {
	defaultRules := DefaultRules()
	res := make([]interface{}, 0, len(defaultRules))
	for _, rule := range defaultRules {
		rc := makeRuleConfig(rule)
		raw := map[string]interface{}{
			"name":      rc.Name,
			"rate":      rc.Rate.String(),
			"burst":     rc.Burst,
			"algorithm": string(rc.Algorithm),
			"userBased": rc.UserBased,
		}
		if len(rc.Paths) != 0 {
			raw["paths"] = rc.Paths
		}
		if len(rc.Methods) != 0 {
			raw["methods"] = rc.Methods
		}
		if rc.BlockDuration != 0 {
			raw["blockDuration"] = rc.BlockDuration.String()
		}
		res = append(res, raw)
	}
	return res
}
