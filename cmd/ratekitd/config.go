/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"path/filepath"
	"strings"

	"github.com/acronis/go-ratekit/config"
	"github.com/acronis/go-ratekit/distlock"
	"github.com/acronis/go-ratekit/httpclient"
	"github.com/acronis/go-ratekit/httpserver"
	"github.com/acronis/go-ratekit/kvstore"
	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/monitoring"
	"github.com/acronis/go-ratekit/profserver"
	"github.com/acronis/go-ratekit/ratelimit"
	"github.com/acronis/go-ratekit/scraping"
)

const envVarsPrefix = "RATEKIT"

// AppConfig aggregates configurations of all daemon components.
type AppConfig struct {
	Log        *log.Config
	Server     *httpserver.Config
	KVStore    *kvstore.Config
	RateLimit  *ratelimit.Config
	Lock       *distlock.Config
	Scraping   *scraping.Config
	Monitoring *monitoring.Config
	HTTPClient *httpclient.Config
	ProfServer *profserver.Config
}

// NewAppConfig creates a new AppConfig with empty component configurations.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Log:        log.NewConfig(),
		Server:     httpserver.NewConfig(),
		KVStore:    kvstore.NewConfig(),
		RateLimit:  ratelimit.NewConfig(),
		Lock:       distlock.NewConfig(),
		Scraping:   scraping.NewConfig(),
		Monitoring: monitoring.NewConfig(),
		HTTPClient: httpclient.NewConfig(),
		ProfServer: profserver.NewConfig(),
	}
}

func (c *AppConfig) all() []config.Config {
	return []config.Config{c.Log, c.Server, c.KVStore, c.RateLimit, c.Lock, c.Scraping, c.Monitoring, c.HTTPClient, c.ProfServer}
}

// loadAppConfig reads the configuration file (if the path is not empty) and environment variables.
// Environment variables take precedence, e.g. RATEKIT_KVSTORE_REDIS_URL overrides kvstore.redis.url.
func loadAppConfig(path string) (*AppConfig, error) {
	cfg := NewAppConfig()
	cfgs := cfg.all()
	loader := config.NewDefaultLoader(envVarsPrefix)
	if path == "" {
		return cfg, loader.Load(cfgs[0], cfgs[1:]...)
	}
	return cfg, loader.LoadFromFile(path, dataTypeFromPath(path), cfgs[0], cfgs[1:]...)
}

func dataTypeFromPath(path string) config.DataType {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return config.DataTypeJSON
	}
	return config.DataTypeYAML
}
