/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scraping

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekit/config"
	"github.com/acronis/go-ratekit/distlock"
	"github.com/acronis/go-ratekit/retry"
)

func TestConfig_Set(t *testing.T) {
	tests := []struct {
		name        string
		cfgData     string
		expectedCfg func() *Config
		expectedErr string
	}{
		{
			name:        "defaults",
			cfgData:     `{}`,
			expectedCfg: NewDefaultConfig,
		},
		{
			name: "custom values",
			cfgData: `
scraping:
  scraperURL: http://scraper:8080
  runTimeout: 10m
  retry:
    maxAttempts: 0
    initialInterval: 1s
  schedule:
    enabled: true
    interval: 6h
    initialDelay: 0s
    sources: ["1", "2"]
`,
			expectedCfg: func() *Config {
				return &Config{
					ScraperURL: "http://scraper:8080",
					RunTimeout: config.TimeDuration(10 * time.Minute),
					Retry:      RetryConfig{InitialInterval: config.TimeDuration(time.Second)},
					Schedule: ScheduleConfig{
						Enabled:  true,
						Interval: config.TimeDuration(6 * time.Hour),
						Sources:  []string{"1", "2"},
					},
				}
			},
		},
		{
			name:        "relative scraper url",
			cfgData:     "scraping:\n  scraperURL: scraper/api\n",
			expectedErr: "scraping.scraperURL: should be an absolute URL",
		},
		{
			name:        "zero run timeout",
			cfgData:     "scraping:\n  runTimeout: 0s\n",
			expectedErr: "scraping.runTimeout: should be > 0",
		},
		{
			name:        "negative initial delay",
			cfgData:     "scraping:\n  schedule:\n    initialDelay: -1s\n",
			expectedErr: "scraping.schedule.initialDelay: cannot be negative",
		},
		{
			name:        "negative retry attempts",
			cfgData:     "scraping:\n  retry:\n    maxAttempts: -1\n",
			expectedErr: "scraping.retry.maxAttempts: cannot be negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
				bytes.NewBufferString(tt.cfgData), config.DataTypeYAML, cfg)
			if tt.expectedErr != "" {
				require.EqualError(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expectedCfg(), cfg)
		})
	}
}

func TestConfig_ManagerOpts(t *testing.T) {
	cfg := NewDefaultConfig()
	lockCfg := distlock.NewDefaultConfig()
	lockCfg.Expire = config.TimeDuration(2 * time.Hour)

	opts := cfg.ManagerOpts(lockCfg)
	require.Equal(t, 2*time.Hour, opts.LockExpire)
	require.Equal(t, distlock.DefaultWaitTimeout, opts.LockWaitTimeout)
	require.Equal(t, DefaultRunTimeout, opts.RunTimeout)
	require.Equal(t, retry.NewExponentialBackoffPolicy(DefaultRetryInitialInterval, DefaultRetryMaxAttempts), opts.RetryPolicy)

	cfg.Retry.MaxAttempts = 0
	require.Nil(t, cfg.ManagerOpts(nil).RetryPolicy)
}
