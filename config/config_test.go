/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testServerConfig struct {
	Address string
	Timeout time.Duration
}

func (c *testServerConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("server.addr", ":80")
	dp.SetDefault("server.timeout", 5*time.Second)
}

func (c *testServerConfig) Set(dp DataProvider) error {
	var err error
	if c.Address, err = dp.GetString("server.addr"); err != nil {
		return err
	}
	c.Timeout, err = dp.GetDuration("server.timeout")
	return err
}

type testLockConfig struct {
	Expire  time.Duration
	Methods []string
	Mode    string
	MaxSize ByteSize
}

func (c *testLockConfig) KeyPrefix() string {
	return "lock"
}

func (c *testLockConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("expire", time.Hour)
	dp.SetDefault("mode", "strict")
}

func (c *testLockConfig) Set(dp DataProvider) error {
	var err error
	if c.Expire, err = dp.GetDuration("expire"); err != nil {
		return err
	}
	if c.Methods, err = dp.GetStringSlice("methods"); err != nil {
		return err
	}
	if c.Mode, err = dp.GetStringFromSet("mode", []string{"strict", "lenient"}, true); err != nil {
		return err
	}
	c.MaxSize, err = dp.GetByteSize("maxSize")
	return err
}

func TestLoader_LoadFromReader(t *testing.T) {
	t.Run("defaults are used", func(t *testing.T) {
		srvCfg := &testServerConfig{}
		err := NewLoader(NewViperAdapter()).LoadFromReader(bytes.NewBufferString(`{}`), DataTypeJSON, srvCfg)
		require.NoError(t, err)
		require.Equal(t, ":80", srvCfg.Address)
		require.Equal(t, 5*time.Second, srvCfg.Timeout)
	})

	t.Run("values from yaml, integers are seconds", func(t *testing.T) {
		srvCfg := &testServerConfig{}
		lockCfg := &testLockConfig{}
		cfgData := `
server:
  addr: ":9090"
  timeout: 30
lock:
  expire: 15m
  methods: "GET, POST"
  mode: LENIENT
  maxSize: 10Mi
`
		err := NewLoader(NewViperAdapter()).LoadFromReader(bytes.NewBufferString(cfgData), DataTypeYAML, srvCfg, lockCfg)
		require.NoError(t, err)
		require.Equal(t, ":9090", srvCfg.Address)
		require.Equal(t, 30*time.Second, srvCfg.Timeout)
		require.Equal(t, 15*time.Minute, lockCfg.Expire)
		require.Equal(t, []string{"GET", "POST"}, lockCfg.Methods)
		require.Equal(t, "LENIENT", lockCfg.Mode)
		require.Equal(t, ByteSize(10*1024*1024), lockCfg.MaxSize)
	})

	t.Run("value out of set", func(t *testing.T) {
		err := NewLoader(NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString(`{"lock":{"mode":"chaotic"}}`), DataTypeJSON, &testLockConfig{})
		require.EqualError(t, err, `lock.mode: unknown value "chaotic", should be one of [strict lenient]`)
	})
}

func TestLoader_LoadWithEnvVars(t *testing.T) {
	require.NoError(t, os.Setenv("RATEKITTEST_LOCK_EXPIRE", "3600"))
	defer func() { _ = os.Unsetenv("RATEKITTEST_LOCK_EXPIRE") }()

	lockCfg := &testLockConfig{}
	require.NoError(t, NewDefaultLoader("ratekittest").Load(lockCfg))
	require.Equal(t, time.Hour, lockCfg.Expire)
	require.Equal(t, "strict", lockCfg.Mode)
}

func TestUnmarshalWithDecodeHook(t *testing.T) {
	type ruleConfig struct {
		Name  string       `mapstructure:"name"`
		Block TimeDuration `mapstructure:"block"`
		Paths []string     `mapstructure:"paths"`
	}
	va := NewViperAdapter()
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(`
rules:
  - name: auth
    block: 15m
    paths: [" /api/v1/auth/login ", "/api/v1/auth/register"]
  - name: default
    block: 300
`), DataTypeYAML))

	var rules []ruleConfig
	require.NoError(t, NewKeyPrefixedDataProvider(va, "").UnmarshalKey("rules", &rules, WithDecodeHook()))
	require.Len(t, rules, 2)
	require.Equal(t, TimeDuration(15*time.Minute), rules[0].Block)
	require.Equal(t, []string{"/api/v1/auth/login", "/api/v1/auth/register"}, rules[0].Paths)
	require.Equal(t, TimeDuration(300*time.Second), rules[1].Block)
}

func TestByteSizeAndTimeDurationParsing(t *testing.T) {
	var bs ByteSize
	require.NoError(t, bs.UnmarshalJSON([]byte(`"250MB"`)))
	require.Equal(t, ByteSize(250*1024*1024), bs)
	require.NoError(t, bs.UnmarshalJSON([]byte(`1024`)))
	require.Equal(t, ByteSize(1024), bs)
	require.Error(t, bs.UnmarshalJSON([]byte(`"-1"`)))

	var d TimeDuration
	require.NoError(t, d.UnmarshalText([]byte("1h30m")))
	require.Equal(t, TimeDuration(90*time.Minute), d)
	require.NoError(t, d.UnmarshalJSON([]byte(`900`)))
	require.Equal(t, TimeDuration(15*time.Minute), d)
	require.Error(t, d.UnmarshalText([]byte("soon")))
}
