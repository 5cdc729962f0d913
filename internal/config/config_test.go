// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, ":8090", cfg.Listen)
	require.Equal(t, "badger", cfg.Store)
	require.Equal(t, 24*time.Hour, cfg.TokenTTL)
	require.Equal(t, 10, cfg.RateLimits["register"].Limit)
	require.Equal(t, 20, cfg.RateLimits["exchange"].Limit)
	require.Equal(t, 5, cfg.RateLimits["revoke"].Limit)
	require.Equal(t, 30, cfg.RateLimits["verify"].Limit)
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokend.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
listen: ":9999"
log_level: debug
token_ttl: 48h
blacklist:
  - bad-token-1
rate_limits:
  register:
    limit: 3
    window: 1m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Listen)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 48*time.Hour, cfg.TokenTTL)
	require.Equal(t, []string{"bad-token-1"}, cfg.Blacklist)
	// The file overrides one window; the other scopes keep their defaults.
	want := map[string]RateWindow{
		"register": {Limit: 3, Window: time.Minute},
		"exchange": {Limit: 20, Window: 15 * time.Minute},
		"revoke":   {Limit: 5, Window: 15 * time.Minute},
		"verify":   {Limit: 30, Window: 15 * time.Minute},
	}
	if diff := cmp.Diff(want, cfg.RateLimits); diff != "" {
		t.Errorf("rate limits mismatch (-want +got):\n%s", diff)
	}
	// Untouched fields keep their defaults.
	require.Equal(t, "badger", cfg.Store)
}

func TestLoadEnvironmentWinsOverFile(t *testing.T) {
	path := writeConfigFile(t, `listen: ":9999"`)
	t.Setenv("WALKIE_LISTEN", ":7777")
	t.Setenv("WALKIE_TOKEN_TTL", "1h")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.Listen)
	require.Equal(t, time.Hour, cfg.TokenTTL)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty listen":    func(c *Config) { c.Listen = "" },
		"unknown store":   func(c *Config) { c.Store = "etcd" },
		"badger no dir":   func(c *Config) { c.DataDir = "" },
		"redis no addr":   func(c *Config) { c.Store = "redis"; c.Redis.Addr = "" },
		"zero ttl":        func(c *Config) { c.TokenTTL = 0 },
		"bad rate window": func(c *Config) { c.RateLimits = map[string]RateWindow{"register": {Limit: 0, Window: time.Minute}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestParseHelpers(t *testing.T) {
	t.Setenv("WALKIE_TEST_STR", "value")
	t.Setenv("WALKIE_TEST_INT", "42")
	t.Setenv("WALKIE_TEST_BAD_INT", "nope")
	t.Setenv("WALKIE_TEST_BOOL", "true")
	t.Setenv("WALKIE_TEST_DUR", "90s")

	require.Equal(t, "value", ParseString("WALKIE_TEST_STR", "default"))
	require.Equal(t, "default", ParseString("WALKIE_TEST_UNSET", "default"))
	require.Equal(t, 42, ParseInt("WALKIE_TEST_INT", 1))
	require.Equal(t, 1, ParseInt("WALKIE_TEST_BAD_INT", 1))
	require.True(t, ParseBool("WALKIE_TEST_BOOL", false))
	require.Equal(t, 90*time.Second, ParseDuration("WALKIE_TEST_DUR", time.Minute))
	require.Equal(t, time.Minute, ParseDuration("WALKIE_TEST_UNSET", time.Minute))
}

func TestHolderReload(t *testing.T) {
	path := writeConfigFile(t, `listen: ":9999"`)
	initial, err := Load(path)
	require.NoError(t, err)

	h := NewHolder(initial, path)
	updates := make(chan Config, 1)
	h.Subscribe(updates)

	require.NoError(t, os.WriteFile(path, []byte(`listen: ":6666"`), 0o600))
	require.NoError(t, h.Reload(context.Background()))
	require.Equal(t, ":6666", h.Get().Listen)

	select {
	case next := <-updates:
		require.Equal(t, ":6666", next.Listen)
	default:
		t.Fatal("subscriber not notified")
	}
}

func TestHolderKeepsPreviousOnBadReload(t *testing.T) {
	path := writeConfigFile(t, `listen: ":9999"`)
	initial, err := Load(path)
	require.NoError(t, err)

	h := NewHolder(initial, path)
	require.NoError(t, os.WriteFile(path, []byte(`listen: ""`), 0o600))
	require.Error(t, h.Reload(context.Background()))
	require.Equal(t, ":9999", h.Get().Listen)
}
