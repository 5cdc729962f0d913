// SPDX-License-Identifier: MIT

// Package config loads and validates tokend configuration from the
// environment and an optional YAML file. Environment variables win over
// file values; file values win over defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateWindow configures one fixed rate-limit window.
type RateWindow struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig holds OTLP tracing settings.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"` // "grpc", "http" or "noop"
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

// Config is the tokend daemon configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	// Store selects the registry backend: "badger" or "redis".
	Store   string      `yaml:"store"`
	DataDir string      `yaml:"data_dir"`
	Redis   RedisConfig `yaml:"redis"`

	// PushGatewayURL is where exchange notifications are posted.
	// Empty disables push delivery (exchanges still log).
	PushGatewayURL string  `yaml:"push_gateway_url"`
	PushRatePerSec float64 `yaml:"push_rate_per_sec"`
	PushBurst      int     `yaml:"push_burst"`

	// Blacklist is the static list of banned tokens.
	Blacklist []string `yaml:"blacklist"`

	// TokenTTL is the registration expiry window.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// Per-endpoint fixed-window limits, keyed by scope.
	RateLimits map[string]RateWindow `yaml:"rate_limits"`

	// GlobalRPM is the outer per-IP request limit (requests per minute).
	GlobalRPM int `yaml:"global_rpm"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:         ":8090",
		LogLevel:       "info",
		Store:          "badger",
		DataDir:        "./data",
		PushRatePerSec: 5,
		PushBurst:      10,
		TokenTTL:       24 * time.Hour,
		RateLimits: map[string]RateWindow{
			"register": {Limit: 10, Window: 15 * time.Minute},
			"exchange": {Limit: 20, Window: 15 * time.Minute},
			"revoke":   {Limit: 5, Window: 15 * time.Minute},
			"verify":   {Limit: 30, Window: 15 * time.Minute},
		},
		GlobalRPM: 600,
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ExporterType: "noop",
			SamplingRate: 1.0,
			Environment:  "development",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Listen = ParseString("WALKIE_LISTEN", cfg.Listen)
	cfg.LogLevel = ParseString("WALKIE_LOG_LEVEL", cfg.LogLevel)
	cfg.Store = ParseString("WALKIE_STORE", cfg.Store)
	cfg.DataDir = ParseString("WALKIE_DATA_DIR", cfg.DataDir)
	cfg.Redis.Addr = ParseString("WALKIE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString("WALKIE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt("WALKIE_REDIS_DB", cfg.Redis.DB)
	cfg.PushGatewayURL = ParseString("WALKIE_PUSH_GATEWAY_URL", cfg.PushGatewayURL)
	cfg.TokenTTL = ParseDuration("WALKIE_TOKEN_TTL", cfg.TokenTTL)
	cfg.GlobalRPM = ParseInt("WALKIE_GLOBAL_RPM", cfg.GlobalRPM)
	cfg.Telemetry.Enabled = ParseBool("WALKIE_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = ParseString("WALKIE_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.ExporterType = ParseString("WALKIE_OTEL_EXPORTER", cfg.Telemetry.ExporterType)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot serve.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	switch c.Store {
	case "badger":
		if c.DataDir == "" {
			return fmt.Errorf("badger store requires data_dir")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis store requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown store %q (expected badger or redis)", c.Store)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	for scope, rw := range c.RateLimits {
		if rw.Limit <= 0 || rw.Window <= 0 {
			return fmt.Errorf("rate limit %q: limit and window must be positive", scope)
		}
	}
	return nil
}
