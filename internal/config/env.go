// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sambitos23/walkie-lazy/internal/log"
)

// ParseString reads a string from the environment or returns the default.
// The source (environment or default) is logged for observability; values
// of keys that look sensitive are never logged.
func ParseString(key, defaultValue string) string {
	return parseString(log.WithComponent("config"), key, defaultValue)
}

func parseString(logger zerolog.Logger, key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	lower := strings.ToLower(key)
	if strings.Contains(lower, "token") || strings.Contains(lower, "password") || strings.Contains(lower, "secret") {
		logger.Debug().Str("key", key).Str("source", "environment").Bool("sensitive", true).Msg("using environment variable")
	} else {
		logger.Debug().Str("key", key).Str("value", value).Str("source", "environment").Msg("using environment variable")
	}
	return value
}

// ParseInt reads an integer from the environment or returns the default.
// Malformed values fall back to the default with a warning.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		logger.Warn().Str("key", key).Str("value", value).Int("default", defaultValue).
			Msg("invalid integer in environment, using default")
		return defaultValue
	}
	return n
}

// ParseBool reads a boolean from the environment or returns the default.
func ParseBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().Str("key", key).Str("value", value).
			Bool("default", defaultValue).Msg("invalid boolean in environment, using default")
		return defaultValue
	}
	return b
}

// ParseDuration reads a duration from the environment or returns the default.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().Str("key", key).Str("value", value).
			Dur("default", defaultValue).Msg("invalid duration in environment, using default")
		return defaultValue
	}
	return d
}
