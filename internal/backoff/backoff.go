// SPDX-License-Identifier: MIT

// Package backoff computes retry delays for the connection lifecycle
// manager. It is purely advisory: it decides delay and limit, it never
// schedules anything itself.
package backoff

import (
	"fmt"
	"time"
)

// Policy is an immutable exponential backoff configuration.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	MaxRetries int
}

// DefaultPolicy matches the tuning the client ships with.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
		MaxRetries: 5,
	}
}

// Validate rejects non-positive configuration values.
func (p Policy) Validate() error {
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive")
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay must be >= base delay")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1")
	}
	if p.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	return nil
}

// NextDelay returns min(BaseDelay * Multiplier^attempt, MaxDelay).
// attempt 0 yields BaseDelay. The growth saturates instead of
// overflowing, so large attempt values clamp cleanly to MaxDelay.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.BaseDelay
	}
	d := float64(p.BaseDelay)
	limit := float64(p.MaxDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if d >= limit {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

// ShouldRetry reports whether another attempt is allowed after the given
// number of completed attempts.
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxRetries
}
