// SPDX-License-Identifier: MIT

package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextDelayTable(t *testing.T) {
	p := Policy{
		BaseDelay:  1000 * time.Millisecond,
		MaxDelay:   30000 * time.Millisecond,
		Multiplier: 2,
		MaxRetries: 5,
	}
	require.NoError(t, p.Validate())

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	for attempt, expected := range want {
		require.Equal(t, expected, p.NextDelay(attempt), "attempt %d", attempt)
	}
}

func TestNextDelayMonotonicAndClamped(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 3 * time.Second, Multiplier: 2, MaxRetries: 20}

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := p.NextDelay(attempt)
		require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		require.LessOrEqual(t, d, p.MaxDelay)
		prev = d
	}
	require.Equal(t, p.MaxDelay, p.NextDelay(19))
}

func TestNextDelaySaturatesWithoutOverflow(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 10, MaxRetries: 1000}
	// A naive power computation overflows long before attempt 500.
	require.Equal(t, time.Minute, p.NextDelay(500))
}

func TestNextDelayAttemptZeroAndNegative(t *testing.T) {
	p := DefaultPolicy()
	require.Equal(t, p.BaseDelay, p.NextDelay(0))
	require.Equal(t, p.BaseDelay, p.NextDelay(-3))
}

func TestShouldRetryBoundary(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, MaxRetries: 5}
	require.True(t, p.ShouldRetry(0))
	require.True(t, p.ShouldRetry(p.MaxRetries-1))
	require.False(t, p.ShouldRetry(p.MaxRetries))
	require.False(t, p.ShouldRetry(p.MaxRetries+1))
}

func TestValidateRejectsBadPolicies(t *testing.T) {
	cases := []Policy{
		{BaseDelay: 0, MaxDelay: time.Second, Multiplier: 2, MaxRetries: 1},
		{BaseDelay: 2 * time.Second, MaxDelay: time.Second, Multiplier: 2, MaxRetries: 1},
		{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 0.5, MaxRetries: 1},
		{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, MaxRetries: 0},
	}
	for i, p := range cases {
		require.Error(t, p.Validate(), "case %d", i)
	}
}
