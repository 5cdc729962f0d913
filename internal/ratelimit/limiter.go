// SPDX-License-Identifier: MIT

// Package ratelimit implements the fixed-window per-caller limiter used
// by the token registry API. Each (caller, scope) pair gets an
// independent counting window; the limiter reports full accounting so
// responses can carry limit/remaining/reset fields.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rejectedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "walkie",
		Name:      "ratelimit_rejected_total",
		Help:      "Requests rejected by the fixed-window limiter",
	},
	[]string{"scope"},
)

// Scope identifies one rate-limited operation class.
type Scope string

const (
	ScopeRegister Scope = "register"
	ScopeExchange Scope = "exchange"
	ScopeRevoke   Scope = "revoke"
	ScopeVerify   Scope = "verify"
)

// Window configures one fixed window.
type Window struct {
	Limit  int
	Window time.Duration
}

// Config maps scopes to their windows.
type Config map[Scope]Window

// DefaultConfig returns the registry's endpoint limits.
func DefaultConfig() Config {
	return Config{
		ScopeRegister: {Limit: 10, Window: 15 * time.Minute},
		ScopeExchange: {Limit: 20, Window: 15 * time.Minute},
		ScopeRevoke:   {Limit: 5, Window: 15 * time.Minute},
		ScopeVerify:   {Limit: 30, Window: 15 * time.Minute},
	}
}

// Result is the accounting outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration // zero when allowed
}

// clock abstracts time for tests.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type window struct {
	start time.Time
	count int
}

// Limiter counts requests per (key, scope) in fixed windows.
type Limiter struct {
	mu          sync.Mutex
	cfg         Config
	windows     map[string]*window
	clock       clock
	lastCleanup time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock for tests.
func WithClock(c clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// New creates a limiter with the given per-scope windows.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		clock:   realClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastCleanup = l.clock.Now()
	return l
}

// Replace swaps the scope configuration; live windows keep their counts.
func (l *Limiter) Replace(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}

// Allow counts one request for key under scope and reports the outcome.
// A scope with no configured window always allows.
func (l *Limiter) Allow(key string, scope Scope) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, ok := l.cfg[scope]
	if !ok || cfg.Limit <= 0 {
		return Result{Allowed: true}
	}

	now := l.clock.Now()
	l.maybeCleanup(now)

	id := string(scope) + ":" + key
	w, exists := l.windows[id]
	if !exists || now.Sub(w.start) >= cfg.Window {
		w = &window{start: now}
		l.windows[id] = w
	}

	reset := w.start.Add(cfg.Window)
	if w.count >= cfg.Limit {
		rejectedTotal.WithLabelValues(string(scope)).Inc()
		return Result{
			Allowed:    false,
			Limit:      cfg.Limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset.Sub(now),
		}
	}

	w.count++
	return Result{
		Allowed:   true,
		Limit:     cfg.Limit,
		Remaining: cfg.Limit - w.count,
		Reset:     reset,
	}
}

// maybeCleanup drops windows that ended before the previous sweep. Called
// with l.mu held.
func (l *Limiter) maybeCleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < 5*time.Minute {
		return
	}
	for id, w := range l.windows {
		expired := true
		for _, cfg := range l.cfg {
			if now.Sub(w.start) < cfg.Window {
				expired = false
				break
			}
		}
		if expired {
			delete(l.windows, id)
		}
	}
	l.lastCleanup = now
}
