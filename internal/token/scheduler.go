// SPDX-License-Identifier: MIT

// Package token owns the client-side push token lifecycle: acquisition,
// periodic revalidation, renewal and invalidation. Failures surface as
// state, never as panics or callbacks throwing across the boundary.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sambitos23/walkie-lazy/internal/log"
	"github.com/sambitos23/walkie-lazy/internal/metrics"
)

var (
	// ErrClosed is returned once the scheduler has been closed.
	ErrClosed = errors.New("token scheduler closed")
	// ErrSuperseded is returned when an in-flight operation finished
	// after the scheduler was invalidated or reset; its result was
	// discarded.
	ErrSuperseded = errors.New("token operation superseded")
	// ErrRejected is returned when the validation service explicitly
	// rejects a token, either right after acquisition or during
	// periodic validation.
	ErrRejected = errors.New("token rejected by validation service")
)

// State is the immutable token snapshot. Every mutation replaces the
// whole record so observers never see an inconsistent Token/Valid pair.
type State struct {
	Token   string
	Valid   bool
	Loading bool
	Err     string
}

// Provider acquires a fresh push token from the platform.
type Provider interface {
	Acquire(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

// Acquire implements Provider.
func (f ProviderFunc) Acquire(ctx context.Context) (string, error) { return f(ctx) }

// VerifyOutcome is the remote validation verdict.
type VerifyOutcome struct {
	Valid   bool
	Reasons []string
}

// Validator checks a token against the remote validation service.
type Validator interface {
	Validate(ctx context.Context, token string) (VerifyOutcome, error)
}

// Registrar registers a freshly acquired token with the registry.
type Registrar interface {
	Register(ctx context.Context, token string) error
}

// Options configures a Scheduler.
type Options struct {
	Provider           Provider
	Validator          Validator
	Registrar          Registrar // optional
	Cache              *Cache    // optional
	ValidationInterval time.Duration
	CallTimeout        time.Duration
	OnChange           func(State) // optional, called outside locks
}

// Scheduler drives the token lifecycle for one endpoint.
type Scheduler struct {
	mu    sync.Mutex
	opts  Options
	sf    singleflight.Group
	state State
	alive bool
	gen   uint64
	timer *time.Timer

	logger zerolog.Logger
}

// NewScheduler creates a live scheduler with an empty token state.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("token scheduler requires a provider")
	}
	if opts.Validator == nil {
		return nil, fmt.Errorf("token scheduler requires a validator")
	}
	if opts.ValidationInterval <= 0 {
		opts.ValidationInterval = 5 * time.Minute
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	return &Scheduler{
		opts:   opts,
		alive:  true,
		logger: log.WithComponent("token"),
	}, nil
}

// State returns the current snapshot.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bootstrap adopts a cached token if it still validates, otherwise
// acquires a fresh one.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	if s.opts.Cache != nil {
		if cached, ok := s.opts.Cache.Load(); ok {
			vctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
			outcome, err := s.opts.Validator.Validate(vctx, cached)
			cancel()
			if err == nil && outcome.Valid {
				s.mu.Lock()
				if !s.alive {
					s.mu.Unlock()
					return ErrClosed
				}
				s.state = State{Token: cached, Valid: true}
				s.armValidationLocked()
				s.mu.Unlock()
				s.notify()
				s.logger.Info().Str(log.FieldEvent, "token.cached_adopted").Msg("reusing cached token")
				return nil
			}
			s.logger.Debug().Str(log.FieldEvent, "token.cached_stale").Msg("cached token no longer valid")
		}
	}
	return s.Acquire(ctx)
}

// Acquire requests a fresh token. Concurrent callers coalesce onto one
// provider call; everyone observes the same result.
func (s *Scheduler) Acquire(_ context.Context) error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return ErrClosed
	}
	gen := s.gen
	next := s.state
	next.Loading = true
	next.Err = ""
	s.state = next
	s.mu.Unlock()
	s.notify()

	// The coalesced call runs on its own deadline so a cancelled
	// joiner cannot abort the acquisition for everyone else.
	v, err, _ := s.sf.Do("acquire", func() (any, error) {
		cctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
		defer cancel()
		tok, err := s.opts.Provider.Acquire(cctx)
		if err != nil {
			return nil, fmt.Errorf("acquire token: %w", err)
		}
		if s.opts.Registrar != nil {
			if err := s.opts.Registrar.Register(cctx, tok); err != nil {
				return nil, fmt.Errorf("register token: %w", err)
			}
		}
		// A fresh token the validation service refuses (blacklisted
		// device, malformed platform token) is an authentication
		// problem, not a transport one. Transport failures during this
		// check keep the token; the periodic loop re-checks it.
		outcome, verr := s.opts.Validator.Validate(cctx, tok)
		if verr == nil && !outcome.Valid {
			return nil, fmt.Errorf("%w: %v", ErrRejected, outcome.Reasons)
		}
		return tok, nil
	})

	s.mu.Lock()
	if !s.alive || gen != s.gen {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		s.state = State{Err: err.Error()}
		s.mu.Unlock()
		s.notify()
		result := "error"
		if errors.Is(err, ErrRejected) {
			result = "rejected"
		}
		metrics.RecordTokenOp("acquire", result)
		return err
	}
	tok := v.(string)
	s.state = State{Token: tok, Valid: true}
	s.armValidationLocked()
	s.mu.Unlock()
	s.notify()

	if s.opts.Cache != nil {
		if cerr := s.opts.Cache.Store(tok); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("failed to persist token cache")
		}
	}
	metrics.RecordTokenOp("acquire", "ok")
	s.logger.Info().Str(log.FieldEvent, "token.acquired").Int(log.FieldTokenLen, len(tok)).Msg("token acquired")
	return nil
}

// Refresh replaces the current token, cancelling any pending validation
// timer first. Coalesces with concurrent Acquire calls.
func (s *Scheduler) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return ErrClosed
	}
	s.stopTimerLocked()
	s.mu.Unlock()
	metrics.RecordTokenOp("refresh", "requested")
	return s.Acquire(ctx)
}

// Invalidate synchronously clears token state and cancels all pending
// timers. Idempotent. In-flight operations that settle later are
// dropped via the generation check.
func (s *Scheduler) Invalidate() {
	s.mu.Lock()
	s.gen++
	s.stopTimerLocked()
	s.state = State{}
	s.mu.Unlock()
	s.notify()
	metrics.RecordTokenOp("invalidate", "ok")
}

// Close makes the scheduler inert. No continuation mutates state after
// Close returns.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.alive = false
	s.gen++
	s.stopTimerLocked()
	s.mu.Unlock()
}

// armValidationLocked schedules the next periodic validation. Caller
// holds s.mu.
func (s *Scheduler) armValidationLocked() {
	s.stopTimerLocked()
	gen := s.gen
	s.timer = time.AfterFunc(s.opts.ValidationInterval, func() {
		s.onValidateFire(gen)
	})
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// onValidateFire runs one periodic validation. The generation captured
// at arm time guards against firing after a reset: state can change
// between arm and fire.
func (s *Scheduler) onValidateFire(gen uint64) {
	s.mu.Lock()
	if !s.alive || gen != s.gen || s.state.Token == "" {
		s.mu.Unlock()
		return
	}
	tok := s.state.Token
	s.mu.Unlock()

	vctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
	outcome, err := s.opts.Validator.Validate(vctx, tok)
	cancel()

	s.mu.Lock()
	if !s.alive || gen != s.gen {
		s.mu.Unlock()
		return
	}
	switch {
	case err != nil:
		// Transient validation transport failure: keep the token and
		// try again next interval.
		s.logger.Warn().Err(err).Str(log.FieldEvent, "token.validate_error").Msg("periodic validation failed")
		s.armValidationLocked()
		s.mu.Unlock()
		metrics.RecordTokenOp("validate", "error")
	case !outcome.Valid:
		s.state = State{Token: tok, Err: ErrRejected.Error()}
		s.stopTimerLocked()
		s.mu.Unlock()
		s.notify()
		metrics.RecordTokenOp("validate", "rejected")
		s.logger.Info().
			Str(log.FieldEvent, "token.invalidated").
			Strs(log.FieldReasons, outcome.Reasons).
			Msg("token rejected by validation service")
	default:
		s.armValidationLocked()
		s.mu.Unlock()
		metrics.RecordTokenOp("validate", "ok")
	}
}

func (s *Scheduler) notify() {
	if s.opts.OnChange == nil {
		return
	}
	s.mu.Lock()
	snapshot := s.state
	s.mu.Unlock()
	s.opts.OnChange(snapshot)
}
