// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sambitos23/walkie-lazy/internal/log"
)

// Operation errors surfaced to the API layer.
var (
	ErrInvalidToken = errors.New("token failed validation")
	ErrBadRequest   = errors.New("invalid request")
)

// PushSender delivers a wake-up notification to the device owning a
// token. Implementations must not block indefinitely; delivery failure
// does not abort an exchange.
type PushSender interface {
	Send(ctx context.Context, token, fromUserID, message string) error
}

// clock abstracts time for tests.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Blacklist is a concurrency-safe set of banned tokens.
type Blacklist struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewBlacklist builds a blacklist from the given tokens.
func NewBlacklist(tokens []string) *Blacklist {
	b := &Blacklist{set: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		b.set[t] = struct{}{}
	}
	return b
}

// Contains reports whether token is banned.
func (b *Blacklist) Contains(token string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.set[token]
	return ok
}

// Replace swaps the banned set.
func (b *Blacklist) Replace(tokens []string) {
	next := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		next[t] = struct{}{}
	}
	b.mu.Lock()
	b.set = next
	b.mu.Unlock()
}

// Service implements registry semantics on top of a Store.
type Service struct {
	store     Store
	blacklist *Blacklist
	push      PushSender
	ttl       time.Duration
	clock     clock
	logger    zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a clock for tests.
func WithClock(c clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithPushSender wires push delivery for exchanges. Without one,
// exchanges only log.
func WithPushSender(p PushSender) Option {
	return func(s *Service) { s.push = p }
}

// NewService creates a registry service. ttl is the expiry window
// measured from a record's last update.
func NewService(store Store, blacklist *Blacklist, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		store:     store,
		blacklist: blacklist,
		ttl:       ttl,
		clock:     realClock{},
		logger:    log.WithComponent("registry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Blacklist exposes the live blacklist (for config reload).
func (s *Service) Blacklist() *Blacklist { return s.blacklist }

// Register inserts or updates a token record. Re-registration refreshes
// the expiry window and clears nothing else; an invalidated token can be
// re-registered fresh.
func (s *Service) Register(ctx context.Context, token, userID string, metadata map[string]string) error {
	if len(token) < MinTokenLength || len(token) > MaxTokenLength {
		return fmt.Errorf("%w: token length %d outside [%d,%d]", ErrBadRequest, len(token), MinTokenLength, MaxTokenLength)
	}
	if userID == "" {
		return fmt.Errorf("%w: userId required", ErrBadRequest)
	}

	now := s.clock.Now()
	rec := &Record{
		Token:     token,
		UserID:    userID,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev, err := s.store.Get(ctx, token); err == nil {
		rec.CreatedAt = prev.CreatedAt
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("register token: %w", err)
	}

	s.logger.Info().
		Str(log.FieldEvent, "token.registered").
		Str(log.FieldUserID, userID).
		Int(log.FieldTokenLen, len(token)).
		Msg("token registered")
	return nil
}

// Exchange validates the source token, checks the target exists and is
// not invalidated, pushes a notification to the target device and
// appends an audit entry. The target record itself is never mutated.
func (s *Service) Exchange(ctx context.Context, sourceToken, targetToken, message string) (*ExchangeEntry, error) {
	srcCheck := s.Verify(ctx, sourceToken)
	if !srcCheck.Valid {
		return nil, fmt.Errorf("%w: source token: %v", ErrInvalidToken, srcCheck.Reasons)
	}
	source, err := s.store.Get(ctx, sourceToken)
	if err != nil {
		return nil, fmt.Errorf("load source record: %w", err)
	}

	target, err := s.store.Get(ctx, targetToken)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: target token: %s", ErrInvalidToken, ReasonNotRegistered)
	}
	if err != nil {
		return nil, fmt.Errorf("load target record: %w", err)
	}
	if target.Invalidated {
		return nil, fmt.Errorf("%w: target token: %s", ErrInvalidToken, ReasonInvalidated)
	}

	if s.push != nil {
		if err := s.push.Send(ctx, targetToken, source.UserID, message); err != nil {
			// Exchange is still recorded; the caller retries delivery
			// by exchanging again.
			s.logger.Warn().Err(err).
				Str(log.FieldUserID, target.UserID).
				Msg("push delivery failed")
		}
	}

	entry := &ExchangeEntry{
		ID:         uuid.NewString(),
		SourceUser: source.UserID,
		TargetUser: target.UserID,
		Message:    message,
		At:         s.clock.Now(),
	}
	if err := s.store.AppendExchange(ctx, entry); err != nil {
		return nil, fmt.Errorf("append exchange log: %w", err)
	}

	s.logger.Info().
		Str(log.FieldEvent, "token.exchanged").
		Str("source_user", entry.SourceUser).
		Str("target_user", entry.TargetUser).
		Msg("token exchange completed")
	return entry, nil
}

// Revoke marks a token invalidated. The record stays for audit.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if err := s.store.MarkInvalidated(ctx, token); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInvalidToken, ReasonNotRegistered)
		}
		return fmt.Errorf("revoke token: %w", err)
	}
	s.logger.Info().
		Str(log.FieldEvent, "token.revoked").
		Int(log.FieldTokenLen, len(token)).
		Msg("token revoked")
	return nil
}

// Verify runs the full validity check. All applicable failure reasons
// are collected, not just the first.
func (s *Service) Verify(ctx context.Context, token string) VerifyResult {
	res := VerifyResult{Details: map[string]string{}}

	if len(token) < MinTokenLength || len(token) > MaxTokenLength {
		res.Reasons = append(res.Reasons, ReasonInvalidFormat)
		res.Details["length"] = strconv.Itoa(len(token))
		// Malformed tokens are not worth a store lookup.
		return res
	}
	if s.blacklist.Contains(token) {
		res.Reasons = append(res.Reasons, ReasonBlacklisted)
	}

	rec, err := s.store.Get(ctx, token)
	switch {
	case errors.Is(err, ErrNotFound):
		res.Reasons = append(res.Reasons, ReasonNotRegistered)
	case err != nil:
		s.logger.Error().Err(err).Msg("store lookup failed during verify")
		res.Reasons = append(res.Reasons, ReasonNotRegistered)
	default:
		res.Details["userId"] = rec.UserID
		if rec.Invalidated {
			res.Reasons = append(res.Reasons, ReasonInvalidated)
		}
		if age := s.clock.Now().Sub(rec.UpdatedAt); age > s.ttl {
			res.Reasons = append(res.Reasons, ReasonExpired)
			res.Details["age"] = age.Truncate(time.Second).String()
		}
	}

	res.Valid = len(res.Reasons) == 0
	if res.Reasons == nil {
		res.Reasons = []string{}
	}
	return res
}

// Exchanges returns the audit log.
func (s *Service) Exchanges(ctx context.Context) ([]ExchangeEntry, error) {
	return s.store.Exchanges(ctx)
}
