// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type pushCall struct {
	token, from, message string
}

type fakePush struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
}

func (p *fakePush) Send(_ context.Context, token, fromUserID, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{token, fromUserID, message})
	return p.err
}

func (p *fakePush) sent() []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushCall(nil), p.calls...)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	opts = append([]Option{WithClock(clk)}, opts...)
	svc := NewService(newBadgerTestStore(t), NewBlacklist(nil), 24*time.Hour, opts...)
	return svc, clk
}

func TestRegisterRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Register(ctx, strings.Repeat("x", MinTokenLength-1), "user", nil)
	require.ErrorIs(t, err, ErrBadRequest)

	err = svc.Register(ctx, strings.Repeat("x", MaxTokenLength+1), "user", nil)
	require.ErrorIs(t, err, ErrBadRequest)

	err = svc.Register(ctx, testToken("no-user"), "", nil)
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestRegisterThenVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tok := testToken("verify")

	require.NoError(t, svc.Register(ctx, tok, "alice", map[string]string{"os": "android"}))

	res := svc.Verify(ctx, tok)
	require.True(t, res.Valid)
	require.Empty(t, res.Reasons)
	require.Equal(t, "alice", res.Details["userId"])
}

func TestReRegisterPreservesCreatedAt(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	tok := testToken("reregister")

	require.NoError(t, svc.Register(ctx, tok, "alice", nil))
	created := clk.Now()

	clk.Advance(2 * time.Hour)
	require.NoError(t, svc.Register(ctx, tok, "alice", nil))

	rec, err := svc.store.Get(ctx, tok)
	require.NoError(t, err)
	require.True(t, rec.CreatedAt.Equal(created))
	require.True(t, rec.UpdatedAt.Equal(clk.Now()))
}

func TestVerifyCollectsAllReasons(t *testing.T) {
	store := newBadgerTestStore(t)
	clk := newFakeClock()
	banned := testToken("banned")
	svc := NewService(store, NewBlacklist([]string{banned}), 24*time.Hour, WithClock(clk))
	ctx := context.Background()

	// Malformed token short-circuits before any store lookup.
	res := svc.Verify(ctx, "short")
	require.False(t, res.Valid)
	require.Equal(t, []string{ReasonInvalidFormat}, res.Reasons)
	require.Equal(t, "5", res.Details["length"])

	// Blacklisted and never registered: both reasons reported.
	res = svc.Verify(ctx, banned)
	require.False(t, res.Valid)
	require.ElementsMatch(t, []string{ReasonBlacklisted, ReasonNotRegistered}, res.Reasons)

	// Well-formed but unknown.
	res = svc.Verify(ctx, testToken("unknown"))
	require.Equal(t, []string{ReasonNotRegistered}, res.Reasons)
}

func TestVerifyExpiry(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	tok := testToken("expiry")

	require.NoError(t, svc.Register(ctx, tok, "alice", nil))

	clk.Advance(24*time.Hour - time.Minute)
	require.True(t, svc.Verify(ctx, tok).Valid)

	clk.Advance(2 * time.Minute)
	res := svc.Verify(ctx, tok)
	require.False(t, res.Valid)
	require.Equal(t, []string{ReasonExpired}, res.Reasons)
	require.NotEmpty(t, res.Details["age"])

	// Re-registration refreshes the expiry window.
	require.NoError(t, svc.Register(ctx, tok, "alice", nil))
	require.True(t, svc.Verify(ctx, tok).Valid)
}

func TestRevoke(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tok := testToken("revoked")

	require.NoError(t, svc.Register(ctx, tok, "alice", nil))
	require.NoError(t, svc.Revoke(ctx, tok))

	res := svc.Verify(ctx, tok)
	require.False(t, res.Valid)
	require.Equal(t, []string{ReasonInvalidated}, res.Reasons)

	err := svc.Revoke(ctx, testToken("never-registered"))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestExchange(t *testing.T) {
	push := &fakePush{}
	svc, _ := newTestService(t, WithPushSender(push))
	ctx := context.Background()
	src, dst := testToken("source"), testToken("target")

	require.NoError(t, svc.Register(ctx, src, "alice", nil))
	require.NoError(t, svc.Register(ctx, dst, "bob", nil))

	before, err := svc.store.Get(ctx, dst)
	require.NoError(t, err)

	entry, err := svc.Exchange(ctx, src, dst, "wake up")
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)
	require.Equal(t, "alice", entry.SourceUser)
	require.Equal(t, "bob", entry.TargetUser)
	require.Equal(t, "wake up", entry.Message)

	// Push went to the target device, attributed to the source user.
	require.Equal(t, []pushCall{{dst, "alice", "wake up"}}, push.sent())

	// The target record is never mutated by an exchange.
	after, err := svc.store.Get(ctx, dst)
	require.NoError(t, err)
	require.Equal(t, before, after)

	entries, err := svc.Exchanges(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, entry.ID, entries[0].ID)
}

func TestExchangePushFailureIsNotFatal(t *testing.T) {
	push := &fakePush{err: errors.New("gateway down")}
	svc, _ := newTestService(t, WithPushSender(push))
	ctx := context.Background()
	src, dst := testToken("src2"), testToken("dst2")

	require.NoError(t, svc.Register(ctx, src, "alice", nil))
	require.NoError(t, svc.Register(ctx, dst, "bob", nil))

	_, err := svc.Exchange(ctx, src, dst, "hello")
	require.NoError(t, err)

	entries, err := svc.Exchanges(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestExchangeRejectsInvalidEndpoints(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	src, dst := testToken("valid-src"), testToken("valid-dst")
	require.NoError(t, svc.Register(ctx, src, "alice", nil))
	require.NoError(t, svc.Register(ctx, dst, "bob", nil))

	// Unregistered source.
	_, err := svc.Exchange(ctx, testToken("ghost"), dst, "hi")
	require.ErrorIs(t, err, ErrInvalidToken)

	// Unregistered target.
	_, err = svc.Exchange(ctx, src, testToken("ghost"), "hi")
	require.ErrorIs(t, err, ErrInvalidToken)

	// Revoked target.
	require.NoError(t, svc.Revoke(ctx, dst))
	_, err = svc.Exchange(ctx, src, dst, "hi")
	require.ErrorIs(t, err, ErrInvalidToken)

	entries, err := svc.Exchanges(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestBlacklistReplace(t *testing.T) {
	b := NewBlacklist([]string{"a"})
	require.True(t, b.Contains("a"))
	require.False(t, b.Contains("b"))

	b.Replace([]string{"b"})
	require.False(t, b.Contains("a"))
	require.True(t, b.Contains("b"))
}
