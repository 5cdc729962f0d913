// SPDX-License-Identifier: MIT

package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sambitos23/walkie-lazy/internal/log"
)

var (
	// ErrNotOpen is returned when an operation needs an open handle.
	ErrNotOpen = errors.New("no open peer session")
	// ErrAlreadyOpen guards the single-handle invariant.
	ErrAlreadyOpen = errors.New("peer session already open")
)

// Controller owns at most one transport session. Events are forwarded
// to the sink until Close; after Close no event is delivered, even if
// the underlying transport emits stragglers.
type Controller struct {
	mu        sync.Mutex
	transport Transport
	session   Session
	alive     bool

	sink   func(Event)
	logger zerolog.Logger
}

// NewController creates a controller forwarding events to sink.
func NewController(transport Transport, sink func(Event)) *Controller {
	return &Controller{
		transport: transport,
		sink:      sink,
		logger:    log.WithComponent("peer"),
	}
}

// Open creates the transport handle for localID and starts forwarding
// its events.
func (c *Controller) Open(ctx context.Context, localID string) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.mu.Unlock()

	sess, err := c.transport.Open(ctx, localID)
	if err != nil {
		return fmt.Errorf("open peer transport: %w", err)
	}

	c.mu.Lock()
	if c.session != nil {
		// Lost the race to a concurrent Open; drop ours.
		c.mu.Unlock()
		_ = sess.Close()
		return ErrAlreadyOpen
	}
	c.session = sess
	c.alive = true
	c.mu.Unlock()

	go c.pump(sess)
	c.logger.Debug().Str(log.FieldLocalID, localID).Msg("peer session opened")
	return nil
}

// pump exits when the session closes its events channel. Close may be
// called from inside the sink, so it never waits for the pump. Delivery
// is gated on session identity, not just liveness: a Close followed by
// a re-Open must not let a dead session's buffered events leak into the
// new session's lifetime.
func (c *Controller) pump(sess Session) {
	for ev := range sess.Events() {
		c.mu.Lock()
		deliver := c.alive && c.session == sess
		c.mu.Unlock()
		if !deliver {
			continue // drain without forwarding
		}
		c.sink(ev)
	}
}

// ConnectTo initiates an outbound session. Rejected when no handle is
// open or remoteID is empty.
func (c *Controller) ConnectTo(ctx context.Context, remoteID string) error {
	if remoteID == "" {
		c.logger.Warn().Msg("connect rejected: empty remote id")
		return fmt.Errorf("%w: empty remote id", ErrNotOpen)
	}
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		c.logger.Warn().Str(log.FieldRemoteID, remoteID).Msg("connect rejected: no open session")
		return ErrNotOpen
	}
	if err := sess.Connect(ctx, remoteID); err != nil {
		return fmt.Errorf("connect to %s: %w", remoteID, err)
	}
	return nil
}

// IsOpen reports whether a handle exists.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Close tears down the handle and stops event delivery. Safe to call
// multiple times.
func (c *Controller) Close() {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.alive = false
	c.mu.Unlock()

	if sess == nil {
		return
	}
	_ = sess.Close()
	c.logger.Debug().Msg("peer session closed")
}
