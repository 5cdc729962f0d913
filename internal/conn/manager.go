// SPDX-License-Identifier: MIT

package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sambitos23/walkie-lazy/internal/backoff"
	"github.com/sambitos23/walkie-lazy/internal/log"
	"github.com/sambitos23/walkie-lazy/internal/metrics"
	"github.com/sambitos23/walkie-lazy/internal/peer"
	"github.com/sambitos23/walkie-lazy/internal/token"
)

// Timeouts bound the manager's timing discipline.
type Timeouts struct {
	ConnectTimeout    time.Duration
	KeepAliveInterval time.Duration
}

// Options configures a Manager.
type Options struct {
	LocalID       string
	RemoteID      string
	Transport     peer.Transport
	Tokens        *token.Scheduler
	Policy        backoff.Policy
	Timeouts      Timeouts
	AutoReconnect bool
	OnChange      func(Status) // called outside locks
}

// Manager composes the retry controller, token scheduler, network
// monitor and peer controller into one state machine. It is the only
// surface consumers talk to.
//
// Every timer carries the generation it was armed under; a fire whose
// generation no longer matches is a no-op. Disconnect bumps the
// generation, so nothing armed before it can mutate state after it.
type Manager struct {
	mu     sync.Mutex
	opts   Options
	peer   *peer.Controller
	status Status
	gen    uint64
	alive  bool

	connectTimer   *time.Timer
	retryTimer     *time.Timer
	keepAliveTimer *time.Timer

	logger zerolog.Logger
}

// New creates a manager in the disconnected state.
func New(opts Options) (*Manager, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("manager requires a peer transport")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("manager requires a token scheduler")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}
	if opts.Timeouts.ConnectTimeout <= 0 {
		opts.Timeouts.ConnectTimeout = 15 * time.Second
	}
	if opts.Timeouts.KeepAliveInterval <= 0 {
		opts.Timeouts.KeepAliveInterval = 30 * time.Second
	}

	m := &Manager{
		opts:  opts,
		alive: true,
		status: Status{
			State:    StateDisconnected,
			LocalID:  opts.LocalID,
			RemoteID: opts.RemoteID,
			Online:   true,
		},
		logger: log.WithComponent("conn"),
	}
	m.peer = peer.NewController(opts.Transport, m.handlePeerEvent)
	return m, nil
}

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// TokenState returns the token scheduler's snapshot.
func (m *Manager) TokenState() token.State {
	return m.opts.Tokens.State()
}

// SetRemoteID changes the dial target. Ignored while an attempt or
// session is outstanding.
func (m *Manager) SetRemoteID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State.IsActive() {
		m.logger.Warn().Str(log.FieldRemoteID, id).Msg("remote id change ignored while active")
		return
	}
	m.status.RemoteID = id
}

// InitializeToken acquires (or adopts a cached) token ahead of the
// first connection attempt.
func (m *Manager) InitializeToken(ctx context.Context) error {
	return m.opts.Tokens.Bootstrap(ctx)
}

// RefreshToken replaces the current token.
func (m *Manager) RefreshToken(ctx context.Context) error {
	return m.opts.Tokens.Refresh(ctx)
}

// Connect starts a connection attempt. Honored only from disconnected
// and error; anything else is a logged no-op so a single outstanding
// attempt invariant holds at all times.
func (m *Manager) Connect() {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	switch m.status.State {
	case StateConnecting, StateConnected, StateReconnecting:
		m.logger.Debug().
			Str(log.FieldOldState, m.status.State.String()).
			Msg("connect ignored: attempt already outstanding")
		m.mu.Unlock()
		return
	}
	if m.status.LocalID == "" || m.status.RemoteID == "" {
		m.logger.Warn().Msg("connect ignored: local and remote ids required")
		m.mu.Unlock()
		return
	}
	m.status.RetryCount = 0
	m.beginAttemptLocked()
	m.mu.Unlock()
	m.notify()
}

// Disconnect tears everything down: every timer is cancelled, the peer
// handle closed, token state cleared, retry count reset. Always lands
// in disconnected, from any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.stopAllTimersLocked()
	from := m.status.State
	m.status = Status{
		State:    StateDisconnected,
		LocalID:  m.status.LocalID,
		RemoteID: m.status.RemoteID,
		Online:   m.status.Online,
	}
	m.mu.Unlock()

	m.peer.Close()
	m.opts.Tokens.Invalidate()

	if from != StateDisconnected {
		metrics.RecordStateTransition(from.String(), StateDisconnected.String())
		m.logger.Info().
			Str(log.FieldOldState, from.String()).
			Str(log.FieldNewState, StateDisconnected.String()).
			Msg("disconnected")
	}
	m.notify()
}

// Close disconnects and makes the manager inert. The token scheduler is
// closed too; the transport and network monitor belong to the caller.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.alive = false
	m.gen++
	m.mu.Unlock()
	m.opts.Tokens.Close()
}

// HandleOnline is wired to the network monitor's online edge. Network
// restoration is a fresh opportunity: the retry count resets instead of
// continuing the backoff ladder.
func (m *Manager) HandleOnline() {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.status.Online = true
	if m.status.State == StateError && m.opts.AutoReconnect {
		m.status.RetryCount = 0
		m.transitionLocked(StateReconnecting, func(st *Status) {
			st.ErrorKind = ErrKindNone
			st.LastError = ""
		})
		m.mu.Unlock()
		m.notify()

		m.mu.Lock()
		if m.alive && m.status.State == StateReconnecting {
			m.beginAttemptLocked()
		}
		m.mu.Unlock()
		m.notify()
		return
	}
	m.mu.Unlock()
	m.notify()
}

// HandleOffline is wired to the network monitor's offline edge. It only
// updates the status field; it never forces a disconnect by itself.
func (m *Manager) HandleOffline() {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.status.Online = false
	m.mu.Unlock()
	m.notify()
}

// beginAttemptLocked moves to connecting, arms the connection timeout
// and launches the asynchronous attempt. Caller holds m.mu.
func (m *Manager) beginAttemptLocked() {
	m.gen++
	gen := m.gen
	m.transitionLocked(StateConnecting, func(st *Status) {
		st.ErrorKind = ErrKindNone
		st.LastError = ""
	})
	m.stopTimerLocked(&m.connectTimer)
	m.connectTimer = time.AfterFunc(m.opts.Timeouts.ConnectTimeout, func() {
		m.fail(gen, ErrKindNetwork, "connection attempt timed out")
	})
	go m.attempt(gen)
}

// attempt runs the token and peer stages of one connection cycle.
func (m *Manager) attempt(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeouts.ConnectTimeout)
	defer cancel()

	m.mu.Lock()
	localID, remoteID := m.status.LocalID, m.status.RemoteID
	m.mu.Unlock()

	if ts := m.opts.Tokens.State(); !ts.Valid {
		if err := m.opts.Tokens.Acquire(ctx); err != nil {
			switch {
			case errors.Is(err, token.ErrSuperseded), errors.Is(err, token.ErrClosed):
				return // torn down underneath us
			case errors.Is(err, token.ErrRejected):
				m.fail(gen, ErrKindAuth, err.Error())
			default:
				m.fail(gen, ErrKindToken, err.Error())
			}
			return
		}
	}

	if !m.genCurrent(gen) {
		return
	}
	if err := m.peer.Open(ctx, localID); err != nil && !errors.Is(err, peer.ErrAlreadyOpen) {
		m.fail(gen, ErrKindPeer, err.Error())
		return
	}
	if !m.genCurrent(gen) {
		m.peer.Close()
		return
	}
	if err := m.peer.ConnectTo(ctx, remoteID); err != nil {
		m.fail(gen, ErrKindPeer, err.Error())
		return
	}
	m.succeed(gen)
}

// succeed completes a cycle: timeout cleared, retry count reset,
// keep-alive armed. The generation advances so every continuation still
// carrying this cycle's generation (the armed timeout included) becomes
// a no-op.
func (m *Manager) succeed(gen uint64) {
	m.mu.Lock()
	if !m.alive || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.stopTimerLocked(&m.connectTimer)
	m.transitionLocked(StateConnected, func(st *Status) {
		st.RetryCount = 0
		st.ErrorKind = ErrKindNone
		st.LastError = ""
	})
	m.armKeepAliveLocked(m.gen)
	m.mu.Unlock()
	m.notify()
}

// fail resolves a cycle to error and, when policy allows, schedules the
// next attempt. Each cycle resolves exactly once: the generation bumps
// on entry, so the timeout and the attempt goroutine cannot both act on
// the same failure, and a timeout firing after a successful connect is
// a no-op.
func (m *Manager) fail(gen uint64, kind ErrorKind, detail string) {
	m.mu.Lock()
	if !m.alive || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	resolved := m.gen
	m.stopAllTimersLocked()

	m.transitionLocked(StateError, func(st *Status) {
		st.ErrorKind = kind
		st.LastError = detail
	})
	errSnapshot := m.status

	retry := m.opts.AutoReconnect && m.opts.Policy.ShouldRetry(m.status.RetryCount)
	var retrySnapshot Status
	if retry {
		delay := m.opts.Policy.NextDelay(m.status.RetryCount)
		m.transitionLocked(StateReconnecting, func(st *Status) {
			st.RetryCount++
			st.ErrorKind = ErrKindNone
		})
		retrySnapshot = m.status
		m.retryTimer = time.AfterFunc(delay, func() {
			m.onRetryFire(resolved)
		})
		metrics.RecordRetry()
		m.logger.Info().
			Dur("delay", delay).
			Int(log.FieldRetryCount, m.status.RetryCount).
			Msg("retry scheduled")
	} else {
		m.logger.Warn().
			Str(log.FieldErrorKind, string(kind)).
			Int(log.FieldRetryCount, m.status.RetryCount).
			Msg("connection failed, no further retries")
	}
	m.mu.Unlock()

	m.peer.Close()
	m.notifyStatus(errSnapshot)
	if retry {
		m.notifyStatus(retrySnapshot)
	}
}

func (m *Manager) onRetryFire(gen uint64) {
	m.mu.Lock()
	if !m.alive || gen != m.gen || m.status.State != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.beginAttemptLocked()
	m.mu.Unlock()
	m.notify()
}

// armKeepAliveLocked schedules the heartbeat. The fire re-checks state:
// it can change asynchronously between arm and fire, so the timer
// self-cancels by not re-arming the instant state leaves connected.
func (m *Manager) armKeepAliveLocked(gen uint64) {
	m.stopTimerLocked(&m.keepAliveTimer)
	m.keepAliveTimer = time.AfterFunc(m.opts.Timeouts.KeepAliveInterval, func() {
		m.onKeepAlive(gen)
	})
}

func (m *Manager) onKeepAlive(gen uint64) {
	m.mu.Lock()
	if !m.alive || gen != m.gen || m.status.State != StateConnected {
		m.mu.Unlock()
		return
	}
	m.logger.Debug().Str(log.FieldEvent, "conn.keepalive").Msg("heartbeat")
	m.armKeepAliveLocked(gen)
	m.mu.Unlock()
}

// handlePeerEvent is the sink for the peer controller.
func (m *Manager) handlePeerEvent(ev peer.Event) {
	m.mu.Lock()
	gen := m.gen
	state := m.status.State
	remoteID := m.status.RemoteID
	m.mu.Unlock()

	switch ev.Kind {
	case peer.EventOpened:
		m.logger.Debug().Str(log.FieldLocalID, ev.ID).Msg("peer handle registered")
	case peer.EventIncoming:
		// Simultaneous call from the endpoint we are dialing counts as
		// the session establishing.
		if state == StateConnecting && ev.ID == remoteID {
			m.succeed(gen)
			return
		}
		m.logger.Info().Str(log.FieldRemoteID, ev.ID).Msg("incoming call")
	case peer.EventErrored:
		if state == StateConnecting || state == StateConnected {
			m.fail(gen, ErrKindPeer, ev.Detail)
		}
	case peer.EventClosed:
		if state == StateConnected {
			m.fail(gen, ErrKindPeer, "peer transport closed")
		}
	}
}

func (m *Manager) genCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive && gen == m.gen
}

// transitionLocked replaces the status snapshot. Caller holds m.mu.
func (m *Manager) transitionLocked(to State, mutate func(*Status)) {
	from := m.status.State
	next := m.status
	next.State = to
	if mutate != nil {
		mutate(&next)
	}
	m.status = next
	if from != to {
		metrics.RecordStateTransition(from.String(), to.String())
		m.logger.Info().
			Str(log.FieldOldState, from.String()).
			Str(log.FieldNewState, to.String()).
			Int(log.FieldRetryCount, next.RetryCount).
			Msg("state transition")
	}
}

func (m *Manager) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Manager) stopAllTimersLocked() {
	m.stopTimerLocked(&m.connectTimer)
	m.stopTimerLocked(&m.retryTimer)
	m.stopTimerLocked(&m.keepAliveTimer)
}

func (m *Manager) notify() {
	m.mu.Lock()
	snapshot := m.status
	m.mu.Unlock()
	m.notifyStatus(snapshot)
}

func (m *Manager) notifyStatus(snapshot Status) {
	if m.opts.OnChange == nil {
		return
	}
	m.opts.OnChange(snapshot)
}
