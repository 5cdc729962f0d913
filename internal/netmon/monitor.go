// SPDX-License-Identifier: MIT

// Package netmon observes host network reachability and reports
// edge-triggered online/offline transitions.
package netmon

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sambitos23/walkie-lazy/internal/log"
)

// Probe answers whether the network currently looks reachable.
type Probe interface {
	Check(ctx context.Context) bool
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) bool

// Check implements Probe.
func (f ProbeFunc) Check(ctx context.Context) bool { return f(ctx) }

// DialProbe checks reachability with one TCP dial.
type DialProbe struct {
	Addr    string // host:port
	Timeout time.Duration
}

// Check implements Probe.
func (p DialProbe) Check(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Monitor polls a probe and fires callbacks only on transitions: once
// per edge, never per poll.
type Monitor struct {
	probe    Probe
	interval time.Duration
	onUp     func()
	onDown   func()
	logger   zerolog.Logger

	mu     sync.Mutex
	online bool
	seeded bool

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a monitor. Callbacks may be nil. The first poll seeds the
// initial value without firing a callback.
func New(probe Probe, interval time.Duration, onOnline, onOffline func()) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		onUp:     onOnline,
		onDown:   onOffline,
		logger:   log.WithComponent("netmon"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Online returns the last observed reachability.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.seeded || m.online
}

// Start begins polling. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.observe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.observe(ctx)
			}
		}
	}()
}

// Close stops polling and waits for the loop to exit. Idempotent.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
	}
}

func (m *Monitor) observe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.interval)
	current := m.probe.Check(pctx)
	cancel()

	m.mu.Lock()
	first := !m.seeded
	previous := m.online
	m.seeded = true
	m.online = current
	m.mu.Unlock()

	if first || current == previous {
		return
	}
	if current {
		m.logger.Info().Str(log.FieldEvent, "net.online").Msg("network restored")
		if m.onUp != nil {
			m.onUp()
		}
	} else {
		m.logger.Info().Str(log.FieldEvent, "net.offline").Msg("network lost")
		if m.onDown != nil {
			m.onDown()
		}
	}
}
