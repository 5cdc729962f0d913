// SPDX-License-Identifier: MIT

package peer

import (
	"context"
	"fmt"
	"sync"
)

// LoopbackTransport pairs endpoints inside one process. It exists for
// local testing and the demo binary; the production media transport
// lives outside this repo.
type LoopbackTransport struct {
	mu       sync.Mutex
	sessions map[string]*loopbackSession
}

// NewLoopbackTransport creates an empty in-process switchboard.
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{sessions: make(map[string]*loopbackSession)}
}

// Open registers localID. Taken ids are rejected, mirroring how real
// transports refuse duplicate registrations.
func (t *LoopbackTransport) Open(_ context.Context, localID string) (Session, error) {
	if localID == "" {
		return nil, fmt.Errorf("empty endpoint id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, taken := t.sessions[localID]; taken {
		return nil, fmt.Errorf("endpoint id %q already taken", localID)
	}
	s := &loopbackSession{
		id:        localID,
		transport: t,
		events:    make(chan Event, 16),
	}
	t.sessions[localID] = s
	s.events <- Event{Kind: EventOpened, ID: localID}
	return s, nil
}

func (t *LoopbackTransport) lookup(id string) *loopbackSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

func (t *LoopbackTransport) unregister(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

type loopbackSession struct {
	id        string
	transport *LoopbackTransport
	events    chan Event

	closeOnce sync.Once
	emitMu    sync.Mutex
	closed    bool
}

func (s *loopbackSession) Connect(_ context.Context, remoteID string) error {
	remote := s.transport.lookup(remoteID)
	if remote == nil {
		return fmt.Errorf("remote endpoint %q not reachable", remoteID)
	}
	remote.emit(Event{Kind: EventIncoming, ID: s.id})
	return nil
}

func (s *loopbackSession) Events() <-chan Event { return s.events }

func (s *loopbackSession) Close() error {
	s.closeOnce.Do(func() {
		s.transport.unregister(s.id)
		s.emitMu.Lock()
		s.closed = true
		close(s.events)
		s.emitMu.Unlock()
	})
	return nil
}

// emit drops events once closed and when the buffer is full; loopback
// consumers that stopped draining are already tearing down.
func (s *loopbackSession) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}
