// SPDX-License-Identifier: MIT

package peer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) add(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *eventSink) kinds() []EventKind {
	out := []EventKind{}
	for _, ev := range s.snapshot() {
		out = append(out, ev.Kind)
	}
	return out
}

func TestLoopbackRejectsDuplicateIDs(t *testing.T) {
	tr := NewLoopbackTransport()
	ctx := context.Background()

	sess, err := tr.Open(ctx, "a")
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	_, err = tr.Open(ctx, "a")
	require.Error(t, err)

	_, err = tr.Open(ctx, "")
	require.Error(t, err)
}

func TestLoopbackDeliversIncoming(t *testing.T) {
	tr := NewLoopbackTransport()
	ctx := context.Background()

	a, err := tr.Open(ctx, "a")
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	b, err := tr.Open(ctx, "b")
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Connect(ctx, "a"))

	// First event on a is its own registration, then the incoming call.
	require.Equal(t, Event{Kind: EventOpened, ID: "a"}, <-a.Events())
	select {
	case ev := <-a.Events():
		require.Equal(t, Event{Kind: EventIncoming, ID: "b"}, ev)
	case <-time.After(time.Second):
		t.Fatal("incoming event not delivered")
	}
}

func TestLoopbackConnectToUnknownRemote(t *testing.T) {
	tr := NewLoopbackTransport()
	a, err := tr.Open(context.Background(), "a")
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	require.Error(t, a.Connect(context.Background(), "nobody"))
}

func TestLoopbackCloseFreesID(t *testing.T) {
	tr := NewLoopbackTransport()
	ctx := context.Background()

	a, err := tr.Open(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close()) // idempotent

	// The old events channel drains its buffer and then reports closed.
	for {
		if _, open := <-a.Events(); !open {
			break
		}
	}

	// The id is free again.
	_, err = tr.Open(ctx, "a")
	require.NoError(t, err)
}

func TestControllerSingleHandle(t *testing.T) {
	tr := NewLoopbackTransport()
	sink := &eventSink{}
	c := NewController(tr, sink.add)
	defer c.Close()

	require.False(t, c.IsOpen())
	require.NoError(t, c.Open(context.Background(), "a"))
	require.True(t, c.IsOpen())
	require.ErrorIs(t, c.Open(context.Background(), "a"), ErrAlreadyOpen)
}

func TestControllerConnectRequiresOpenHandle(t *testing.T) {
	c := NewController(NewLoopbackTransport(), func(Event) {})
	defer c.Close()

	require.ErrorIs(t, c.ConnectTo(context.Background(), "b"), ErrNotOpen)
	require.ErrorIs(t, c.ConnectTo(context.Background(), ""), ErrNotOpen)
}

func TestControllerForwardsEvents(t *testing.T) {
	tr := NewLoopbackTransport()
	sink := &eventSink{}
	c := NewController(tr, sink.add)
	defer c.Close()

	require.NoError(t, c.Open(context.Background(), "a"))

	remote, err := tr.Open(context.Background(), "b")
	require.NoError(t, err)
	defer func() { _ = remote.Close() }()
	require.NoError(t, remote.Connect(context.Background(), "a"))

	require.Eventually(t, func() bool {
		kinds := sink.kinds()
		return len(kinds) == 2 && kinds[0] == EventOpened && kinds[1] == EventIncoming
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "b", sink.snapshot()[1].ID)
}

func TestControllerCloseStopsDelivery(t *testing.T) {
	tr := NewLoopbackTransport()
	sink := &eventSink{}
	c := NewController(tr, sink.add)

	require.NoError(t, c.Open(context.Background(), "a"))
	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	c.Close()
	c.Close() // idempotent
	require.False(t, c.IsOpen())

	// The id is released; a remote dialing it now fails rather than
	// delivering into a closed controller.
	remote, err := tr.Open(context.Background(), "b")
	require.NoError(t, err)
	defer func() { _ = remote.Close() }()
	require.Error(t, remote.Connect(context.Background(), "a"))

	time.Sleep(20 * time.Millisecond)
	require.Len(t, sink.snapshot(), 1)
}

type scriptedSession struct {
	events    chan Event
	closeOnce sync.Once
}

func (s *scriptedSession) Connect(context.Context, string) error { return nil }
func (s *scriptedSession) Events() <-chan Event                  { return s.events }
func (s *scriptedSession) Close() error {
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

type scriptedTransport struct {
	mu       sync.Mutex
	sessions []*scriptedSession
}

func (t *scriptedTransport) Open(context.Context, string) (Session, error) {
	s := &scriptedSession{events: make(chan Event, 8)}
	t.mu.Lock()
	t.sessions = append(t.sessions, s)
	t.mu.Unlock()
	return s, nil
}

func (t *scriptedTransport) session(i int) *scriptedSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[i]
}

func TestControllerReopenDoesNotDeliverStaleEvents(t *testing.T) {
	tr := &scriptedTransport{}
	gate := make(chan struct{})
	holding := make(chan struct{})
	sink := &eventSink{}
	c := NewController(tr, func(ev Event) {
		if ev.Detail == "hold" {
			close(holding)
			<-gate
		}
		sink.add(ev)
	})
	defer c.Close()

	require.NoError(t, c.Open(context.Background(), "a"))
	first := tr.session(0)

	// Stall the sink on the first event so a second one stays buffered
	// in the session channel across Close.
	first.events <- Event{Kind: EventErrored, Detail: "hold"}
	first.events <- Event{Kind: EventErrored, Detail: "stale"}
	<-holding

	c.Close()
	require.NoError(t, c.Open(context.Background(), "a"))
	second := tr.session(1)
	close(gate)

	second.events <- Event{Kind: EventIncoming, ID: "b"}
	require.Eventually(t, func() bool {
		for _, ev := range sink.snapshot() {
			if ev.Kind == EventIncoming {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	// The dead session's buffered event must not surface through the
	// replacement session's lifetime.
	for _, ev := range sink.snapshot() {
		require.NotEqual(t, "stale", ev.Detail,
			"event from a closed session delivered after reopen")
	}
}

func TestControllerReopenAfterClose(t *testing.T) {
	tr := NewLoopbackTransport()
	c := NewController(tr, func(Event) {})

	require.NoError(t, c.Open(context.Background(), "a"))
	c.Close()
	require.NoError(t, c.Open(context.Background(), "a"))
	c.Close()
}
