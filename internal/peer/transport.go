// SPDX-License-Identifier: MIT

// Package peer owns the single peer-transport handle used for a media
// session. The transport that actually negotiates and carries media is
// external; this package defines its boundary and the controller that
// enforces single-handle discipline.
package peer

import "context"

// EventKind classifies transport events.
type EventKind string

const (
	// EventOpened fires when the local handle is registered under its id.
	EventOpened EventKind = "opened"
	// EventClosed fires when the handle is gone.
	EventClosed EventKind = "closed"
	// EventErrored fires on any transport failure.
	EventErrored EventKind = "errored"
	// EventIncoming fires when a remote endpoint calls us.
	EventIncoming EventKind = "incoming"
)

// Event is one transport notification.
type Event struct {
	Kind   EventKind
	ID     string // endpoint id for opened/incoming
	Detail string // human-readable detail for errored
}

// Session is an open transport handle.
//
// Implementations must close the Events channel from Close so consumers
// can drain and exit.
type Session interface {
	// Connect initiates an outbound media session to remoteID.
	Connect(ctx context.Context, remoteID string) error
	// Events streams transport notifications until Close.
	Events() <-chan Event
	// Close releases the handle and all associated resources. Safe to
	// call multiple times.
	Close() error
}

// Transport creates sessions. One endpoint holds at most one session.
type Transport interface {
	Open(ctx context.Context, localID string) (Session, error)
}
