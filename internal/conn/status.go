// SPDX-License-Identifier: MIT

// Package conn implements the connection lifecycle manager: one state
// machine reconciling peer transport, token lifecycle and network
// reachability into a single observable connection status.
package conn

// State is the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// String implements fmt.Stringer.
func (s State) String() string { return string(s) }

// IsValid checks whether the state is one of the defined constants.
func (s State) IsValid() bool {
	switch s {
	case StateDisconnected, StateConnecting, StateConnected, StateReconnecting, StateError:
		return true
	default:
		return false
	}
}

// IsActive reports whether a connection attempt or session is live.
func (s State) IsActive() bool {
	switch s {
	case StateConnecting, StateConnected, StateReconnecting:
		return true
	default:
		return false
	}
}

// ErrorKind classifies connection failures.
type ErrorKind string

const (
	ErrKindNone    ErrorKind = ""
	ErrKindToken   ErrorKind = "token_error"
	ErrKindPeer    ErrorKind = "peer_error"
	ErrKindNetwork ErrorKind = "network_error"
	ErrKindAuth    ErrorKind = "authentication_error"
	ErrKindUnknown ErrorKind = "unknown_error"
)

// Status is the immutable connection snapshot replaced on every
// transition.
//
// Invariants: ErrorKind is set iff State is error; RetryCount resets to
// zero on a successful connect and on explicit disconnect, and carries
// through the retry ladder otherwise.
type Status struct {
	State      State
	LocalID    string
	RemoteID   string
	ErrorKind  ErrorKind
	RetryCount int
	LastError  string // diagnostics only, never control flow
	Online     bool
}

// IsConnecting reports whether an attempt is pending, so consumers
// never have to guess whether an operation is in flight.
func (s Status) IsConnecting() bool {
	return s.State == StateConnecting || s.State == StateReconnecting
}
