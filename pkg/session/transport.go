package session

import (
	"errors"
)

var (
	// ErrTransportClosed means the connection is closing or gone
	ErrTransportClosed = errors.New("session: transport closed")

	// ErrSessionNotFound is returned for keys with no active session
	ErrSessionNotFound = errors.New("session: not found")
)

// State of a transport
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Close codes used by the live feed
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Transport is one live push connection
type Transport interface {
	// ID identifies the connection in logs
	ID() string

	// SendJSON writes one JSON message. Errors wrapping ErrTransportClosed
	// mean the peer is gone.
	SendJSON(v interface{}) error

	// Close sends a close frame with code and reason and releases the
	// connection. Closing twice returns ErrTransportClosed.
	Close(code int, reason string) error

	State() State

	// Done is closed once the connection can no longer be used
	Done() <-chan struct{}
}
