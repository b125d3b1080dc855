package channel

import (
	"errors"
	"time"

	"github.com/rickgao/notify-channel/internal/heartbeat"
)

// Errors
var (
	ErrClosed      = errors.New("channel closed")
	ErrEmptyEvent  = errors.New("event name is required")
	ErrPongTimeout = heartbeat.ErrPongTimeout
	ErrNoURL       = errors.New("channel url is required")

	ErrTransportFailed = errors.New("transport failed")
)

// Lifecycle event names. Inbound frames that reuse one of these names are
// only delivered through EventMessage.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventError           = "error"
	EventReconnecting    = "reconnecting"
	EventReconnectFailed = "reconnect_failed"
	EventMessage         = "message"
	EventStateChange     = "state_change"
)

// Close details used for client-initiated disconnects.
const (
	CloseClientCode   = 1000
	CloseClientReason = "client disconnect"
)

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// ConnectedEvent is the payload of EventConnected.
type ConnectedEvent struct {
	HandleID string
}

// DisconnectedEvent is the payload of EventDisconnected.
type DisconnectedEvent struct {
	Code   int
	Reason string
}

// ErrorEvent is the payload of EventError.
type ErrorEvent struct {
	Err error
}

// ReconnectingEvent is the payload of EventReconnecting.
type ReconnectingEvent struct {
	Attempt int
	Delay   time.Duration
}

// ReconnectFailedEvent is the payload of EventReconnectFailed.
type ReconnectFailedEvent struct {
	Attempts int
}

// StateChangeEvent is the payload of EventStateChange.
type StateChangeEvent struct {
	From State
	To   State
}

// Stats is a point-in-time view of the channel.
type Stats struct {
	State        State
	Attempt      int
	QueueDepth   int
	HandleID     string
	RetryPending bool
}

// Config configures a Channel.
type Config struct {
	URL                  string
	Heartbeat            heartbeat.Config
	Backoff              Backoff
	MaxReconnectAttempts int // Retry ceiling (0 = never retry)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Heartbeat:            heartbeat.DefaultConfig(),
		Backoff:              DefaultBackoff(),
		MaxReconnectAttempts: 5,
	}
}
