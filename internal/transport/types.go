package transport

import (
	"errors"
	"time"

	"github.com/rickgao/notify-channel/internal/version"
)

// Errors
var (
	ErrNotOpen        = errors.New("transport not open")
	ErrHandleClosed   = errors.New("handle closed")
	ErrEmptyURL       = errors.New("empty url")
	ErrUnsupportedURL = errors.New("url scheme must be ws or wss")
)

// Close codes used when the peer did not supply one.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// SignalKind identifies what happened on a handle.
type SignalKind int

const (
	SignalOpened SignalKind = iota + 1
	SignalFrame
	SignalClosed
	SignalFailed
)

func (k SignalKind) String() string {
	switch k {
	case SignalOpened:
		return "opened"
	case SignalFrame:
		return "frame"
	case SignalClosed:
		return "closed"
	case SignalFailed:
		return "failed"
	}
	return "unknown"
}

// Signal is one translated transport event.
type Signal struct {
	Kind   SignalKind
	Handle *Handle

	Data       []byte    // SignalFrame: raw message bytes
	ReceivedAt time.Time // SignalFrame: local timestamp when ReadMessage returned

	Code   int    // SignalClosed
	Reason string // SignalClosed

	Err error // SignalFailed
}

// Sink receives the signals of a handle. It is called from the handle's
// goroutines and must not block for long.
type Sink func(Signal)

// Config configures the gorilla dialer.
type Config struct {
	HandshakeTimeout time.Duration // Max time for the opening handshake
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max inbound message size (0 = unlimited)
	TokenParam       string        // Query parameter carrying the credential
	UserAgent        string        // Sent with the opening handshake when set
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
		TokenParam:       "token",
		UserAgent:        version.UserAgent(),
	}
}
