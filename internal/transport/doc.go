// Package transport wraps a single WebSocket connection.
//
// A Dialer opens a Handle and reports everything that happens on it to a
// Sink as Signals:
//
//	SignalOpened  - handshake complete, Handle.Send may be used
//	SignalFrame   - one inbound text message
//	SignalClosed  - the peer closed the connection (Code, Reason)
//	SignalFailed  - the dial or a write failed (Err)
//
// Each handle emits at most one terminal signal. Closing a handle
// supersedes it: no signal is delivered after Close returns.
package transport
