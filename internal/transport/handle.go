package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handle owns exactly one underlying WebSocket connection. A reconnect always
// produces a new Handle; nothing outside this package holds the raw socket.
type Handle struct {
	id     uuid.UUID
	cfg    Config
	logger *slog.Logger
	sink   Sink

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu      sync.RWMutex
	conn    *websocket.Conn
	open    bool
	closed  bool  // superseded by Close; no further signals
	sendErr error // first write failure, reported as the terminal signal
}

func newHandle(ctx context.Context, cfg Config, sink Sink, logger *slog.Logger) *Handle {
	id := uuid.New()
	hctx, cancel := context.WithCancel(ctx)
	return &Handle{
		id:     id,
		cfg:    cfg,
		logger: logger.With("handle", id.String()),
		sink:   sink,
		ctx:    hctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Done is closed once the handle has stopped producing signals.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// IsOpen reports whether the handshake completed and the handle is still live.
func (h *Handle) IsOpen() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.open && !h.closed && h.sendErr == nil
}

// Send writes one text message.
func (h *Handle) Send(data []byte) error {
	h.mu.RLock()
	conn, open, closed := h.conn, h.open, h.closed
	h.mu.RUnlock()

	if closed {
		return ErrHandleClosed
	}
	if !open {
		return ErrNotOpen
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// Closing the socket unblocks the read loop, which reports the failure.
		h.mu.Lock()
		if h.sendErr == nil {
			h.sendErr = err
		}
		h.mu.Unlock()
		conn.Close()
		return err
	}
	return nil
}

// Close supersedes the handle: it sends a normal close frame, releases the
// socket and suppresses every later signal. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	h.mu.Unlock()

	h.cancel()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}

func (h *Handle) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// emit forwards a signal unless the handle was superseded.
func (h *Handle) emit(sig Signal) {
	if h.isClosed() {
		return
	}
	sig.Handle = h
	h.sink(sig)
}

// dial performs the handshake and, on success, starts the read loop.
func (h *Handle) dial(dialer *websocket.Dialer, target string, header http.Header) {
	conn, _, err := dialer.DialContext(h.ctx, target, header)
	if err != nil {
		h.logger.Debug("websocket dial failed", "error", err)
		h.emit(Signal{Kind: SignalFailed, Err: err})
		close(h.done)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		close(h.done)
		return
	}
	h.conn = conn
	h.open = true
	h.mu.Unlock()

	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}

	h.logger.Debug("websocket connected")
	h.emit(Signal{Kind: SignalOpened})

	go h.readLoop(conn)
}

// readLoop reads messages until the socket fails, then emits one terminal signal.
func (h *Handle) readLoop(conn *websocket.Conn) {
	defer close(h.done)
	defer func() {
		h.mu.Lock()
		h.open = false
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			h.mu.RLock()
			sendErr := h.sendErr
			h.mu.RUnlock()

			if sendErr != nil {
				h.emit(Signal{Kind: SignalFailed, Err: sendErr})
				return
			}
			code, reason := closeDetails(err)
			h.emit(Signal{Kind: SignalClosed, Code: code, Reason: reason})
			return
		}

		h.emit(Signal{Kind: SignalFrame, Data: data, ReceivedAt: receivedAt})
	}
}

// closeDetails extracts the close code and reason from a read error.
func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return CloseAbnormal, err.Error()
}
