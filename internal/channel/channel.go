package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/notify-channel/internal/buffer"
	"github.com/rickgao/notify-channel/internal/events"
	"github.com/rickgao/notify-channel/internal/heartbeat"
	"github.com/rickgao/notify-channel/internal/metrics"
	"github.com/rickgao/notify-channel/internal/outbound"
	"github.com/rickgao/notify-channel/internal/transport"
	"github.com/rickgao/notify-channel/internal/wire"
)

const tracerName = "github.com/rickgao/notify-channel/internal/channel"

// Option configures optional collaborators of a Channel.
type Option func(*Channel)

// WithMetrics records channel activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) {
		c.metrics = m
	}
}

// WithTracer sets the tracer used for connect-attempt spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Channel) {
		c.tracer = t
	}
}

type emission struct {
	name string
	data any
}

// Channel is a self-healing connection to the notification server.
type Channel struct {
	cfg     Config
	dialer  transport.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mux      *events.Multiplexer
	queue    *outbound.Queue
	dispatch *buffer.Growable[emission]
	done     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// State, guarded by mu
	mu         sync.Mutex
	state      State
	attempt    int
	credential string
	handle     *transport.Handle
	monitor    *heartbeat.Monitor
	retry      *time.Timer
	generation uint64 // bumped whenever a pending retry must be ignored
	span       trace.Span
	closed     bool
}

// New creates a Channel. A nil dialer uses the gorilla dialer with default
// settings.
func New(cfg Config, dialer transport.Dialer, logger *slog.Logger, opts ...Option) (*Channel, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dialer == nil {
		dialer = transport.NewDialer(transport.DefaultConfig(), logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		mux:      events.New(logger),
		queue:    outbound.NewQueue(),
		dispatch: buffer.New[emission](64),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.mux.OnFailure(func(name string, err error) {
		c.metrics.RecordListenerFailure(name)
	})
	c.metrics.SetConnectionState(int(StateDisconnected))

	go c.dispatchLoop()
	return c, nil
}

// Connect starts connecting with the given credential and returns
// immediately; the outcome is reported through events. It is a no-op while
// connecting or connected. A pending retry is cancelled and the attempt
// counter reset.
func (c *Channel) Connect(credential string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.credential = credential

	if c.state != StateDisconnected {
		c.logger.Debug("connect ignored", "state", c.state)
		return nil
	}

	c.cancelRetryLocked()
	c.attempt = 0
	c.openLocked()
	return nil
}

// Disconnect closes the connection and cancels any pending retry and the
// heartbeat. Safe to call from any state, including from a listener.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	h := c.disconnectLocked()
	c.mu.Unlock()

	if h != nil {
		h.Close()
	}
}

// Close disconnects and stops event dispatch. Events already emitted are
// still delivered; Done is closed afterwards.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	h := c.disconnectLocked()
	c.closed = true
	c.mu.Unlock()

	if h != nil {
		h.Close()
	}
	c.cancel()
	c.dispatch.Close()
	return nil
}

// Done is closed once the channel is closed and all events are delivered.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Send transmits an event. While not connected, or while older messages
// are still queued, the message is queued and flushed after the next open.
// Only a payload that cannot be marshalled is reported as an error.
func (c *Channel) Send(event string, payload any) error {
	if event == "" {
		return ErrEmptyEvent
	}
	data, err := wire.Marshal(payload)
	if err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	msg := outbound.NewMessage(event, data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if c.state == StateConnected && c.handle != nil && c.queue.Len() == 0 {
		err := c.transmit(c.handle, msg)
		if err == nil {
			return nil
		}
		c.logger.Debug("send failed, queueing", "event", event, "error", err)
	}

	c.queue.Enqueue(msg)
	c.metrics.SetQueueDepth(c.queue.Len())
	return nil
}

// On registers a listener for name.
func (c *Channel) On(name string, handler events.Handler) *events.Subscription {
	return c.mux.On(name, handler)
}

// Off removes a listener registered with On.
func (c *Channel) Off(name string, sub *events.Subscription) bool {
	return c.mux.Off(name, sub)
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the state is StateConnected.
func (c *Channel) IsConnected() bool {
	return c.State() == StateConnected
}

// Pending returns the queued outbound messages in send order.
func (c *Channel) Pending() []outbound.Message {
	return c.queue.Snapshot()
}

// Stats returns a snapshot of the channel.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		State:        c.state,
		Attempt:      c.attempt,
		QueueDepth:   c.queue.Len(),
		RetryPending: c.retry != nil,
	}
	if c.handle != nil {
		s.HandleID = c.handle.ID().String()
	}
	return s
}

// openLocked moves to Connecting and opens a new handle.
func (c *Channel) openLocked() {
	c.setStateLocked(StateConnecting)

	_, span := c.tracer.Start(c.ctx, "channel.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("channel.url", c.cfg.URL),
			attribute.Int("channel.attempt", c.attempt),
		),
	)
	c.span = span

	c.handle = c.dialer.Open(c.ctx, c.cfg.URL, c.credential, c.handleSignal)
	c.logger.Info("connecting",
		"url", c.cfg.URL,
		"attempt", c.attempt,
		"handle", c.handle.ID(),
	)
}

// disconnectLocked tears the connection down and returns the handle the
// caller must close after releasing the lock.
func (c *Channel) disconnectLocked() *transport.Handle {
	idle := c.state == StateDisconnected && c.retry == nil

	c.cancelRetryLocked()
	c.stopMonitorLocked()
	h := c.handle
	c.handle = nil
	c.attempt = 0

	if idle {
		return h
	}

	c.endSpanLocked(nil)
	c.setStateLocked(StateDisconnected)
	c.logger.Info("channel disconnected by client")
	c.emitLocked(EventDisconnected, DisconnectedEvent{Code: CloseClientCode, Reason: CloseClientReason})
	return h
}

func (c *Channel) handleSignal(sig transport.Signal) {
	switch sig.Kind {
	case transport.SignalOpened:
		c.handleOpened(sig.Handle)
	case transport.SignalFrame:
		c.handleFrame(sig)
	case transport.SignalClosed:
		c.handleLost(sig.Handle, sig.Code, sig.Reason, nil)
	case transport.SignalFailed:
		err := sig.Err
		if err == nil {
			err = ErrTransportFailed
		}
		c.handleLost(sig.Handle, transport.CloseAbnormal, err.Error(), err)
	}
}

func (c *Channel) handleOpened(h *transport.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || h != c.handle || c.state != StateConnecting {
		return
	}

	c.attempt = 0
	c.setStateLocked(StateConnected)
	c.endSpanLocked(nil)
	c.logger.Info("channel connected", "handle", h.ID())
	c.emitLocked(EventConnected, ConnectedEvent{HandleID: h.ID().String()})

	mon := heartbeat.New(c.cfg.Heartbeat, func() { c.handleHeartbeatTimeout(h) }, c.logger)
	mon.Start(c.heartbeatSender(h))
	c.monitor = mon

	c.flushLocked(h)
}

func (c *Channel) handleFrame(sig transport.Signal) {
	c.mu.Lock()
	current := !c.closed && sig.Handle == c.handle && c.state == StateConnected
	mon := c.monitor
	c.mu.Unlock()

	if !current {
		return
	}

	frame, err := wire.Decode(sig.Data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err, "size", len(sig.Data))
		c.metrics.RecordFrameDropped("malformed")
		return
	}
	c.metrics.RecordFrameReceived(frame.Event)

	if mon != nil && mon.Intercept(frame.Event) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || sig.Handle != c.handle {
		return
	}
	if !isLifecycleEvent(frame.Event) {
		c.emitLocked(frame.Event, frame)
	}
	c.emitLocked(EventMessage, frame)
}

// handleLost reacts to the end of the current handle.
func (c *Channel) handleLost(h *transport.Handle, code int, reason string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || h == nil || h != c.handle {
		return
	}

	c.handle = nil
	c.stopMonitorLocked()

	if err != nil {
		c.endSpanLocked(err)
		c.logger.Warn("channel failed", "error", err)
		c.emitLocked(EventError, ErrorEvent{Err: err})
	} else {
		c.endSpanLocked(fmt.Errorf("closed: %d %s", code, reason))
		c.logger.Info("channel closed", "code", code, "reason", reason)
	}

	c.setStateLocked(StateDisconnected)
	c.emitLocked(EventDisconnected, DisconnectedEvent{Code: code, Reason: reason})
	c.scheduleRetryLocked()
}

func (c *Channel) handleHeartbeatTimeout(h *transport.Handle) {
	c.handleLost(h, transport.CloseAbnormal, ErrPongTimeout.Error(), ErrPongTimeout)
	h.Close()
}

// scheduleRetryLocked arms the next retry or gives up at the ceiling.
func (c *Channel) scheduleRetryLocked() {
	if c.attempt >= c.cfg.MaxReconnectAttempts {
		c.logger.Error("reconnect attempts exhausted", "attempts", c.attempt)
		c.metrics.RecordReconnectExhausted()
		c.emitLocked(EventReconnectFailed, ReconnectFailedEvent{Attempts: c.attempt})
		return
	}

	c.attempt++
	delay := c.cfg.Backoff.Delay(c.attempt)

	c.generation++
	gen := c.generation
	c.retry = time.AfterFunc(delay, func() { c.fireRetry(gen) })

	c.metrics.RecordReconnectAttempt()
	c.logger.Info("reconnection scheduled", "attempt", c.attempt, "delay", delay)
	c.emitLocked(EventReconnecting, ReconnectingEvent{Attempt: c.attempt, Delay: delay})
}

func (c *Channel) fireRetry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.generation || c.state != StateDisconnected {
		return
	}
	c.retry = nil
	c.openLocked()
}

func (c *Channel) cancelRetryLocked() {
	c.generation++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Channel) stopMonitorLocked() {
	if c.monitor != nil {
		c.monitor.Stop()
		c.monitor = nil
	}
}

func (c *Channel) flushLocked(h *transport.Handle) {
	if c.queue.Len() == 0 {
		return
	}

	sent, err := c.queue.Flush(func(m outbound.Message) error {
		return c.transmit(h, m)
	})
	c.metrics.SetQueueDepth(c.queue.Len())

	if err != nil {
		c.logger.Warn("queue flush interrupted",
			"sent", sent,
			"remaining", c.queue.Len(),
			"error", err,
		)
		return
	}
	c.logger.Info("queue flushed", "sent", sent)
}

func (c *Channel) transmit(h *transport.Handle, msg outbound.Message) error {
	data, err := wire.Encode(msg.Event, msg.Payload, wire.NewTimestamp(msg.CreatedAt))
	if err != nil {
		return err
	}
	if err := h.Send(data); err != nil {
		return err
	}
	c.metrics.RecordFrameSent()
	return nil
}

// heartbeatSender writes heartbeat frames straight to h without taking mu.
func (c *Channel) heartbeatSender(h *transport.Handle) heartbeat.SendFunc {
	return func(event string) error {
		data, err := wire.Encode(event, nil, wire.Timestamp{})
		if err != nil {
			return err
		}
		if err := h.Send(data); err != nil {
			return err
		}
		if event == wire.EventPing {
			c.metrics.RecordHeartbeat()
		}
		c.metrics.RecordFrameSent()
		return nil
	}
}

func (c *Channel) setStateLocked(s State) {
	if s == c.state {
		return
	}
	from := c.state
	c.state = s
	c.metrics.SetConnectionState(int(s))
	c.emitLocked(EventStateChange, StateChangeEvent{From: from, To: s})
}

func (c *Channel) endSpanLocked(err error) {
	if c.span == nil {
		return
	}
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	} else {
		c.span.SetStatus(codes.Ok, "")
	}
	c.span.End()
	c.span = nil
}

// emitLocked queues an event for the dispatcher. Holding mu keeps emissions
// in the order the transitions happened.
func (c *Channel) emitLocked(name string, data any) {
	c.dispatch.Push(emission{name: name, data: data})
}

func (c *Channel) dispatchLoop() {
	defer close(c.done)
	for {
		e, ok := c.dispatch.Receive()
		if !ok {
			return
		}
		c.mux.Emit(e.name, e.data)
	}
}

func isLifecycleEvent(name string) bool {
	switch name {
	case EventConnected, EventDisconnected, EventError, EventReconnecting,
		EventReconnectFailed, EventMessage, EventStateChange:
		return true
	}
	return false
}
