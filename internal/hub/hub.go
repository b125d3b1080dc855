// Package hub is the server end of the notification channel.
//
// Clients connect to /ws/notifications with an optional token query
// parameter that identifies the user. On accept the hub sends a connected
// frame and replays recent history. Notifications are published to one user
// or broadcast, optionally filtered by platform subscription, and appended
// to a history.Store.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/notify-channel/internal/history"
	"github.com/rickgao/notify-channel/internal/metrics"
	"github.com/rickgao/notify-channel/internal/wire"
)

const tracerName = "github.com/rickgao/notify-channel/internal/hub"

// AllPlatforms subscribes a user to every platform.
const AllPlatforms = "all"

// Errors
var (
	ErrInvalidRequest = errors.New("type, title and message are required")
	ErrClosed         = errors.New("hub closed")
)

// Config configures a Hub.
type Config struct {
	ReplayCount  int           // Stored notifications replayed on connect
	PingInterval time.Duration // 0 disables server pings
	WriteTimeout time.Duration
	ReadLimit    int64 // Max inbound frame size in bytes
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReplayCount:  20,
		WriteTimeout: 5 * time.Second,
		ReadLimit:    64 * 1024,
	}
}

// PublishRequest describes one notification to publish. An empty UserID
// broadcasts; Platform then limits delivery to subscribed users.
type PublishRequest struct {
	Type     string          `json:"type"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	UserID   string          `json:"user_id,omitempty"`
	Platform string          `json:"platform,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Stats is a snapshot of connection counts.
type Stats struct {
	TotalConnections     int `json:"total_connections"`
	AuthenticatedUsers   int `json:"authenticated_users"`
	AnonymousConnections int `json:"anonymous_connections"`
}

// Option configures optional Hub collaborators.
type Option func(*Hub)

// WithMetrics records hub metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithTracer sets the tracer used for publish spans.
func WithTracer(t trace.Tracer) Option {
	return func(h *Hub) {
		h.tracer = t
	}
}

// Hub tracks client connections and fans out notifications.
type Hub struct {
	cfg      Config
	store    history.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	upgrader websocket.Upgrader

	mu            sync.RWMutex
	users         map[string]map[*conn]struct{}
	anonymous     map[*conn]struct{}
	subscriptions map[string]map[string]struct{} // user -> platforms
	closed        bool

	wg sync.WaitGroup
}

// New creates a Hub backed by store.
func New(cfg Config, store history.Store, logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cfg:    cfg,
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		users:         make(map[string]map[*conn]struct{}),
		anonymous:     make(map[*conn]struct{}),
		subscriptions: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS upgrades the request and serves the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}

	c := newConn(ws, r.URL.Query().Get("token"), h.cfg.WriteTimeout)
	if !h.register(c) {
		c.close(websocket.CloseGoingAway, "server shutdown")
		return
	}
	defer h.wg.Done()
	defer h.unregister(c)

	h.serve(r.Context(), c)
}

func (h *Hub) serve(ctx context.Context, c *conn) {
	logger := h.logger.With("conn", c.id, "user", c.userID)

	var userID *string
	if c.authenticated() {
		userID = &c.userID
	}
	if err := c.sendFrame(wire.EventConnected, wire.HelloData{UserID: userID, Timestamp: wire.Now()}); err != nil {
		logger.Warn("send hello failed", "error", err)
		return
	}

	h.replay(ctx, c, logger)

	if h.cfg.PingInterval > 0 {
		go h.pingLoop(c, logger)
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		frame, err := wire.Decode(data)
		if err != nil {
			logger.Debug("dropping malformed frame", "error", err)
			continue
		}
		if err := h.handleFrame(c, frame, logger); err != nil {
			logger.Warn("write failed", "event", frame.Event, "error", err)
			return
		}
	}
}

// replay sends stored notifications oldest first.
func (h *Hub) replay(ctx context.Context, c *conn, logger *slog.Logger) {
	if h.store == nil || h.cfg.ReplayCount <= 0 {
		return
	}

	recent, err := h.store.Recent(ctx, history.Key(c.userID), h.cfg.ReplayCount)
	if err != nil {
		logger.Warn("load history failed", "error", err)
		return
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if err := c.sendFrame(wire.EventNotification, recent[i]); err != nil {
			logger.Warn("replay failed", "error", err)
			return
		}
	}
	if len(recent) > 0 {
		logger.Debug("history replayed", "count", len(recent))
	}
}

func (h *Hub) handleFrame(c *conn, frame wire.Frame, logger *slog.Logger) error {
	switch frame.Event {
	case wire.EventPong:
		return nil

	case wire.EventPing:
		return c.sendFrame(wire.EventPong, nil)

	case wire.EventSubscribe, wire.EventUnsubscribe:
		if !c.authenticated() {
			return nil
		}
		var p wire.PlatformParams
		if err := frame.DecodeData(&p); err != nil || p.Platform == "" {
			return nil
		}
		if frame.Event == wire.EventSubscribe {
			h.subscribe(c.userID, p.Platform)
			return c.sendFrame(wire.EventSubscribed, p)
		}
		h.unsubscribe(c.userID, p.Platform)
		return c.sendFrame(wire.EventUnsubscribed, p)

	case wire.EventMarkRead:
		var p wire.MarkReadParams
		if err := frame.DecodeData(&p); err == nil && p.NotificationID != "" {
			logger.Info("notification marked read", "id", p.NotificationID)
		}
		return nil

	case wire.EventMarkAllRead:
		logger.Info("all notifications marked read")
		return nil

	default:
		logger.Debug("ignoring client event", "event", frame.Event)
		return nil
	}
}

func (h *Hub) pingLoop(c *conn, logger *slog.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.sendFrame(wire.EventPing, nil); err != nil {
				logger.Debug("ping failed", "error", err)
				c.close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	if c.authenticated() {
		set, ok := h.users[c.userID]
		if !ok {
			set = make(map[*conn]struct{})
			h.users[c.userID] = set
		}
		set[c] = struct{}{}
		h.logger.Info("websocket connected", "user", c.userID, "conn", c.id)
	} else {
		h.anonymous[c] = struct{}{}
		h.logger.Info("anonymous websocket connected", "conn", c.id)
	}
	h.wg.Add(1)
	h.metrics.HubConnectionOpened()
	return true
}

// unregister removes c. The last connection of a user takes its platform
// subscriptions with it.
func (h *Hub) unregister(c *conn) {
	c.close(websocket.CloseNormalClosure, "")

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.removeLocked(c) {
		return
	}
	h.metrics.HubConnectionClosed()
	h.logger.Info("websocket disconnected", "user", c.userID, "conn", c.id)
}

func (h *Hub) removeLocked(c *conn) bool {
	if !c.authenticated() {
		if _, ok := h.anonymous[c]; !ok {
			return false
		}
		delete(h.anonymous, c)
		return true
	}

	set, ok := h.users[c.userID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.users, c.userID)
		delete(h.subscriptions, c.userID)
	}
	return true
}

func (h *Hub) subscribe(userID, platform string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscriptions[userID]
	if !ok {
		set = make(map[string]struct{})
		h.subscriptions[userID] = set
	}
	set[platform] = struct{}{}
}

func (h *Hub) unsubscribe(userID, platform string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subscriptions[userID]; ok {
		delete(set, platform)
	}
}

// Subscriptions returns the platforms userID is subscribed to, sorted.
func (h *Hub) Subscriptions(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.subscriptions[userID]))
	for p := range h.subscriptions[userID] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Publish builds a notification from req, delivers it and appends it to
// history. It returns the notification and the number of connections that
// accepted it. History failures are logged, not returned.
func (h *Hub) Publish(ctx context.Context, req PublishRequest) (wire.Notification, int, error) {
	if req.Type == "" || req.Title == "" || req.Message == "" {
		return wire.Notification{}, 0, ErrInvalidRequest
	}

	target := "broadcast"
	if req.UserID != "" {
		target = "user"
	}

	ctx, span := h.tracer.Start(ctx, "hub.publish",
		trace.WithAttributes(
			attribute.String("notification.type", req.Type),
			attribute.String("notification.target", target),
			attribute.String("notification.platform", req.Platform),
		),
	)
	defer span.End()

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		span.SetStatus(codes.Error, ErrClosed.Error())
		return wire.Notification{}, 0, ErrClosed
	}

	n := wire.Notification{
		ID:        uuid.New().String(),
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Timestamp: wire.Now(),
		Data:      req.Data,
	}
	if req.Platform != "" {
		platform := req.Platform
		n.Platform = &platform
	}

	msg, err := h.encodeNotification(n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return wire.Notification{}, 0, err
	}

	delivered := h.deliver(h.targets(req.UserID, req.Platform), msg)
	span.SetAttributes(attribute.Int("notification.delivered", delivered))
	h.metrics.RecordPublished(target)

	if h.store != nil {
		if err := h.store.Append(ctx, history.Key(req.UserID), n); err != nil {
			span.RecordError(err)
			h.logger.Warn("store notification failed", "id", n.ID, "error", err)
		}
	}

	span.SetStatus(codes.Ok, "")
	h.logger.Debug("notification published",
		"id", n.ID,
		"type", n.Type,
		"target", target,
		"delivered", delivered,
	)
	return n, delivered, nil
}

func (h *Hub) encodeNotification(n wire.Notification) ([]byte, error) {
	data, err := wire.Marshal(n)
	if err != nil {
		return nil, err
	}
	return wire.Encode(wire.EventNotification, data, n.Timestamp)
}

// targets collects the connections a publication goes to.
func (h *Hub) targets(userID, platform string) []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*conn
	if userID != "" {
		for c := range h.users[userID] {
			out = append(out, c)
		}
		return out
	}

	for user, set := range h.users {
		if platform != "" && !h.subscribedLocked(user, platform) {
			continue
		}
		for c := range set {
			out = append(out, c)
		}
	}
	for c := range h.anonymous {
		out = append(out, c)
	}
	return out
}

func (h *Hub) subscribedLocked(userID, platform string) bool {
	subs := h.subscriptions[userID]
	if _, ok := subs[platform]; ok {
		return true
	}
	_, ok := subs[AllPlatforms]
	return ok
}

// deliver writes msg to every target and prunes the ones that fail.
func (h *Hub) deliver(targets []*conn, msg []byte) int {
	var dead []*conn
	delivered := 0
	for _, c := range targets {
		if err := c.write(msg); err != nil {
			h.logger.Warn("dropping dead connection", "user", c.userID, "conn", c.id, "error", err)
			dead = append(dead, c)
			continue
		}
		delivered++
	}

	for _, c := range dead {
		h.unregister(c)
	}
	return delivered
}

// Stats returns connection counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	authenticated := 0
	for _, set := range h.users {
		authenticated += len(set)
	}
	return Stats{
		TotalConnections:     authenticated + len(h.anonymous),
		AuthenticatedUsers:   len(h.users),
		AnonymousConnections: len(h.anonymous),
	}
}

// Recent returns stored notifications for userID, newest first.
func (h *Hub) Recent(ctx context.Context, userID string, limit int) ([]wire.Notification, error) {
	if h.store == nil {
		return nil, nil
	}
	return h.store.Recent(ctx, history.Key(userID), limit)
}

// Close disconnects every client and waits for their handlers to return.
// The history store is left open.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var all []*conn
	for _, set := range h.users {
		for c := range set {
			all = append(all, c)
		}
	}
	for c := range h.anonymous {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.close(websocket.CloseGoingAway, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub closed", "connections", len(all))
		return nil
	case <-ctx.Done():
		h.logger.Warn("hub close timed out")
		return ctx.Err()
	}
}
