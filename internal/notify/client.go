// Package notify is the application-facing entry point of the notification
// channel. It wraps a channel.Channel with platform subscriptions and a
// retention-capped inbox.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/notify-channel/internal/channel"
	"github.com/rickgao/notify-channel/internal/events"
	"github.com/rickgao/notify-channel/internal/wire"
)

// Errors
var (
	ErrUnknownNotification = errors.New("unknown notification")
	ErrEmptyPlatform       = errors.New("platform name is required")
)

const changeEvent = "change"

// Config configures a Client.
type Config struct {
	Retention int // Notifications kept in the inbox
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Retention: DefaultRetention}
}

// Client exposes connect/send/subscribe operations and the derived inbox.
type Client struct {
	ch     *channel.Channel
	inbox  *Inbox
	logger *slog.Logger

	changes *events.Multiplexer
	subs    []*events.Subscription

	mu        sync.Mutex
	userID    string
	platforms map[string]struct{} // acknowledged by the server
}

// New wraps ch. The Client registers its own listeners on ch; Close removes
// them.
func New(ch *channel.Channel, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		ch:        ch,
		inbox:     NewInbox(cfg.Retention),
		logger:    logger,
		changes:   events.New(logger),
		platforms: make(map[string]struct{}),
	}

	c.subs = []*events.Subscription{
		ch.On(wire.EventNotification, c.handleNotification),
		ch.On(wire.EventSubscribed, c.handleSubscribed),
		ch.On(wire.EventUnsubscribed, c.handleUnsubscribed),
		ch.On(channel.EventMessage, c.handleHello),
		ch.On(channel.EventConnected, c.handleConnected),
	}
	return c
}

// Connect starts connecting with credential. See channel.Channel.Connect.
func (c *Client) Connect(credential string) error {
	return c.ch.Connect(credential)
}

// Disconnect closes the connection and cancels pending retries.
func (c *Client) Disconnect() {
	c.ch.Disconnect()
}

// Close removes the Client's listeners and closes the channel.
func (c *Client) Close() error {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	return c.ch.Close()
}

// Send transmits an application event, queueing it while disconnected.
func (c *Client) Send(event string, payload any) error {
	return c.ch.Send(event, payload)
}

// On registers a listener on the underlying channel.
func (c *Client) On(name string, handler events.Handler) *events.Subscription {
	return c.ch.On(name, handler)
}

// Off removes a listener registered with On.
func (c *Client) Off(name string, sub *events.Subscription) bool {
	return c.ch.Off(name, sub)
}

// IsConnected reports whether the channel is connected.
func (c *Client) IsConnected() bool {
	return c.ch.IsConnected()
}

// State returns the channel state.
func (c *Client) State() channel.State {
	return c.ch.State()
}

// Channel returns the wrapped channel.
func (c *Client) Channel() *channel.Channel {
	return c.ch
}

// UserID returns the user id announced by the server's hello frame.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// SubscribeToPlatform asks the server for notifications about name.
func (c *Client) SubscribeToPlatform(name string) error {
	if name == "" {
		return ErrEmptyPlatform
	}
	return c.ch.Send(wire.EventSubscribe, wire.PlatformParams{Platform: name})
}

// UnsubscribeFromPlatform stops notifications about name.
func (c *Client) UnsubscribeFromPlatform(name string) error {
	if name == "" {
		return ErrEmptyPlatform
	}
	c.mu.Lock()
	delete(c.platforms, name)
	c.mu.Unlock()

	return c.ch.Send(wire.EventUnsubscribe, wire.PlatformParams{Platform: name})
}

// Platforms returns the platforms the server confirmed, sorted.
func (c *Client) Platforms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.platforms))
	for p := range c.platforms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Notifications returns the inbox, most recent first.
func (c *Client) Notifications() []wire.Notification {
	return c.inbox.List()
}

// UnreadCount returns the number of unread notifications.
func (c *Client) UnreadCount() int {
	return c.inbox.UnreadCount()
}

// MarkAsRead flags a notification as read and tells the server.
func (c *Client) MarkAsRead(id string) error {
	if !c.inbox.MarkRead(id) {
		return fmt.Errorf("%w: %s", ErrUnknownNotification, id)
	}
	c.changes.Emit(changeEvent, nil)
	return c.ch.Send(wire.EventMarkRead, wire.MarkReadParams{NotificationID: id})
}

// MarkAllAsRead flags every notification as read and tells the server.
func (c *Client) MarkAllAsRead() error {
	if c.inbox.MarkAllRead() > 0 {
		c.changes.Emit(changeEvent, nil)
	}
	return c.ch.Send(wire.EventMarkAllRead, nil)
}

// ClearNotifications empties the inbox.
func (c *Client) ClearNotifications() {
	c.inbox.Clear()
	c.changes.Emit(changeEvent, nil)
}

// OnChange calls fn whenever the inbox changes.
func (c *Client) OnChange(fn func()) *events.Subscription {
	return c.changes.On(changeEvent, func(events.Event) error {
		fn()
		return nil
	})
}

func (c *Client) handleNotification(ev events.Event) error {
	frame, ok := ev.Data.(wire.Frame)
	if !ok {
		return nil
	}

	var n wire.Notification
	if err := frame.DecodeData(&n); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = frame.Timestamp
	}

	if !c.inbox.Add(n) {
		c.logger.Debug("duplicate notification ignored", "id", n.ID)
		return nil
	}
	c.changes.Emit(changeEvent, nil)
	return nil
}

func (c *Client) handleHello(ev events.Event) error {
	frame, ok := ev.Data.(wire.Frame)
	if !ok || frame.Event != wire.EventConnected {
		return nil
	}

	var hello wire.HelloData
	if err := frame.DecodeData(&hello); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	c.mu.Lock()
	c.userID = ""
	if hello.UserID != nil {
		c.userID = *hello.UserID
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) handleSubscribed(ev events.Event) error {
	return c.trackPlatform(ev, true)
}

func (c *Client) handleUnsubscribed(ev events.Event) error {
	return c.trackPlatform(ev, false)
}

func (c *Client) trackPlatform(ev events.Event, subscribed bool) error {
	frame, ok := ev.Data.(wire.Frame)
	if !ok {
		return nil
	}

	var p wire.PlatformParams
	if err := frame.DecodeData(&p); err != nil {
		return fmt.Errorf("decode %s: %w", frame.Event, err)
	}
	if p.Platform == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if subscribed {
		c.platforms[p.Platform] = struct{}{}
	} else {
		delete(c.platforms, p.Platform)
	}
	return nil
}

// handleConnected restores confirmed platform subscriptions after a
// reconnect; the server forgets them with the old connection.
func (c *Client) handleConnected(events.Event) error {
	platforms := c.Platforms()
	for _, p := range platforms {
		if err := c.ch.Send(wire.EventSubscribe, wire.PlatformParams{Platform: p}); err != nil {
			return err
		}
	}
	if len(platforms) > 0 {
		c.logger.Info("platform subscriptions restored", "count", len(platforms))
	}
	return nil
}
