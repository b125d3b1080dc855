// Package intake turns publish requests arriving on an AMQP queue into hub
// publications, so other services can notify users without holding a
// websocket.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rickgao/notify-channel/internal/hub"
	"github.com/rickgao/notify-channel/internal/wire"
)

// Publisher is the part of hub.Hub the consumer needs.
type Publisher interface {
	Publish(ctx context.Context, req hub.PublishRequest) (wire.Notification, int, error)
}

// Config configures a Consumer.
type Config struct {
	URL          string
	Queue        string
	Prefetch     int
	DialAttempts int
	DialBackoff  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Queue:        "notifications",
		Prefetch:     16,
		DialAttempts: 5,
		DialBackoff:  5 * time.Second,
	}
}

// Stats holds consumer counters.
type Stats struct {
	Published int64
	Skipped   int64
	Requeued  int64
}

// Consumer reads JSON hub.PublishRequest bodies from a durable queue.
type Consumer struct {
	cfg    Config
	pub    Publisher
	logger *slog.Logger
	stats  Stats
}

// New creates a Consumer.
func New(cfg Config, pub Publisher, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, pub: pub, logger: logger}
}

// Run consumes until ctx is cancelled or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}
	if c.cfg.Prefetch > 0 {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	c.logger.Info("intake consumer started", "queue", q.Name, "prefetch", c.cfg.Prefetch)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("intake consumer stopped", "published", c.stats.Published)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed by broker")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) dial(ctx context.Context) (*amqp.Connection, error) {
	attempts := max(c.cfg.DialAttempts, 1)

	var err error
	for i := 1; i <= attempts; i++ {
		var conn *amqp.Connection
		if conn, err = amqp.Dial(c.cfg.URL); err == nil {
			c.logger.Info("connected to amqp broker")
			return conn, nil
		}
		if i == attempts {
			break
		}
		c.logger.Warn("amqp dial failed, retrying", "attempt", i, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.DialBackoff):
		}
	}
	return nil, fmt.Errorf("dial amqp after %d attempts: %w", attempts, err)
}

// handleDelivery publishes one request. Bodies that can never succeed are
// acked and dropped; other failures are requeued.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var req hub.PublishRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		c.logger.Warn("skipping malformed publish request", "error", err)
		c.stats.Skipped++
		d.Ack(false)
		return
	}

	n, delivered, err := c.pub.Publish(ctx, req)
	switch {
	case errors.Is(err, hub.ErrInvalidRequest):
		c.logger.Warn("skipping invalid publish request", "error", err)
		c.stats.Skipped++
		d.Ack(false)
	case err != nil:
		c.logger.Error("publish failed, requeueing", "error", err)
		c.stats.Requeued++
		d.Nack(false, true)
	default:
		c.logger.Debug("publish request handled", "id", n.ID, "delivered", delivered)
		c.stats.Published++
		d.Ack(false)
	}
}

// Stats returns counters. Only safe to call after Run returns or from tests.
func (c *Consumer) Stats() Stats {
	return c.stats
}
