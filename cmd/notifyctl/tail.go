package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/notify-channel/internal/channel"
	"github.com/rickgao/notify-channel/internal/config"
	"github.com/rickgao/notify-channel/internal/events"
	"github.com/rickgao/notify-channel/internal/notify"
	"github.com/rickgao/notify-channel/internal/wire"
)

func tailCmd(opts *rootOptions) *cobra.Command {
	var (
		token     string
		platforms []string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Connect to the hub and log every notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if token != "" {
				cfg.Channel.Token = token
			}
			if err := cfg.ValidateChannel(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runTail(ctx, cfg, platforms, logger)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "override channel.token")
	cmd.Flags().StringSliceVar(&platforms, "platform", nil, "platforms to subscribe to (repeatable)")

	return cmd
}

func runTail(ctx context.Context, cfg *config.Config, platforms []string, logger *slog.Logger) error {
	m, reg := newMetrics()

	client, err := newClient(cfg, m, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	exhausted := make(chan int, 1)
	watchClient(client, logger, exhausted)

	for _, p := range platforms {
		if err := client.SubscribeToPlatform(p); err != nil {
			return err
		}
	}
	if err := client.Connect(cfg.Channel.Token); err != nil {
		return err
	}

	adminServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: adminRouter(cfg, reg, func() (any, bool) {
			stats := client.Channel().Stats()
			return map[string]any{
				"state":       stats.State.String(),
				"attempt":     stats.Attempt,
				"queue_depth": stats.QueueDepth,
				"unread":      client.UnreadCount(),
				"platforms":   client.Platforms(),
			}, stats.State != channel.StateDisconnected || stats.RetryPending
		}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, adminServer, logger.With("server", "admin"))
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case attempts := <-exhausted:
			return fmt.Errorf("%w after %d attempts", channel.ErrTransportFailed, attempts)
		}
	})

	err = g.Wait()
	client.Disconnect()
	return err
}

// watchClient logs lifecycle events and notifications.
func watchClient(client *notify.Client, logger *slog.Logger, exhausted chan<- int) {
	client.On(channel.EventConnected, func(events.Event) error {
		logger.Info("connected", "user", client.UserID())
		return nil
	})
	client.On(channel.EventDisconnected, func(ev events.Event) error {
		if d, ok := ev.Data.(channel.DisconnectedEvent); ok {
			logger.Info("disconnected", "code", d.Code, "reason", d.Reason)
		}
		return nil
	})
	client.On(channel.EventReconnecting, func(ev events.Event) error {
		if r, ok := ev.Data.(channel.ReconnectingEvent); ok {
			logger.Info("reconnecting", "attempt", r.Attempt, "delay", r.Delay)
		}
		return nil
	})
	client.On(channel.EventReconnectFailed, func(ev events.Event) error {
		if r, ok := ev.Data.(channel.ReconnectFailedEvent); ok {
			select {
			case exhausted <- r.Attempts:
			default:
			}
		}
		return nil
	})
	client.On(channel.EventError, func(ev events.Event) error {
		if e, ok := ev.Data.(channel.ErrorEvent); ok {
			logger.Warn("channel error", "error", e.Err)
		}
		return nil
	})
	client.On(wire.EventNotification, func(ev events.Event) error {
		frame, ok := ev.Data.(wire.Frame)
		if !ok {
			return nil
		}
		var n wire.Notification
		if err := frame.DecodeData(&n); err != nil {
			return err
		}
		logger.Info("notification",
			"id", n.ID,
			"type", n.Type,
			"platform", n.PlatformName(),
			"title", n.Title,
			"message", n.Message,
			"unread", client.UnreadCount(),
		)
		return nil
	})
}
