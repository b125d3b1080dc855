package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/notify-channel/internal/channel"
	"github.com/rickgao/notify-channel/internal/config"
	"github.com/rickgao/notify-channel/internal/events"
	"github.com/rickgao/notify-channel/internal/transport"
)

var errInvalidData = errors.New("--data must be valid JSON")

func sendCmd(opts *rootOptions) *cobra.Command {
	var (
		event   string
		data    string
		token   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one frame over the channel and exit",
		Long: `Queue one frame, connect, wait until the frame has been written to the
socket, then disconnect. Reconnect settings from the channel section apply.`,
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
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return runSend(ctx, cfg, event, data, logger)
		},
	}

	cmd.Flags().StringVarP(&event, "event", "e", "", "event name (required)")
	cmd.Flags().StringVarP(&data, "data", "d", "{}", "JSON payload")
	cmd.Flags().StringVar(&token, "token", "", "override channel.token")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	cmd.MarkFlagRequired("event")

	return cmd
}

func runSend(ctx context.Context, cfg *config.Config, event, data string, logger *slog.Logger) error {
	if !json.Valid([]byte(data)) {
		return errInvalidData
	}

	dialer := transport.NewDialer(transportConfig(cfg), logger)
	ch, err := channel.New(channelConfig(cfg), dialer, logger)
	if err != nil {
		return err
	}
	defer ch.Close()

	failed := make(chan int, 1)
	ch.On(channel.EventReconnectFailed, func(ev events.Event) error {
		if r, ok := ev.Data.(channel.ReconnectFailedEvent); ok {
			select {
			case failed <- r.Attempts:
			default:
			}
		}
		return nil
	})

	if err := ch.Send(event, json.RawMessage(data)); err != nil {
		return err
	}
	if err := ch.Connect(cfg.Channel.Token); err != nil {
		return err
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("send %s: %w", event, ctx.Err())
		case attempts := <-failed:
			return fmt.Errorf("send %s: %w after %d attempts", event, channel.ErrTransportFailed, attempts)
		case <-ticker.C:
			stats := ch.Stats()
			if stats.State == channel.StateConnected && stats.QueueDepth == 0 {
				logger.Info("frame sent", "event", event, "handle", stats.HandleID)
				ch.Disconnect()
				return nil
			}
		}
	}
}
