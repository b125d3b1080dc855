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

	"github.com/rickgao/notify-channel/internal/config"
	"github.com/rickgao/notify-channel/internal/hub"
	"github.com/rickgao/notify-channel/internal/intake"
	"github.com/rickgao/notify-channel/internal/version"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the notification hub",
		Long: `Run the websocket hub on hub.listen_addr together with the notification
REST API, the health and metrics server, and, when amqp.url is set, the
publish-request consumer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateHub(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting hub",
		"version", version.Version,
		"commit", version.Commit,
		"listen_addr", cfg.Hub.ListenAddr,
		"history_backend", cfg.Hub.HistoryBackend,
	)

	m, reg := newMetrics()

	store, err := newHistoryStore(ctx, cfg, logger.With("component", "history"))
	if err != nil {
		return err
	}
	defer store.Close()

	h := hub.New(hubConfig(cfg), store, logger.With("component", "hub"), hub.WithMetrics(m))

	hubServer := &http.Server{
		Addr:    cfg.Hub.ListenAddr,
		Handler: h.Routes(),
	}
	adminServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: adminRouter(cfg, reg, func() (any, bool) {
			return h.Stats(), true
		}),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serveHTTP(gctx, hubServer, logger.With("server", "hub"))
	})
	g.Go(func() error {
		return serveHTTP(gctx, adminServer, logger.With("server", "admin"))
	})
	if cfg.AMQP.URL != "" {
		consumer := intake.New(intakeConfig(cfg), h, logger.With("component", "intake"))
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return h.Close(closeCtx)
	})

	err = g.Wait()
	logger.Info("hub stopped", "error", err)
	return err
}
