package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/notify-channel/internal/channel"
	"github.com/rickgao/notify-channel/internal/config"
	"github.com/rickgao/notify-channel/internal/database"
	"github.com/rickgao/notify-channel/internal/heartbeat"
	"github.com/rickgao/notify-channel/internal/history"
	"github.com/rickgao/notify-channel/internal/hub"
	"github.com/rickgao/notify-channel/internal/intake"
	"github.com/rickgao/notify-channel/internal/metrics"
	"github.com/rickgao/notify-channel/internal/notify"
	"github.com/rickgao/notify-channel/internal/transport"
	"github.com/rickgao/notify-channel/internal/version"
)

const shutdownTimeout = 10 * time.Second

func channelConfig(cfg *config.Config) channel.Config {
	return channel.Config{
		URL: cfg.Channel.URL,
		Heartbeat: heartbeat.Config{
			Interval:    cfg.Channel.HeartbeatInterval,
			PongTimeout: cfg.Channel.PongTimeout,
		},
		Backoff: channel.Backoff{
			Base:   cfg.Channel.ReconnectBaseDelay,
			Max:    cfg.Channel.ReconnectMaxDelay,
			Jitter: cfg.Channel.ReconnectJitter,
		},
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
	}
}

func transportConfig(cfg *config.Config) transport.Config {
	tc := transport.DefaultConfig()
	tc.HandshakeTimeout = cfg.Channel.HandshakeTimeout
	tc.WriteTimeout = cfg.Channel.WriteTimeout
	return tc
}

func hubConfig(cfg *config.Config) hub.Config {
	hc := hub.DefaultConfig()
	hc.ReplayCount = cfg.Hub.ReplayCount
	hc.PingInterval = cfg.Hub.PingInterval
	hc.WriteTimeout = cfg.Hub.WriteTimeout
	return hc
}

func historyConfig(cfg *config.Config) history.Config {
	return history.Config{
		Retention: cfg.Hub.Retention,
		TTL:       cfg.Hub.HistoryTTL,
	}
}

func intakeConfig(cfg *config.Config) intake.Config {
	ic := intake.DefaultConfig()
	ic.URL = cfg.AMQP.URL
	ic.Queue = cfg.AMQP.Queue
	ic.Prefetch = cfg.AMQP.Prefetch
	return ic
}

// newClient builds a notify client from the channel section.
func newClient(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*notify.Client, error) {
	dialer := transport.NewDialer(transportConfig(cfg), logger.With("component", "transport"))

	ch, err := channel.New(channelConfig(cfg), dialer, logger.With("component", "channel"), channel.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	return notify.New(ch, notify.Config{Retention: cfg.Channel.NotificationRetention}, logger), nil
}

// newHistoryStore opens the configured history backend.
func newHistoryStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (history.Store, error) {
	hc := historyConfig(cfg)

	switch cfg.Hub.HistoryBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("history backend ready", "backend", "redis", "addr", cfg.Redis.Addr)
		return history.NewRedisStore(client, hc, logger), nil

	case config.BackendPostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := history.NewPostgresStore(ctx, pool, hc, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("history backend ready", "backend", "postgres", "host", cfg.Database.Host)
		return store, nil

	default:
		logger.Info("history backend ready", "backend", "memory")
		return history.NewMemoryStore(hc), nil
	}
}

// healthFunc reports component status for /health. A false ok answers 503.
type healthFunc func() (status any, ok bool)

// adminRouter serves /health and the Prometheus endpoint.
func adminRouter(cfg *config.Config, gatherer prometheus.Gatherer, health healthFunc) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, ok := health()
		body := map[string]any{
			"status":  "healthy",
			"version": version.Get(),
			"details": status,
		}

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			body["status"] = "unhealthy"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(body)
	})

	r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(metrics.Config{Namespace: "notify", Registry: reg}), reg
}
