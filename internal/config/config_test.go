package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
channel:
  url: ws://localhost:8000/ws/notifications
  token: user-1
  heartbeat_interval: 15s
  pong_timeout: 45s
hub:
  listen_addr: ":9000"
  history_backend: redis
redis:
  addr: redis:6379
  db: 2
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Channel.URL != "ws://localhost:8000/ws/notifications" {
		t.Errorf("Channel.URL = %q", cfg.Channel.URL)
	}
	if cfg.Channel.Token != "user-1" {
		t.Errorf("Channel.Token = %q, want %q", cfg.Channel.Token, "user-1")
	}
	if cfg.Channel.HeartbeatInterval != 15*time.Second {
		t.Errorf("Channel.HeartbeatInterval = %v, want 15s", cfg.Channel.HeartbeatInterval)
	}
	if cfg.Channel.PongTimeout != 45*time.Second {
		t.Errorf("Channel.PongTimeout = %v, want 45s", cfg.Channel.PongTimeout)
	}
	if cfg.Hub.HistoryBackend != BackendRedis {
		t.Errorf("Hub.HistoryBackend = %q, want redis", cfg.Hub.HistoryBackend)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("Redis.DB = %d, want 2", cfg.Redis.DB)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_CHANNEL_TOKEN", "secret123")
	t.Setenv("TEST_DB_PASSWORD", "dbpass")

	yaml := `
channel:
  url: ws://localhost:8000/ws/notifications
  token: ${TEST_CHANNEL_TOKEN}
database:
  host: localhost
  name: notify
  user: notify
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Channel.Token != "secret123" {
		t.Errorf("Channel.Token = %q, want %q", cfg.Channel.Token, "secret123")
	}
	if cfg.Database.Password != "dbpass" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "dbpass")
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeTempFile(t, "channel: [not, a, map")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
channel:
  url: ws://localhost:8000/ws/notifications
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Channel.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval = %v, want default %v", cfg.Channel.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.Channel.PongTimeout != 0 {
		t.Errorf("PongTimeout = %v, want 0 (watchdog off)", cfg.Channel.PongTimeout)
	}
	if cfg.Channel.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("ReconnectBaseDelay = %v, want default %v", cfg.Channel.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Channel.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %d, want default %d", cfg.Channel.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Channel.NotificationRetention != DefaultNotificationRetention {
		t.Errorf("NotificationRetention = %d, want default %d", cfg.Channel.NotificationRetention, DefaultNotificationRetention)
	}
	if cfg.Hub.HistoryBackend != DefaultHistoryBackend {
		t.Errorf("HistoryBackend = %q, want default %q", cfg.Hub.HistoryBackend, DefaultHistoryBackend)
	}
	if cfg.Hub.ReplayCount != DefaultReplayCount {
		t.Errorf("ReplayCount = %d, want default %d", cfg.Hub.ReplayCount, DefaultReplayCount)
	}
	if cfg.Hub.HistoryTTL != DefaultHistoryTTL {
		t.Errorf("HistoryTTL = %v, want default %v", cfg.Hub.HistoryTTL, DefaultHistoryTTL)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "log:\n  level: verbose\n")
	if _, err := LoadAndValidate(path); err == nil {
		t.Error("expected validation error for bad log level")
	}

	path = writeTempFile(t, "channel:\n  url: ws://localhost/ws\n")
	if _, err := LoadAndValidate(path); err != nil {
		t.Errorf("LoadAndValidate failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "http url",
			mutate:  func(c *Config) { c.Channel.URL = "http://localhost/ws" },
			wantErr: `channel.url must be a ws:// or wss:// url, got "http://localhost/ws"`,
		},
		{
			name:    "negative pong timeout",
			mutate:  func(c *Config) { c.Channel.PongTimeout = -time.Second },
			wantErr: "channel.pong_timeout must be >= 0",
		},
		{
			name: "max delay below base",
			mutate: func(c *Config) {
				c.Channel.ReconnectBaseDelay = 2 * time.Second
				c.Channel.ReconnectMaxDelay = time.Second
			},
			wantErr: "channel.reconnect_max_delay (1s) cannot be less than reconnect_base_delay (2s)",
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *Config) { c.Channel.ReconnectJitter = 1.5 },
			wantErr: "channel.reconnect_jitter must be between 0 and 1, got 1.5",
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assertErr(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidateChannel(t *testing.T) {
	cfg := Default()
	assertErr(t, cfg.ValidateChannel(), "channel.url is required")

	cfg.Channel.URL = "wss://example.com/ws/notifications"
	assertErr(t, cfg.ValidateChannel(), "")
}

func TestValidateHub(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "memory backend",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Hub.HistoryBackend = "sqlite" },
			wantErr: `hub.history_backend must be one of memory, redis, postgres, got "sqlite"`,
		},
		{
			name:    "replay exceeds retention",
			mutate:  func(c *Config) { c.Hub.ReplayCount = 200 },
			wantErr: "hub.replay_count (200) must be between 0 and retention (100)",
		},
		{
			name: "redis without addr",
			mutate: func(c *Config) {
				c.Hub.HistoryBackend = BackendRedis
				c.Redis.Addr = ""
			},
			wantErr: "redis.addr is required",
		},
		{
			name:    "postgres missing host",
			mutate:  func(c *Config) { c.Hub.HistoryBackend = BackendPostgres },
			wantErr: "database.host is required",
		},
		{
			name: "postgres min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Hub.HistoryBackend = BackendPostgres
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "postgres valid",
			mutate: func(c *Config) {
				c.Hub.HistoryBackend = BackendPostgres
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assertErr(t, cfg.ValidateHub(), tt.wantErr)
		})
	}
}

func assertErr(t *testing.T, err error, want string) {
	t.Helper()
	if want == "" {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		return
	}
	if err == nil {
		t.Errorf("expected error %q, got nil", want)
	} else if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
