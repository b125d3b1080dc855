package config

import (
	"errors"
	"fmt"
	"net/url"
)

// History backends accepted by hub.history_backend.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Validate checks that values are valid. Sections used only by one
// subcommand are checked by ValidateChannel and ValidateHub.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	if c.Channel.URL != "" {
		u, err := url.Parse(c.Channel.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("channel.url must be a ws:// or wss:// url, got %q", c.Channel.URL)
		}
	}
	if c.Channel.HeartbeatInterval < 0 {
		return errors.New("channel.heartbeat_interval must be >= 0")
	}
	if c.Channel.PongTimeout < 0 {
		return errors.New("channel.pong_timeout must be >= 0")
	}
	if c.Channel.ReconnectBaseDelay <= 0 {
		return errors.New("channel.reconnect_base_delay must be > 0")
	}
	if c.Channel.ReconnectMaxDelay < c.Channel.ReconnectBaseDelay {
		return fmt.Errorf("channel.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Channel.ReconnectMaxDelay, c.Channel.ReconnectBaseDelay)
	}
	if c.Channel.ReconnectJitter < 0 || c.Channel.ReconnectJitter > 1 {
		return fmt.Errorf("channel.reconnect_jitter must be between 0 and 1, got %v", c.Channel.ReconnectJitter)
	}
	if c.Channel.MaxReconnectAttempts < 0 {
		return errors.New("channel.max_reconnect_attempts must be >= 0")
	}
	if c.Channel.NotificationRetention < 1 {
		return errors.New("channel.notification_retention must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

// ValidateChannel checks the settings needed to run a client.
func (c *Config) ValidateChannel() error {
	if c.Channel.URL == "" {
		return errors.New("channel.url is required")
	}
	return nil
}

// ValidateHub checks the settings needed to run the server.
func (c *Config) ValidateHub() error {
	if c.Hub.ListenAddr == "" {
		return errors.New("hub.listen_addr is required")
	}
	if c.Hub.Retention < 1 {
		return errors.New("hub.retention must be >= 1")
	}
	if c.Hub.ReplayCount < 0 || c.Hub.ReplayCount > c.Hub.Retention {
		return fmt.Errorf("hub.replay_count (%d) must be between 0 and retention (%d)", c.Hub.ReplayCount, c.Hub.Retention)
	}

	switch c.Hub.HistoryBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required")
		}
	case BackendPostgres:
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("hub.history_backend must be one of memory, redis, postgres, got %q", c.Hub.HistoryBackend)
	}

	if c.AMQP.URL != "" && c.AMQP.Queue == "" {
		return errors.New("amqp.queue is required")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
