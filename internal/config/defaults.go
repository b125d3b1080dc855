package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel              = "info"
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultReconnectBaseDelay    = 1 * time.Second
	DefaultReconnectMaxDelay     = 60 * time.Second
	DefaultMaxReconnectAttempts  = 5
	DefaultHandshakeTimeout      = 10 * time.Second
	DefaultWriteTimeout          = 5 * time.Second
	DefaultNotificationRetention = 100
	DefaultListenAddr            = ":8000"
	DefaultHistoryBackend        = "memory"
	DefaultReplayCount           = 20
	DefaultHistoryRetention      = 100
	DefaultHistoryTTL            = 7 * 24 * time.Hour
	DefaultRedisAddr             = "localhost:6379"
	DefaultDBPort                = 5432
	DefaultDBSSLMode             = "prefer"
	DefaultMaxConns              = 10
	DefaultMinConns              = 2
	DefaultAMQPQueue             = "notifications"
	DefaultAMQPPrefetch          = 16
	DefaultMetricsPort           = 9090
	DefaultMetricsPath           = "/metrics"
)

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	// Channel defaults
	if c.Channel.HeartbeatInterval == 0 {
		c.Channel.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Channel.ReconnectBaseDelay == 0 {
		c.Channel.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Channel.ReconnectMaxDelay == 0 {
		c.Channel.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Channel.MaxReconnectAttempts == 0 {
		c.Channel.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Channel.HandshakeTimeout == 0 {
		c.Channel.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Channel.WriteTimeout == 0 {
		c.Channel.WriteTimeout = DefaultWriteTimeout
	}
	if c.Channel.NotificationRetention == 0 {
		c.Channel.NotificationRetention = DefaultNotificationRetention
	}

	// Hub defaults
	if c.Hub.ListenAddr == "" {
		c.Hub.ListenAddr = DefaultListenAddr
	}
	if c.Hub.HistoryBackend == "" {
		c.Hub.HistoryBackend = DefaultHistoryBackend
	}
	if c.Hub.ReplayCount == 0 {
		c.Hub.ReplayCount = DefaultReplayCount
	}
	if c.Hub.Retention == 0 {
		c.Hub.Retention = DefaultHistoryRetention
	}
	if c.Hub.HistoryTTL == 0 {
		c.Hub.HistoryTTL = DefaultHistoryTTL
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultWriteTimeout
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}

	applyDBDefaults(&c.Database)

	if c.AMQP.Queue == "" {
		c.AMQP.Queue = DefaultAMQPQueue
	}
	if c.AMQP.Prefetch == 0 {
		c.AMQP.Prefetch = DefaultAMQPPrefetch
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
