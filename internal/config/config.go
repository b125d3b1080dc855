package config

import "time"

// Config is the root configuration for notifyctl.
type Config struct {
	Log      LogConfig     `yaml:"log"`
	Channel  ChannelConfig `yaml:"channel"`
	Hub      HubConfig     `yaml:"hub"`
	Redis    RedisConfig   `yaml:"redis"`
	Database DBConfig      `yaml:"database"`
	AMQP     AMQPConfig    `yaml:"amqp"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ChannelConfig holds client channel settings.
type ChannelConfig struct {
	URL                   string        `yaml:"url"`
	Token                 string        `yaml:"token"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	PongTimeout           time.Duration `yaml:"pong_timeout"` // 0 disables the watchdog
	ReconnectBaseDelay    time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
	ReconnectJitter       float64       `yaml:"reconnect_jitter"`
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts"`
	HandshakeTimeout      time.Duration `yaml:"handshake_timeout"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	NotificationRetention int           `yaml:"notification_retention"`
}

// HubConfig holds notification server settings.
type HubConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	HistoryBackend string        `yaml:"history_backend"` // memory, redis or postgres
	ReplayCount    int           `yaml:"replay_count"`
	Retention      int           `yaml:"retention"`
	HistoryTTL     time.Duration `yaml:"history_ttl"`
	PingInterval   time.Duration `yaml:"ping_interval"` // 0 disables server pings
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// RedisConfig holds the Redis connection used by the redis history backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// AMQPConfig holds the optional publish-request consumer. An empty URL
// disables it.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Queue    string `yaml:"queue"`
	Prefetch int    `yaml:"prefetch"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
