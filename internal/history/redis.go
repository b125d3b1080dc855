package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/rickgao/notify-channel/internal/wire"
)

const redisKeyPrefix = "notifications:"

// RedisStore keeps one Redis list per key, trimmed to Retention and expired
// after TTL of inactivity.
type RedisStore struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
}

// NewRedisStore wraps an existing client. Close closes the client.
func NewRedisStore(client *redis.Client, cfg Config, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, cfg: cfg, logger: logger}
}

// RedisKey returns the Redis list name for key.
func RedisKey(key string) string {
	return redisKeyPrefix + key
}

func (s *RedisStore) Append(ctx context.Context, key string, n wire.Notification) error {
	if n.ID == "" {
		return ErrEmptyID
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	rkey := RedisKey(key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, rkey, body)
		pipe.LTrim(ctx, rkey, 0, int64(s.cfg.retention()-1))
		if s.cfg.TTL > 0 {
			pipe.Expire(ctx, rkey, s.cfg.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", rkey, err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, key string, limit int) ([]wire.Notification, error) {
	limit = clampLimit(limit, s.cfg.retention())
	rkey := RedisKey(key)

	raw, err := s.client.LRange(ctx, rkey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rkey, err)
	}

	out := make([]wire.Notification, 0, len(raw))
	for _, item := range raw {
		var n wire.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			s.logger.Warn("skipping unreadable history entry", "key", rkey, "error", err)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
