// Package history persists published notifications so the hub can replay
// them to new connections and serve them over REST.
//
// Each user has its own list; notifications without a target user go to the
// broadcast list. Lists are kept newest first and capped at Retention
// entries. Entries older than TTL are no longer returned.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/notify-channel/internal/wire"
)

// BroadcastKey is the list that holds notifications published without a user.
const BroadcastKey = "broadcast"

// Errors
var (
	ErrEmptyID = errors.New("notification id is required")
	ErrClosed  = errors.New("history store closed")
)

// Store is implemented by every history backend.
type Store interface {
	// Append records n at the head of key's list.
	Append(ctx context.Context, key string, n wire.Notification) error

	// Recent returns up to limit notifications for key, newest first.
	Recent(ctx context.Context, key string, limit int) ([]wire.Notification, error)

	Close() error
}

// Config holds the settings shared by all backends.
type Config struct {
	Retention int           // Max notifications kept per list
	TTL       time.Duration // 0 disables expiry
}

// DefaultConfig keeps the last 100 notifications for a week.
func DefaultConfig() Config {
	return Config{
		Retention: 100,
		TTL:       7 * 24 * time.Hour,
	}
}

// Key returns the list name for userID.
func Key(userID string) string {
	if userID == "" {
		return BroadcastKey
	}
	return userID
}

func (c Config) retention() int {
	if c.Retention <= 0 {
		return DefaultConfig().Retention
	}
	return c.Retention
}

func clampLimit(limit, retention int) int {
	if limit <= 0 || limit > retention {
		return retention
	}
	return limit
}
