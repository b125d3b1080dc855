package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/notify-channel/internal/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS notification_history (
	seq        BIGSERIAL PRIMARY KEY,
	list_key   TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (list_key, id)
);
CREATE INDEX IF NOT EXISTS notification_history_key_seq
	ON notification_history (list_key, seq DESC);
`

// PostgresStore keeps history in a single table keyed by list name.
type PostgresStore struct {
	db     *pgxpool.Pool
	cfg    Config
	logger *slog.Logger
}

// NewPostgresStore creates the table if needed. Close closes the pool.
func NewPostgresStore(ctx context.Context, db *pgxpool.Pool, cfg Config, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &PostgresStore{db: db, cfg: cfg, logger: logger}, nil
}

// Append inserts n and trims the list in one batch. A repeated ID for the
// same list is ignored.
func (s *PostgresStore) Append(ctx context.Context, key string, n wire.Notification) error {
	if n.ID == "" {
		return ErrEmptyID
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO notification_history (list_key, id, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (list_key, id) DO NOTHING
	`, key, n.ID, body)
	batch.Queue(`
		DELETE FROM notification_history
		WHERE list_key = $1 AND seq NOT IN (
			SELECT seq FROM notification_history
			WHERE list_key = $1
			ORDER BY seq DESC
			LIMIT $2
		)
	`, key, s.cfg.retention())
	if s.cfg.TTL > 0 {
		batch.Queue(`
			DELETE FROM notification_history
			WHERE list_key = $1 AND created_at < now() - make_interval(secs => $2)
		`, key, s.cfg.TTL.Seconds())
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("append %s: %w", key, err)
		}
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, key string, limit int) ([]wire.Notification, error) {
	limit = clampLimit(limit, s.cfg.retention())

	query := `
		SELECT body FROM notification_history
		WHERE list_key = $1
		ORDER BY seq DESC
		LIMIT $2
	`
	args := []any{key, limit}
	if s.cfg.TTL > 0 {
		query = `
			SELECT body FROM notification_history
			WHERE list_key = $1 AND created_at >= now() - make_interval(secs => $3)
			ORDER BY seq DESC
			LIMIT $2
		`
		args = append(args, s.cfg.TTL.Seconds())
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	defer rows.Close()

	out := make([]wire.Notification, 0, limit)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", key, err)
		}
		var n wire.Notification
		if err := json.Unmarshal(body, &n); err != nil {
			s.logger.Warn("skipping unreadable history row", "key", key, "error", err)
			continue
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
