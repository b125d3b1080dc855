package history

import (
	"context"
	"sync"
	"time"

	"github.com/rickgao/notify-channel/internal/wire"
)

type memoryEntry struct {
	n     wire.Notification
	added time.Time
}

// MemoryStore keeps history in process. It is lost on restart.
type MemoryStore struct {
	cfg Config
	now func() time.Time

	mu     sync.RWMutex
	lists  map[string][]memoryEntry // newest first
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		cfg:   cfg,
		now:   time.Now,
		lists: make(map[string][]memoryEntry),
	}
}

func (s *MemoryStore) Append(_ context.Context, key string, n wire.Notification) error {
	if n.ID == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	list := s.lists[key]
	next := make([]memoryEntry, 0, min(len(list)+1, s.cfg.retention()))
	next = append(next, memoryEntry{n: n, added: s.now()})
	for _, e := range list {
		if len(next) == cap(next) {
			break
		}
		next = append(next, e)
	}
	s.lists[key] = next
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, key string, limit int) ([]wire.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	limit = clampLimit(limit, s.cfg.retention())
	now := s.now()

	out := make([]wire.Notification, 0, min(limit, len(s.lists[key])))
	for _, e := range s.lists[key] {
		if len(out) == limit {
			break
		}
		if s.cfg.TTL > 0 && now.Sub(e.added) > s.cfg.TTL {
			break // older entries are expired too
		}
		out = append(out, e.n)
	}
	return out, nil
}

// Len returns the number of stored entries for key, expired ones included.
func (s *MemoryStore) Len(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lists[key])
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.lists = make(map[string][]memoryEntry)
	return nil
}
