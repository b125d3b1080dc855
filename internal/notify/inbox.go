package notify

import (
	"sync"

	"github.com/rickgao/notify-channel/internal/wire"
)

// DefaultRetention is the number of notifications an Inbox keeps.
const DefaultRetention = 100

// Inbox keeps the most recent notifications, newest first.
type Inbox struct {
	mu    sync.RWMutex
	limit int
	items []wire.Notification
}

// NewInbox creates an Inbox holding at most limit notifications.
func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = DefaultRetention
	}
	return &Inbox{
		limit: limit,
		items: make([]wire.Notification, 0, limit),
	}
}

// Add inserts n at the front, evicting the oldest entry past the limit.
// A notification whose ID is already present is ignored; the server
// replays recent notifications after every reconnect.
func (b *Inbox) Add(n wire.Notification) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n.ID != "" && b.indexLocked(n.ID) >= 0 {
		return false
	}

	b.items = append(b.items, wire.Notification{})
	copy(b.items[1:], b.items)
	b.items[0] = n

	if len(b.items) > b.limit {
		b.items[len(b.items)-1] = wire.Notification{}
		b.items = b.items[:b.limit]
	}
	return true
}

// List returns a copy of the notifications, most recent first.
func (b *Inbox) List() []wire.Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]wire.Notification, len(b.items))
	copy(out, b.items)
	return out
}

// Get returns the notification with the given ID.
func (b *Inbox) Get(id string) (wire.Notification, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if i := b.indexLocked(id); i >= 0 {
		return b.items[i], true
	}
	return wire.Notification{}, false
}

// Len returns the number of stored notifications.
func (b *Inbox) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// UnreadCount returns how many stored notifications are unread.
func (b *Inbox) UnreadCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, item := range b.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// MarkRead flags one notification as read. Reports whether it was found.
func (b *Inbox) MarkRead(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexLocked(id)
	if i < 0 {
		return false
	}
	b.items[i].Read = true
	return true
}

// MarkAllRead flags every notification as read and returns how many changed.
func (b *Inbox) MarkAllRead() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for i := range b.items {
		if !b.items[i].Read {
			b.items[i].Read = true
			n++
		}
	}
	return n
}

// Clear removes every notification.
func (b *Inbox) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = b.items[:0]
}

func (b *Inbox) indexLocked(id string) int {
	for i, item := range b.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}
