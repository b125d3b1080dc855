// Package events implements a named-event fan-out with per-listener
// failure isolation.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event is one emission delivered to a listener.
type Event struct {
	Name string
	Data any
	At   time.Time
}

// Handler receives events. A returned error is logged and does not stop
// delivery to the remaining listeners.
type Handler func(Event) error

// FailureFunc observes listener failures (returned errors and panics).
type FailureFunc func(name string, err error)

// Subscription identifies one registration.
type Subscription struct {
	id   uint64
	name string
	mux  *Multiplexer
	once sync.Once
}

// Name returns the event name the subscription listens to.
func (s *Subscription) Name() string {
	return s.name
}

// Unsubscribe removes the registration. Safe to call more than once and
// from inside a handler.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mux.remove(s.name, s.id)
	})
}

type listener struct {
	id      uint64
	handler Handler
}

// Multiplexer maps event names to ordered listener lists.
type Multiplexer struct {
	logger    *slog.Logger
	onFailure FailureFunc

	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]listener
}

// New creates an empty Multiplexer.
func New(logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		logger:    logger,
		listeners: make(map[string][]listener),
	}
}

// OnFailure installs a hook called for every listener failure.
func (m *Multiplexer) OnFailure(fn FailureFunc) {
	m.mu.Lock()
	m.onFailure = fn
	m.mu.Unlock()
}

// On registers handler for name. Registering the same function twice
// yields two independent subscriptions.
func (m *Multiplexer) On(name string, handler Handler) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners[name] = append(m.listeners[name], listener{id: id, handler: handler})

	return &Subscription{id: id, name: name, mux: m}
}

// Off removes sub. Reports whether it was still registered.
func (m *Multiplexer) Off(name string, sub *Subscription) bool {
	if sub == nil || sub.mux != m || sub.name != name {
		return false
	}
	removed := false
	sub.once.Do(func() {
		removed = m.remove(name, sub.id)
	})
	return removed
}

// ListenerCount returns the number of listeners for name.
func (m *Multiplexer) ListenerCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[name])
}

// Emit delivers data to every listener of name registered at the time of
// the call, in registration order. Listeners added or removed during the
// emission do not affect it. Returns the number of listeners invoked.
func (m *Multiplexer) Emit(name string, data any) int {
	m.mu.RLock()
	snapshot := make([]listener, len(m.listeners[name]))
	copy(snapshot, m.listeners[name])
	m.mu.RUnlock()

	ev := Event{Name: name, Data: data, At: time.Now()}
	for _, l := range snapshot {
		m.invoke(l, ev)
	}
	return len(snapshot)
}

func (m *Multiplexer) invoke(l listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("listener panic: %v", r)
			m.logger.Error("listener panicked", "event", ev.Name, "panic", r)
			m.fail(ev.Name, err)
		}
	}()

	if err := l.handler(ev); err != nil {
		m.logger.Warn("listener failed", "event", ev.Name, "error", err)
		m.fail(ev.Name, err)
	}
}

func (m *Multiplexer) fail(name string, err error) {
	m.mu.RLock()
	fn := m.onFailure
	m.mu.RUnlock()
	if fn != nil {
		fn(name, err)
	}
}

func (m *Multiplexer) remove(name string, id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ls := m.listeners[name]
	for i, l := range ls {
		if l.id != id {
			continue
		}
		// Copy so in-flight snapshots are never mutated.
		next := make([]listener, 0, len(ls)-1)
		next = append(next, ls[:i]...)
		next = append(next, ls[i+1:]...)
		if len(next) == 0 {
			delete(m.listeners, name)
		} else {
			m.listeners[name] = next
		}
		return true
	}
	return false
}
