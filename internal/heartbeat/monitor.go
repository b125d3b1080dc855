// Package heartbeat keeps a channel alive with periodic ping frames.
package heartbeat

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/notify-channel/internal/wire"
)

// ErrPongTimeout is reported when a ping stays unanswered past PongTimeout.
var ErrPongTimeout = errors.New("pong not received in time")

// Config holds heartbeat timing.
type Config struct {
	Interval    time.Duration // Time between pings (0 = disabled)
	PongTimeout time.Duration // Max wait for a pong (0 = no watchdog)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		PongTimeout: 0,
	}
}

// SendFunc transmits a data-less frame with the given event name.
type SendFunc func(event string) error

// Monitor sends pings while running and swallows heartbeat frames.
type Monitor struct {
	cfg       Config
	logger    *slog.Logger
	onTimeout func()

	mu      sync.Mutex
	running bool
	send    SendFunc
	done    chan struct{}
	stopped chan struct{}
	pong    chan struct{}
}

// New creates a Monitor. onTimeout may be nil; it is called on its own
// goroutine so it may call Stop.
func New(cfg Config, onTimeout func(), logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		logger:    logger,
		onTimeout: onTimeout,
	}
}

// Start begins sending pings through send. Calling Start on a running
// monitor does nothing.
func (m *Monitor) Start(send SendFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.send = send

	if m.cfg.Interval <= 0 {
		return
	}

	m.done = make(chan struct{})
	m.stopped = make(chan struct{})
	m.pong = make(chan struct{}, 1)
	go m.loop(send, m.done, m.stopped, m.pong)
}

// Stop halts the ticker. When Stop returns no further ping will be sent.
// Safe to call when not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.send = nil
	done, stopped := m.done, m.stopped
	m.done, m.stopped, m.pong = nil, nil, nil
	m.mu.Unlock()

	if done != nil {
		close(done)
		<-stopped
	}
}

// Running reports whether the monitor has been started and not stopped.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Intercept reports whether event is a heartbeat frame that must not reach
// listeners. An inbound ping is answered with a pong.
func (m *Monitor) Intercept(event string) bool {
	switch event {
	case wire.EventPing:
		m.mu.Lock()
		send := m.send
		m.mu.Unlock()
		if send != nil {
			if err := send(wire.EventPong); err != nil {
				m.logger.Debug("failed to answer ping", "error", err)
			}
		}
		return true
	case wire.EventPong:
		m.mu.Lock()
		pong := m.pong
		m.mu.Unlock()
		if pong != nil {
			select {
			case pong <- struct{}{}:
			default:
			}
		}
		return true
	}
	return false
}

func (m *Monitor) loop(send SendFunc, done <-chan struct{}, stopped chan<- struct{}, pong <-chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	var (
		watchdog *time.Timer
		expired  <-chan time.Time
	)
	defer func() {
		if watchdog != nil {
			watchdog.Stop()
		}
	}()

	for {
		select {
		case <-done:
			return

		case <-ticker.C:
			if err := send(wire.EventPing); err != nil {
				m.logger.Debug("failed to send ping", "error", err)
				continue
			}
			if m.cfg.PongTimeout > 0 && watchdog == nil {
				watchdog = time.NewTimer(m.cfg.PongTimeout)
				expired = watchdog.C
			}

		case <-pong:
			if watchdog != nil {
				watchdog.Stop()
				watchdog, expired = nil, nil
			}

		case <-expired:
			watchdog, expired = nil, nil
			m.logger.Warn("no pong received, connection stale",
				"timeout", m.cfg.PongTimeout,
			)
			if m.onTimeout != nil {
				go m.onTimeout()
			}
			return
		}
	}
}
