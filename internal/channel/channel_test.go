package channel

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/notify-channel/internal/events"
	"github.com/rickgao/notify-channel/internal/heartbeat"
	"github.com/rickgao/notify-channel/internal/metrics"
	"github.com/rickgao/notify-channel/internal/wire"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// deadURL returns a websocket URL nothing listens on.
func deadURL() string {
	server := httptest.NewServer(http.NotFoundHandler())
	u := wsURL(server)
	server.Close()
	return u
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig(url string) Config {
	return Config{
		URL:                  url,
		Heartbeat:            heartbeat.Config{},
		Backoff:              Backoff{Base: 10 * time.Millisecond},
		MaxReconnectAttempts: 3,
	}
}

func newTestChannel(t *testing.T, cfg Config, opts ...Option) *Channel {
	t.Helper()
	c, err := New(cfg, nil, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// eventLog records every emission of the given names in delivery order.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func record(c *Channel, names ...string) *eventLog {
	l := &eventLog{}
	for _, name := range names {
		c.On(name, func(ev events.Event) error {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
			return nil
		})
	}
	return l
}

func (l *eventLog) byName(name string) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, ev := range l.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) count(name string) int {
	return len(l.byName(name))
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestChannel_BackoffUntilCeiling(t *testing.T) {
	c := newTestChannel(t, testConfig(deadURL()))
	log := record(c, EventReconnecting, EventReconnectFailed, EventError, EventDisconnected)

	require.NoError(t, c.Connect("token"))

	require.Eventually(t, func() bool { return log.count(EventReconnectFailed) == 1 }, waitFor, tick)

	reconnecting := log.byName(EventReconnecting)
	require.Len(t, reconnecting, 3)
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	for i, ev := range reconnecting {
		r := ev.Data.(ReconnectingEvent)
		assert.Equal(t, i+1, r.Attempt)
		assert.Equal(t, want[i], r.Delay)
	}

	failed := log.byName(EventReconnectFailed)[0].Data.(ReconnectFailedEvent)
	assert.Equal(t, 3, failed.Attempts)

	// Initial attempt plus three retries.
	assert.Equal(t, 4, log.count(EventError))
	assert.Equal(t, 4, log.count(EventDisconnected))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, log.count(EventReconnecting), "no retry after the ceiling")

	stats := c.Stats()
	assert.Equal(t, StateDisconnected, stats.State)
	assert.False(t, stats.RetryPending)
	assert.False(t, c.IsConnected())
}

func TestChannel_ConnectResumesAfterReconnectFailed(t *testing.T) {
	cfg := testConfig(deadURL())
	cfg.MaxReconnectAttempts = 1
	c := newTestChannel(t, cfg)
	log := record(c, EventReconnecting, EventReconnectFailed)

	require.NoError(t, c.Connect(""))
	require.Eventually(t, func() bool { return log.count(EventReconnectFailed) == 1 }, waitFor, tick)

	require.NoError(t, c.Connect(""))
	require.Eventually(t, func() bool { return log.count(EventReconnectFailed) == 2 }, waitFor, tick)

	reconnecting := log.byName(EventReconnecting)
	require.Len(t, reconnecting, 2)
	assert.Equal(t, 1, reconnecting[1].Data.(ReconnectingEvent).Attempt, "counter reset by Connect")
}

func TestChannel_QueuedSendsFlushedInOrder(t *testing.T) {
	received := make(chan string, 10)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	})
	defer server.Close()

	m := metrics.New(metrics.Config{Registry: prometheus.NewRegistry()})
	c := newTestChannel(t, testConfig(wsURL(server)), WithMetrics(m))

	require.NoError(t, c.Send("x", map[string]int{"a": 1}))
	require.NoError(t, c.Send("x", map[string]int{"a": 2}))
	require.Len(t, c.Pending(), 2)

	require.NoError(t, c.Connect(""))

	for i := 1; i <= 2; i++ {
		select {
		case raw := <-received:
			f, err := wire.Decode([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, "x", f.Event)
			assert.JSONEq(t, `{"a":`+string(rune('0'+i))+`}`, string(f.Data))
			assert.False(t, f.Timestamp.IsZero())
		case <-time.After(waitFor):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}

	assert.Empty(t, c.Pending())
	assert.Equal(t, 0, c.Stats().QueueDepth)
}

func TestChannel_SendWhileConnected(t *testing.T) {
	received := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)
		drain(conn)
	})
	defer server.Close()

	c := newTestChannel(t, testConfig(wsURL(server)))
	require.NoError(t, c.Connect(""))
	require.Eventually(t, c.IsConnected, waitFor, tick)

	require.NoError(t, c.Send(wire.EventSubscribe, wire.PlatformParams{Platform: "instagram"}))

	select {
	case raw := <-received:
		f, err := wire.Decode([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, "subscribe", f.Event)
		assert.JSONEq(t, `{"platform":"instagram"}`, string(f.Data))
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for message")
	}
	assert.Empty(t, c.Pending())
}

func TestChannel_ReceiveAndHeartbeatIntercept(t *testing.T) {
	pong := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected","data":{"userId":"u1"},"timestamp":"2024-01-01T00:00:00"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping","data":{}}`))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		pong <- string(data)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"pong","data":{}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"notification","data":{"id":"n1"},"timestamp":"2024-01-01T00:00:01"}`))
		drain(conn)
	})
	defer server.Close()

	c := newTestChannel(t, testConfig(wsURL(server)))
	log := record(c, EventConnected, EventMessage, "notification", "ping", "pong")

	require.NoError(t, c.Connect("u1"))

	select {
	case raw := <-pong:
		f, err := wire.Decode([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, "pong", f.Event)
	case <-time.After(waitFor):
		t.Fatal("ping was not answered")
	}

	require.Eventually(t, func() bool { return log.count("notification") == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return log.count(EventMessage) == 2 }, waitFor, tick)

	assert.Zero(t, log.count("ping"))
	assert.Zero(t, log.count("pong"))

	connected := log.byName(EventConnected)
	require.Len(t, connected, 1, "server hello only reaches message listeners")
	_, ok := connected[0].Data.(ConnectedEvent)
	assert.True(t, ok)

	messages := log.byName(EventMessage)
	assert.Equal(t, "connected", messages[0].Data.(wire.Frame).Event)
	assert.Equal(t, "notification", messages[1].Data.(wire.Frame).Event)

	note := log.byName("notification")[0].Data.(wire.Frame)
	assert.JSONEq(t, `{"id":"n1"}`, string(note.Data))
}

func TestChannel_StateTransitions(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	c := newTestChannel(t, testConfig(wsURL(server)))
	log := record(c, EventStateChange)

	assert.Equal(t, StateDisconnected, c.State())
	require.NoError(t, c.Connect(""))
	require.Eventually(t, c.IsConnected, waitFor, tick)

	c.Disconnect()
	require.Eventually(t, func() bool { return log.count(EventStateChange) == 3 }, waitFor, tick)

	changes := log.byName(EventStateChange)
	want := []StateChangeEvent{
		{From: StateDisconnected, To: StateConnecting},
		{From: StateConnecting, To: StateConnected},
		{From: StateConnected, To: StateDisconnected},
	}
	for i, ev := range changes {
		assert.Equal(t, want[i], ev.Data.(StateChangeEvent))
	}
}

func TestChannel_ConnectIsNoOpWhenConnected(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		drain(conn)
	})
	defer server.Close()

	c := newTestChannel(t, testConfig(wsURL(server)))
	require.NoError(t, c.Connect(""))
	require.NoError(t, c.Connect(""))
	require.Eventually(t, c.IsConnected, waitFor, tick)
	require.NoError(t, c.Connect(""))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), conns.Load())
}

func TestChannel_ReconnectAfterServerClose(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4000, "restart"))
			drain(conn)
			return
		}
		drain(conn)
	})
	defer server.Close()

	c := newTestChannel(t, testConfig(wsURL(server)))
	log := record(c, EventConnected, EventDisconnected, EventReconnecting, EventError)

	require.NoError(t, c.Connect(""))
	require.Eventually(t, func() bool { return log.count(EventConnected) == 2 }, waitFor, tick)

	disconnected := log.byName(EventDisconnected)
	require.Len(t, disconnected, 1)
	assert.Equal(t, DisconnectedEvent{Code: 4000, Reason: "restart"}, disconnected[0].Data)

	reconnecting := log.byName(EventReconnecting)
	require.Len(t, reconnecting, 1)
	assert.Equal(t, ReconnectingEvent{Attempt: 1, Delay: 10 * time.Millisecond}, reconnecting[0].Data)

	assert.Zero(t, log.count(EventError), "a clean close is not an error")

	stats := c.Stats()
	assert.Equal(t, StateConnected, stats.State)
	assert.Equal(t, 0, stats.Attempt, "counter resets after open")
	assert.NotEmpty(t, stats.HandleID)
}

func TestChannel_DisconnectDuringBackoff(t *testing.T) {
	cfg := testConfig(deadURL())
	cfg.Backoff.Base = 200 * time.Millisecond
	c := newTestChannel(t, cfg)
	log := record(c, EventReconnecting, EventDisconnected, EventError)

	require.NoError(t, c.Connect(""))
	require.Eventually(t, func() bool { return log.count(EventReconnecting) == 1 }, waitFor, tick)

	c.Disconnect()

	stats := c.Stats()
	assert.Equal(t, StateDisconnected, stats.State)
	assert.False(t, stats.RetryPending)

	require.Eventually(t, func() bool { return log.count(EventDisconnected) == 2 }, waitFor, tick)
	last := log.byName(EventDisconnected)[1].Data.(DisconnectedEvent)
	assert.Equal(t, CloseClientCode, last.Code)
	assert.Equal(t, CloseClientReason, last.Reason)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, log.count(EventReconnecting))
	assert.Equal(t, 1, log.count(EventError), "no attempt after Disconnect")

	// A second Disconnect on an idle channel emits nothing.
	c.Disconnect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, log.count(EventDisconnected))
}

func TestChannel_ConnectCancelsPendingRetry(t *testing.T) {
	cfg := testConfig(deadURL())
	cfg.Backoff.Base = time.Hour
	c := newTestChannel(t, cfg)
	log := record(c, EventReconnecting, EventError)

	require.NoError(t, c.Connect(""))
	require.Eventually(t, func() bool { return log.count(EventReconnecting) == 1 }, waitFor, tick)
	assert.True(t, c.Stats().RetryPending)

	require.NoError(t, c.Connect(""))
	require.Eventually(t, func() bool { return log.count(EventError) == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return log.count(EventReconnecting) == 2 }, waitFor, tick)

	for _, ev := range log.byName(EventReconnecting) {
		assert.Equal(t, 1, ev.Data.(ReconnectingEvent).Attempt)
	}
}

func TestChannel_DisconnectFromListener(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	c := newTestChannel(t, testConfig(wsURL(server)))
	log := record(c, EventDisconnected)

	c.On(EventConnected, func(events.Event) error {
		c.Disconnect()
		return nil
	})

	require.NoError(t, c.Connect(""))
	require.Eventually(t, func() bool { return log.count(EventDisconnected) == 1 }, waitFor, tick)

	assert.Equal(t, DisconnectedEvent{Code: 1000, Reason: "client disconnect"}, log.byName(EventDisconnected)[0].Data)
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.Stats().RetryPending)
}

func TestChannel_UnsubscribeInsideCallback(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"notification","data":{"id":"1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"notification","data":{"id":"2"}}`))
		drain(conn)
	})
	defer server.Close()

	c := newTestChannel(t, testConfig(wsURL(server)))

	var once, always atomic.Int32
	var sub *events.Subscription
	sub = c.On("notification", func(events.Event) error {
		once.Add(1)
		sub.Unsubscribe()
		return nil
	})
	c.On("notification", func(events.Event) error {
		always.Add(1)
		return nil
	})

	require.NoError(t, c.Connect(""))
	require.Eventually(t, func() bool { return always.Load() == 2 }, waitFor, tick)
	assert.Equal(t, int32(1), once.Load())
}

func TestChannel_ListenerFailureIsolated(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"post_update","data":{}}`))
		drain(conn)
	})
	defer server.Close()

	c := newTestChannel(t, testConfig(wsURL(server)))

	var calls atomic.Int32
	c.On("post_update", func(events.Event) error { panic("listener bug") })
	c.On("post_update", func(events.Event) error { return errors.New("listener error") })
	c.On("post_update", func(events.Event) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, c.Connect(""))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	assert.True(t, c.IsConnected())
}

func TestChannel_MalformedFrameDropped(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"account_update","data":{}}`))
		drain(conn)
	})
	defer server.Close()

	c := newTestChannel(t, testConfig(wsURL(server)))
	log := record(c, EventMessage, EventError, EventDisconnected)

	require.NoError(t, c.Connect(""))
	require.Eventually(t, func() bool { return log.count(EventMessage) == 1 }, waitFor, tick)

	assert.Equal(t, "account_update", log.byName(EventMessage)[0].Data.(wire.Frame).Event)
	assert.Zero(t, log.count(EventError))
	assert.Zero(t, log.count(EventDisconnected))
	assert.True(t, c.IsConnected())
}

func TestChannel_PongTimeout(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.Heartbeat = heartbeat.Config{Interval: 10 * time.Millisecond, PongTimeout: 30 * time.Millisecond}
	c := newTestChannel(t, cfg)
	log := record(c, EventError, EventDisconnected, EventReconnecting)

	require.NoError(t, c.Connect(""))
	require.Eventually(t, func() bool { return log.count(EventReconnecting) >= 1 }, waitFor, tick)

	errEv := log.byName(EventError)[0].Data.(ErrorEvent)
	assert.ErrorIs(t, errEv.Err, ErrPongTimeout)

	disc := log.byName(EventDisconnected)[0].Data.(DisconnectedEvent)
	assert.Equal(t, 1006, disc.Code)
}

func TestChannel_SendErrors(t *testing.T) {
	c := newTestChannel(t, testConfig(deadURL()))

	assert.ErrorIs(t, c.Send("", nil), ErrEmptyEvent)
	assert.Error(t, c.Send("x", make(chan int)))
	assert.Empty(t, c.Pending())
}

func TestChannel_Close(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	c, err := New(testConfig(wsURL(server)), nil, nil)
	require.NoError(t, err)
	log := record(c, EventDisconnected)

	require.NoError(t, c.Connect(""))
	require.Eventually(t, c.IsConnected, waitFor, tick)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), ErrClosed)
	assert.ErrorIs(t, c.Connect(""), ErrClosed)
	assert.ErrorIs(t, c.Send("x", nil), ErrClosed)
	c.Disconnect()

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("dispatcher did not stop")
	}
	assert.Equal(t, 1, log.count(EventDisconnected), "pending events are delivered before Done")
	assert.False(t, c.IsConnected())
}
