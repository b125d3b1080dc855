package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures metric registration.
type Config struct {
	Namespace   string
	ConstLabels prometheus.Labels
	Registry    prometheus.Registerer
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "notify",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connectionState      prometheus.Gauge
	reconnectAttempts    prometheus.Counter
	reconnectExhausted   prometheus.Counter
	framesReceived       *prometheus.CounterVec
	framesSent           prometheus.Counter
	framesDropped        *prometheus.CounterVec
	queueDepth           prometheus.Gauge
	heartbeatsSent       prometheus.Counter
	listenerFailures     *prometheus.CounterVec
	hubConnections       prometheus.Gauge
	notificationsPublish *prometheus.CounterVec
}

// New registers the collectors with cfg.Registry.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "connection_state",
			Help:        "Channel state: 0 disconnected, 1 connecting, 2 connected",
			ConstLabels: cfg.ConstLabels,
		}),
		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "reconnect_attempts_total",
			Help:        "Total number of scheduled reconnect attempts",
			ConstLabels: cfg.ConstLabels,
		}),
		reconnectExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "reconnect_exhausted_total",
			Help:        "Total number of times the reconnect ceiling was reached",
			ConstLabels: cfg.ConstLabels,
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_received_total",
			Help:        "Inbound frames by event name",
			ConstLabels: cfg.ConstLabels,
		}, []string{"event"}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_sent_total",
			Help:        "Outbound frames written to the transport",
			ConstLabels: cfg.ConstLabels,
		}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_dropped_total",
			Help:        "Inbound frames dropped by reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "outbound_queue_depth",
			Help:        "Messages waiting for a connection",
			ConstLabels: cfg.ConstLabels,
		}),
		heartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "heartbeats_sent_total",
			Help:        "Ping frames sent",
			ConstLabels: cfg.ConstLabels,
		}),
		listenerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "listener_failures_total",
			Help:        "Listener errors and panics by event name",
			ConstLabels: cfg.ConstLabels,
		}, []string{"event"}),
		hubConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "hub_connections",
			Help:        "Open server-side WebSocket connections",
			ConstLabels: cfg.ConstLabels,
		}),
		notificationsPublish: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "hub_notifications_published_total",
			Help:        "Notifications published by the hub, by target",
			ConstLabels: cfg.ConstLabels,
		}, []string{"target"}),
	}
}

// SetConnectionState records the numeric channel state.
func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

// RecordReconnectAttempt counts one scheduled retry.
func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// RecordReconnectExhausted counts one reconnect_failed.
func (m *Metrics) RecordReconnectExhausted() {
	if m == nil {
		return
	}
	m.reconnectExhausted.Inc()
}

// RecordFrameReceived counts one inbound frame.
func (m *Metrics) RecordFrameReceived(event string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(event).Inc()
}

// RecordFrameSent counts one outbound frame.
func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

// RecordFrameDropped counts one discarded inbound frame.
func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// SetQueueDepth records the outbound queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RecordHeartbeat counts one ping.
func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}

// RecordListenerFailure counts one failed listener invocation.
func (m *Metrics) RecordListenerFailure(event string) {
	if m == nil {
		return
	}
	m.listenerFailures.WithLabelValues(event).Inc()
}

// HubConnectionOpened increments the hub connection gauge.
func (m *Metrics) HubConnectionOpened() {
	if m == nil {
		return
	}
	m.hubConnections.Inc()
}

// HubConnectionClosed decrements the hub connection gauge.
func (m *Metrics) HubConnectionClosed() {
	if m == nil {
		return
	}
	m.hubConnections.Dec()
}

// RecordPublished counts one hub publication; target is "user" or "broadcast".
func (m *Metrics) RecordPublished(target string) {
	if m == nil {
		return
	}
	m.notificationsPublish.WithLabelValues(target).Inc()
}
