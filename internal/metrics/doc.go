// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Channel connection state and reconnect attempts
//   - Inbound and outbound frame rates, dropped frames
//   - Outbound queue depth
//   - Listener failures by event
//   - Hub connections and published notifications
package metrics
