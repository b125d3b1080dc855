// Package wire defines the JSON frame exchanged over the notification channel.
//
// Every frame, in both directions, has the shape:
//
//	{"event": "<name>", "data": <any>, "timestamp": "<ISO-8601>"}
//
// Reserved event names (ping, pong, subscribe, ...) are declared here so the
// transport, heartbeat and facade layers agree on them.
package wire
