package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingEvent   = errors.New("frame has no event name")
	ErrBadTimestamp   = errors.New("unrecognised timestamp")
)

// Reserved event names.
const (
	EventPing         = "ping"
	EventPong         = "pong"
	EventConnected    = "connected"
	EventSubscribe    = "subscribe"
	EventUnsubscribe  = "unsubscribe"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventMarkRead     = "mark_read"
	EventMarkAllRead  = "mark_all_read"
	EventNotification = "notification"
)

// Frame is one discrete message on the channel.
type Frame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp Timestamp       `json:"timestamp"`
}

// PlatformParams is the data of subscribe/unsubscribe frames and their acks.
type PlatformParams struct {
	Platform string `json:"platform"`
}

// MarkReadParams is the data of a mark_read frame.
type MarkReadParams struct {
	NotificationID string `json:"notificationId"`
}

// HelloData is the data of the server's connected frame.
type HelloData struct {
	UserID    *string   `json:"userId"`
	Timestamp Timestamp `json:"timestamp"`
}

// Encode builds the wire bytes for an outbound frame. A nil data value is sent
// as an empty object, matching what the server sends for data-less events.
func Encode(event string, data json.RawMessage, at Timestamp) ([]byte, error) {
	if event == "" {
		return nil, ErrMissingEvent
	}
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if at.IsZero() {
		at = Now()
	}
	return json.Marshal(Frame{Event: event, Data: data, Timestamp: at})
}

// Decode parses one inbound transport message into a Frame.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Event == "" {
		return Frame{}, ErrMissingEvent
	}
	return f, nil
}

// DecodeData unmarshals the frame's data into v.
func (f Frame) DecodeData(v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

// Marshal converts an arbitrary payload into frame data.
func Marshal(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: invalid raw payload", ErrMalformedFrame)
		}
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

// IsHeartbeat reports whether event is one of the reserved keepalive names.
func IsHeartbeat(event string) bool {
	return event == EventPing || event == EventPong
}
