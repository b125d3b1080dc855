// Package outbound holds frames requested while the channel is not connected
// and flushes them in order once it is.
package outbound

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/notify-channel/internal/buffer"
)

// Message is one queued outbound frame.
type Message struct {
	ID        uuid.UUID
	Event     string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// NewMessage builds a Message with a fresh ID.
func NewMessage(event string, payload json.RawMessage) Message {
	return Message{
		ID:        uuid.New(),
		Event:     event,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Stats is a snapshot of queue activity.
type Stats struct {
	Depth    int
	Enqueued int64
	Sent     int64
	Requeued int64
}

// Queue is an unbounded FIFO of outbound messages.
type Queue struct {
	buf *buffer.Growable[Message]
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{buf: buffer.New[Message](16)}
}

// Enqueue appends msg at the tail.
func (q *Queue) Enqueue(msg Message) {
	q.buf.Push(msg)
}

// Flush sends queued messages in FIFO order. Each message leaves the queue
// before it is sent; if send fails it is put back at the head and the pass
// stops there, so nothing is dropped and nothing is sent twice in one pass.
// Returns the number of messages sent and the send error, if any.
func (q *Queue) Flush(send func(Message) error) (int, error) {
	sent := 0
	for {
		msg, ok := q.buf.Pop()
		if !ok {
			return sent, nil
		}
		if err := send(msg); err != nil {
			q.buf.PushFront(msg)
			return sent, err
		}
		sent++
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return q.buf.Len()
}

// Snapshot returns the queued messages in send order.
func (q *Queue) Snapshot() []Message {
	return q.buf.Snapshot()
}

// Clear discards every queued message.
func (q *Queue) Clear() int {
	return q.buf.Clear()
}

// Stats returns queue statistics.
func (q *Queue) Stats() Stats {
	s := q.buf.Stats()
	return Stats{
		Depth:    s.Count,
		Enqueued: s.TotalPushed,
		Sent:     s.TotalPopped - s.TotalRequeue,
		Requeued: s.TotalRequeue,
	}
}
