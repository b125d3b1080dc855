package outbound

import (
	"encoding/json"
	"errors"
	"testing"
)

func msg(event string) Message {
	return NewMessage(event, json.RawMessage(`{}`))
}

func TestQueue_FlushInOrder(t *testing.T) {
	q := NewQueue()
	q.Enqueue(msg("a"))
	q.Enqueue(msg("b"))
	q.Enqueue(msg("c"))

	var got []string
	n, err := q.Flush(func(m Message) error {
		got = append(got, m.Event)
		return nil
	})
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n != 3 {
		t.Errorf("sent = %d, want 3", n)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("order = %v, want [a b c]", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_FlushStopsOnFailure(t *testing.T) {
	q := NewQueue()
	q.Enqueue(msg("a"))
	q.Enqueue(msg("b"))
	q.Enqueue(msg("c"))

	sendErr := errors.New("socket gone")
	attempts := map[string]int{}
	n, err := q.Flush(func(m Message) error {
		attempts[m.Event]++
		if m.Event == "b" {
			return sendErr
		}
		return nil
	})
	if !errors.Is(err, sendErr) {
		t.Fatalf("Flush error = %v, want %v", err, sendErr)
	}
	if n != 1 {
		t.Errorf("sent = %d, want 1", n)
	}
	if attempts["b"] != 1 || attempts["c"] != 0 {
		t.Errorf("attempts = %v, want b once and c never", attempts)
	}

	rest := q.Snapshot()
	if len(rest) != 2 || rest[0].Event != "b" || rest[1].Event != "c" {
		t.Fatalf("remaining = %v, want [b c]", events(rest))
	}

	// A later pass picks up where the failed one stopped.
	var got []string
	if _, err := q.Flush(func(m Message) error {
		got = append(got, m.Event)
		return nil
	}); err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("second pass = %v, want [b c]", got)
	}
}

func TestQueue_FlushEmpty(t *testing.T) {
	q := NewQueue()
	n, err := q.Flush(func(Message) error {
		t.Fatal("send called on empty queue")
		return nil
	})
	if n != 0 || err != nil {
		t.Errorf("Flush() = %d, %v", n, err)
	}
}

func TestQueue_EnqueueDuringFlush(t *testing.T) {
	q := NewQueue()
	q.Enqueue(msg("a"))

	var got []string
	q.Flush(func(m Message) error {
		got = append(got, m.Event)
		if m.Event == "a" {
			q.Enqueue(msg("late"))
		}
		return nil
	})

	if len(got) != 2 || got[1] != "late" {
		t.Errorf("sent = %v, want [a late]", got)
	}
}

func TestQueue_Stats(t *testing.T) {
	q := NewQueue()
	q.Enqueue(msg("a"))
	q.Enqueue(msg("b"))

	fail := true
	q.Flush(func(m Message) error {
		if fail {
			fail = false
			return errors.New("x")
		}
		return nil
	})
	q.Flush(func(Message) error { return nil })

	s := q.Stats()
	if s.Depth != 0 || s.Enqueued != 2 || s.Sent != 2 || s.Requeued != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestQueue_MessageIDsUnique(t *testing.T) {
	a, b := msg("x"), msg("x")
	if a.ID == b.ID {
		t.Error("message IDs should be unique")
	}
	if a.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue()
	q.Enqueue(msg("a"))
	if n := q.Clear(); n != 1 {
		t.Errorf("Clear() = %d, want 1", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func events(ms []Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Event
	}
	return out
}
