// Package buffer provides an unbounded FIFO ring used for outbound frames
// and ordered event dispatch.
package buffer

import (
	"sync"
)

// Growable is a thread-safe FIFO ring that doubles its capacity when it
// reaches 70% full. It never rejects an item while open.
type Growable[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	// Stats
	totalPushed  int64
	totalPopped  int64
	totalRequeue int64
	resizeCount  int
}

// Stats contains buffer statistics.
type Stats struct {
	Count        int
	Capacity     int
	TotalPushed  int64
	TotalPopped  int64
	TotalRequeue int64
	ResizeCount  int
}

// New creates a buffer with the given initial capacity.
func New[T any](initialCapacity int) *Growable[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &Growable[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends an item at the tail. Returns false if the buffer is closed.
func (b *Growable[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.growIfNeeded()

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalPushed++

	b.cond.Signal()
	return true
}

// PushFront puts an item back at the head so it is the next one popped.
// Used to return an item whose processing failed. Returns false if closed.
func (b *Growable[T]) PushFront(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.growIfNeeded()

	b.head = (b.head - 1 + b.capacity) % b.capacity
	b.buf[b.head] = item
	b.count++
	b.totalRequeue++

	b.cond.Signal()
	return true
}

// Pop removes the head item without blocking.
func (b *Growable[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.popLocked(), true
}

// Receive removes the head item, blocking until one is available.
// Returns false once the buffer is closed and empty.
func (b *Growable[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.popLocked(), true
}

// Peek returns the head item without removing it.
func (b *Growable[T]) Peek() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.buf[b.head], true
}

// Snapshot returns a copy of the buffered items in FIFO order.
func (b *Growable[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.buf[(b.head+i)%b.capacity]
	}
	return out
}

// Clear drops every buffered item and returns how many were removed.
func (b *Growable[T]) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	var zero T
	for i := range b.buf {
		b.buf[i] = zero
	}
	b.head, b.tail, b.count = 0, 0, 0
	return n
}

// Close closes the buffer. Push fails afterwards; receivers get the
// remaining items and then the closed signal.
func (b *Growable[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the current number of items.
func (b *Growable[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *Growable[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Count:        b.count,
		Capacity:     b.capacity,
		TotalPushed:  b.totalPushed,
		TotalPopped:  b.totalPopped,
		TotalRequeue: b.totalRequeue,
		ResizeCount:  b.resizeCount,
	}
}

// popLocked removes the head item. Must be called with lock held and count > 0.
func (b *Growable[T]) popLocked() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalPopped++
	return item
}

// growIfNeeded doubles capacity when one more item would reach 70% full.
// Must be called with lock held.
func (b *Growable[T]) growIfNeeded() {
	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 < threshold {
		return
	}

	newCapacity := b.capacity * 2
	newBuf := make([]T, newCapacity)
	for i := 0; i < b.count; i++ {
		newBuf[i] = b.buf[(b.head+i)%b.capacity]
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizeCount++
}
