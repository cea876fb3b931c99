// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"github.com/soothill/currentcost-logger/monitoring"
)

// DefaultBufferCapacity holds 24 hours of readings at one every 6 seconds
const DefaultBufferCapacity = 14400

// ReadingBuffer is a bounded FIFO of readings backed by a ring.
//
// New readings go on the tail; delivery takes from the head. When the
// buffer is full PushBack evicts the head, so the newest data always fits.
// Not safe for concurrent use: the read loop is its only user.
type ReadingBuffer struct {
	buf     []monitoring.Reading
	head    int // index of the oldest reading
	count   int
	evicted uint64
}

// NewReadingBuffer creates a buffer holding at most capacity readings
func NewReadingBuffer(capacity int) *ReadingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &ReadingBuffer{buf: make([]monitoring.Reading, capacity)}
}

// PushBack appends r. It reports whether the oldest reading was evicted to
// make room.
func (b *ReadingBuffer) PushBack(r monitoring.Reading) (evicted bool) {
	if b.count == len(b.buf) {
		b.buf[b.head] = r
		b.head = (b.head + 1) % len(b.buf)
		b.evicted++
		return true
	}
	b.buf[(b.head+b.count)%len(b.buf)] = r
	b.count++
	return false
}

// PushFront puts r back at the head, undoing a PopFront. If the buffer has
// filled up in the meantime the reading is not re-inserted and false is
// returned; with a single owner that cannot happen between a pop and its
// undo.
func (b *ReadingBuffer) PushFront(r monitoring.Reading) bool {
	if b.count == len(b.buf) {
		return false
	}
	b.head = (b.head - 1 + len(b.buf)) % len(b.buf)
	b.buf[b.head] = r
	b.count++
	return true
}

// PopFront removes and returns the oldest reading
func (b *ReadingBuffer) PopFront() (monitoring.Reading, bool) {
	if b.count == 0 {
		return monitoring.Reading{}, false
	}
	r := b.buf[b.head]
	b.buf[b.head] = monitoring.Reading{}
	b.head = (b.head + 1) % len(b.buf)
	b.count--
	return r, true
}

// PeekFront returns the oldest reading without removing it
func (b *ReadingBuffer) PeekFront() (monitoring.Reading, bool) {
	if b.count == 0 {
		return monitoring.Reading{}, false
	}
	return b.buf[b.head], true
}

// Len returns the number of queued readings
func (b *ReadingBuffer) Len() int {
	return b.count
}

// Cap returns the maximum number of readings
func (b *ReadingBuffer) Cap() int {
	return len(b.buf)
}

// Evicted returns how many readings were dropped on overflow since creation
func (b *ReadingBuffer) Evicted() uint64 {
	return b.evicted
}
