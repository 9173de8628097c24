package memory

import (
	"fmt"
	"sync/atomic"
)

const cacheLine = 64

// SPSCQueue is a fixed-capacity lock-free ring buffer with exactly one
// producer goroutine and exactly one consumer goroutine.
//
// One slot is always left empty so that head == tail means empty and
// next(head) == tail means full; a queue built with capacity n holds at
// most n-1 items.
type SPSCQueue[T any] struct {
	_ [cacheLine]byte

	// producer side
	head       atomic.Uint64
	cachedTail uint64
	_          [cacheLine - 16]byte

	// consumer side
	tail       atomic.Uint64
	cachedHead uint64
	_          [cacheLine - 16]byte

	buf  []T
	size uint64
}

// NewSPSCQueue allocates a ring of capacity slots. capacity must be >= 2.
func NewSPSCQueue[T any](capacity int) *SPSCQueue[T] {
	if capacity < 2 {
		panic(fmt.Sprintf("memory: SPSCQueue capacity must be >= 2, got %d", capacity))
	}
	return &SPSCQueue[T]{
		buf:  make([]T, capacity),
		size: uint64(capacity),
	}
}

// Push appends v. It returns false without blocking when the ring is full.
// Only the producer goroutine may call Push.
func (q *SPSCQueue[T]) Push(v T) bool {
	h := q.head.Load()
	next := h + 1
	if next == q.size {
		next = 0
	}
	if next == q.cachedTail {
		q.cachedTail = q.tail.Load()
		if next == q.cachedTail {
			return false
		}
	}
	q.buf[h] = v
	// publishes the slot write above to the consumer
	q.head.Store(next)
	return true
}

// Pop removes the oldest item. It returns false without blocking when the
// ring is empty. Only the consumer goroutine may call Pop.
func (q *SPSCQueue[T]) Pop() (T, bool) {
	var zero T
	t := q.tail.Load()
	if t == q.cachedHead {
		q.cachedHead = q.head.Load()
		if t == q.cachedHead {
			return zero, false
		}
	}
	v := q.buf[t]
	q.buf[t] = zero
	next := t + 1
	if next == q.size {
		next = 0
	}
	// hands the slot back to the producer
	q.tail.Store(next)
	return v, true
}

// Len returns an approximate item count; exact only when both sides are idle.
func (q *SPSCQueue[T]) Len() int {
	h := q.head.Load()
	t := q.tail.Load()
	if h >= t {
		return int(h - t)
	}
	return int(q.size - t + h)
}

// Cap returns the number of items the queue can hold.
func (q *SPSCQueue[T]) Cap() int { return int(q.size) - 1 }

// IsEmpty reports whether the ring is empty.
func (q *SPSCQueue[T]) IsEmpty() bool {
	return q.head.Load() == q.tail.Load()
}
