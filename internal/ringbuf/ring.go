// Package ringbuf is a bounded single-producer single-consumer queue. Push
// and Pop never block and never allocate, so the consumer can run on a
// real-time thread.
package ringbuf

import (
	"fmt"
	"sync/atomic"
)

// Ring holds up to a power-of-two number of values. One goroutine may push
// while another pops.
type Ring[T any] struct {
	buf  []T
	mask uint64
	// head is the next slot to read, tail the next slot to write.
	head atomic.Uint64
	_    [56]byte
	tail atomic.Uint64
}

// New returns a ring with room for capacity values, rounded up to a power
// of two.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Ring[T]{buf: make([]T, size), mask: uint64(size - 1)}, nil
}

// Cap returns the number of slots.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of queued values.
func (r *Ring[T]) Len() int { return int(r.tail.Load() - r.head.Load()) }

// Push enqueues v. It reports false when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() == uint64(len(r.buf)) {
		return false
	}
	r.buf[tail&r.mask] = v
	r.tail.Store(tail + 1)
	return true
}

// Pop dequeues the oldest value.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}
	v := r.buf[head&r.mask]
	r.buf[head&r.mask] = zero
	r.head.Store(head + 1)
	return v, true
}
