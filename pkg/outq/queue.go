// Package outq provides a bounded in-memory queue with a configurable
// overflow policy, used for per-subscriber outbound buffering.
package outq

import "sync"

// OverflowPolicy decides what Push does when the queue is full.
type OverflowPolicy uint8

const (
	// OverflowReject makes Push fail when full.
	OverflowReject OverflowPolicy = iota
	// OverflowDropOldest evicts the oldest element to make room.
	OverflowDropOldest
	// OverflowBlock makes Push wait for room.
	OverflowBlock
)

// Queue is a bounded ring buffer.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []T
	head     int
	tail     int
	size     int
	closed   bool
	policy   OverflowPolicy
}

// New creates a queue with the given capacity and overflow policy.
func New[T any](capacity int, policy OverflowPolicy) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue[T]{
		buf:    make([]T, capacity),
		policy: policy,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push enqueues an element according to the overflow policy.
// It reports false when the queue is closed or the element was rejected.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return false
		}
		if q.size < len(q.buf) {
			q.buf[q.tail] = v
			q.tail = (q.tail + 1) % len(q.buf)
			q.size++
			q.notEmpty.Signal()
			return true
		}
		switch q.policy {
		case OverflowBlock:
			q.notFull.Wait()
		case OverflowDropOldest:
			var zero T
			q.buf[q.head] = zero
			q.head = (q.head + 1) % len(q.buf)
			q.size--
		default:
			return false
		}
	}
}

// Pop dequeues the next element, blocking until one is available or the
// queue is closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.size > 0 {
			v := q.buf[q.head]
			var zero T
			q.buf[q.head] = zero
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			q.notFull.Signal()
			return v, true
		}
		if q.closed {
			var zero T
			return zero, false
		}
		q.notEmpty.Wait()
	}
}

// Close stops the queue from accepting new elements and wakes waiters.
// Already queued elements remain poppable. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	size := q.size
	q.mu.Unlock()
	return size
}
