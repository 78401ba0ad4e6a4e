// ABOUTME: Single-consumer FIFO queue of pending user turns for one session
// ABOUTME: Push/Next/Close with explicit open/closed lifecycle and drain-on-close

package turnqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after the queue has been closed.
// Pushing to a closed queue is caller misuse, not a transient condition.
var ErrClosed = errors.New("turn queue closed")

// Turn is one user-submitted input unit awaiting generation.
type Turn struct {
	SessionID string
	Content   string
}

// Queue is an ordered buffer of pending turns with a single consumer.
// Any number of goroutines may Push; exactly one goroutine may call Next.
// Close is idempotent and may race with Push (late pushes get ErrClosed).
type Queue struct {
	mu     sync.Mutex
	items  []Turn
	closed bool
	wake   chan struct{}
}

// New creates an open, empty queue.
func New() *Queue {
	return &Queue{wake: make(chan struct{})}
}

// Push appends a turn to the tail. Returns ErrClosed if Close was called.
func (q *Queue) Push(t Turn) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, t)

	// Wake a blocked Next. The wake channel is single-use: close it and
	// replace it so later waiters get a fresh one.
	close(q.wake)
	q.wake = make(chan struct{})
	return nil
}

// Next blocks until a turn is available or the queue is closed and drained.
// The second return is false when the queue is done (closed and empty, or
// ctx cancelled). Next must not be called concurrently from two goroutines.
func (q *Queue) Next(ctx context.Context) (Turn, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return t, true
		}
		if q.closed {
			q.mu.Unlock()
			return Turn{}, false
		}
		wait := q.wake
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Turn{}, false
		}
	}
}

// Close marks the queue closed and wakes any blocked Next. Items already
// queued are still drained by subsequent Next calls. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.wake)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of turns currently buffered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
