package mediaflow

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO with a single producer and a single consumer.
// Blocked callers never hold the mutex: they wait on a signal channel that is closed and
// replaced every time the queue changes.
type Queue[T any] struct {
	capacity int
	closed   bool
	ended    bool
	items    []T
	m        sync.Mutex // Locks everything except capacity
	seq      uint64
	signal   chan struct{}
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = defaultBufferSize
	}
	return &Queue[T]{
		capacity: capacity,
		items:    make([]T, 0, capacity),
		signal:   make(chan struct{}),
	}
}

// Mutex should be locked
func (q *Queue[T]) broadcastUnsafe() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Push blocks while the queue is full and returns the sequence number of the item
func (q *Queue[T]) Push(ctx context.Context, item T) (uint64, error) {
	for {
		// Lock
		q.m.Lock()

		// Queue doesn't accept items anymore
		if q.closed || q.ended {
			q.m.Unlock()
			return 0, ErrEndOfQueue
		}

		// There's room
		if len(q.items) < q.capacity {
			seq := q.pushUnsafe(item)
			q.m.Unlock()
			return seq, nil
		}

		// Get signal
		s := q.signal

		// Unlock
		q.m.Unlock()

		//!\\ Mutex should be unlocked at this point

		// Wait
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s:
		}
	}
}

// TryPush doesn't block and returns ErrQueueFull when at capacity
func (q *Queue[T]) TryPush(item T) (uint64, error) {
	q.m.Lock()
	defer q.m.Unlock()
	if q.closed || q.ended {
		return 0, ErrEndOfQueue
	}
	if len(q.items) >= q.capacity {
		return 0, ErrQueueFull
	}
	return q.pushUnsafe(item), nil
}

// Mutex should be locked
func (q *Queue[T]) pushUnsafe(item T) uint64 {
	q.items = append(q.items, item)
	q.seq++
	q.broadcastUnsafe()
	return q.seq
}

// Pop blocks until an item is available. Once the queue has ended, remaining items are
// drained before ErrEndOfQueue is returned. Once the queue is closed, ErrEndOfQueue is
// returned right away.
func (q *Queue[T]) Pop(ctx context.Context) (item T, err error) {
	for {
		// Lock
		q.m.Lock()

		// Closed
		if q.closed {
			q.m.Unlock()
			err = ErrEndOfQueue
			return
		}

		// There's an item
		if len(q.items) > 0 {
			item = q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.broadcastUnsafe()
			q.m.Unlock()
			return
		}

		// Ended and drained
		if q.ended {
			q.m.Unlock()
			err = ErrEndOfQueue
			return
		}

		// Get signal
		s := q.signal

		// Unlock
		q.m.Unlock()

		//!\\ Mutex should be unlocked at this point

		// Wait
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return
		case <-s:
		}
	}
}

// Close is terminal: contents are discarded and all blocked and future operations return
// ErrEndOfQueue
func (q *Queue[T]) Close() {
	q.m.Lock()
	defer q.m.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.broadcastUnsafe()
}

// End signals the producer is done
func (q *Queue[T]) End() {
	q.m.Lock()
	defer q.m.Unlock()
	if q.ended || q.closed {
		return
	}
	q.ended = true
	q.broadcastUnsafe()
}

// Flush discards contents, resets sequencing and the end state. A closed queue stays closed.
func (q *Queue[T]) Flush() {
	q.m.Lock()
	defer q.m.Unlock()
	if q.closed {
		return
	}
	q.ended = false
	q.items = make([]T, 0, q.capacity)
	q.seq = 0
	q.broadcastUnsafe()
}

func (q *Queue[T]) Closed() bool {
	q.m.Lock()
	defer q.m.Unlock()
	return q.closed
}

func (q *Queue[T]) Ended() bool {
	q.m.Lock()
	defer q.m.Unlock()
	return q.ended
}

func (q *Queue[T]) Len() int {
	q.m.Lock()
	defer q.m.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Cap() int {
	return q.capacity
}

func (q *Queue[T]) Fill() float64 {
	return float64(q.Len()) / float64(q.capacity)
}

// Bounds returns the oldest and newest items
func (q *Queue[T]) Bounds() (head, tail T, ok bool) {
	q.m.Lock()
	defer q.m.Unlock()
	if len(q.items) == 0 {
		return
	}
	return q.items[0], q.items[len(q.items)-1], true
}
