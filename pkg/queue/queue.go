// Package queue provides the unbounded FIFO queue that feeds pool workers.
//
// Any number of goroutines may Enqueue. Any number of consumers may Receive;
// each item is handed to exactly one of them. Receives are serialized by the
// queue's mutex, so removal order is strictly FIFO.
package queue

import (
	"errors"
	"sync"
)

const (
	defaultQueueCap = 16
	compactMinHead  = 64 // Don't compact until this many slots are consumed
)

// ErrClosed is returned by Enqueue after Close
var ErrClosed = errors.New("queue is closed")

// Queue is an unbounded multi-producer, multi-consumer FIFO queue
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int // index of the next item to receive
	closed bool
}

// New creates an empty open queue
func New[T any]() *Queue[T] {
	q := &Queue[T]{
		items: make([]T, 0, defaultQueueCap),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends item to the tail of the queue. It never blocks on capacity.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// Receive removes and returns the head of the queue, blocking while the queue
// is empty and open. It returns false once the queue is closed and drained.
func (q *Queue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.lenLocked() == 0 && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if q.lenLocked() == 0 {
		return zero, false
	}

	item := q.items[q.head]
	// Zero out the slot so the queue does not keep the item reachable
	q.items[q.head] = zero
	q.head++
	q.maybeCompactLocked()

	return item, true
}

// Close stops intake and wakes every blocked receiver. Items already queued
// are still delivered. Close reports whether this call closed the queue.
func (q *Queue[T]) Close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	q.cond.Broadcast()
	return true
}

// IsClosed reports whether Close has been called
func (q *Queue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}

// maybeCompactLocked reclaims the consumed prefix of the backing array
func (q *Queue[T]) maybeCompactLocked() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head < compactMinHead || q.head*2 < len(q.items) {
		return
	}

	n := copy(q.items, q.items[q.head:])
	clear(q.items[n:])
	q.items = q.items[:n]
	q.head = 0
}
