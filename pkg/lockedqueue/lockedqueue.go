package lockedqueue

import (
	"sync"

	"github.com/eapache/queue"
)

// Queue is a mutex-guarded FIFO used as the throughput and correctness
// baseline for the lock-free queues. Pop never waits for a value.
type Queue[T any] struct {
	mu    sync.Mutex
	items *queue.Queue
}

// New creates an empty Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{items: queue.New()}
}

// Push appends val.
func (q *Queue[T]) Push(val T) {
	q.mu.Lock()
	q.items.Add(val)
	q.mu.Unlock()
}

// Pop removes and returns the oldest value, or a zero T and false if empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.items.Remove().(T), true
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Enqueue is Push under the queue contract name; it always returns true.
func (q *Queue[T]) Enqueue(val T) bool {
	q.Push(val)
	return true
}

// Dequeue is Pop under the queue contract name.
func (q *Queue[T]) Dequeue() (T, bool) {
	return q.Pop()
}

// UsedSlots returns Len.
func (q *Queue[T]) UsedSlots() uint64 {
	return uint64(q.Len())
}
