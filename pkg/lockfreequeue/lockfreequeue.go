package lockfreequeue

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Original algorithm by Maged M. Michael and Michael L. Scott
// https://www.cs.rochester.edu/research/synchronization/pseudocode/queues.html

// goschedEvery controls how often a contended retry loop yields.
const goschedEvery = 64

// node is one element of the singly linked list.
// next moves from nil to non-nil exactly once and is never written again.
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// Queue is an unbounded, lock-free, multi-producer/multi-consumer FIFO queue.
//
// head always points at a dummy node whose value has already been returned
// (or the initial sentinel). tail points at the last node or lags it by one.
//
// Consumed nodes are reclaimed by the garbage collector once no goroutine
// references them, so a Pop that loses a CAS never reads freed memory and a
// node address cannot be reused while a stale pointer to it exists.
//
// The node that becomes the new dummy keeps the value just returned by Pop
// reachable until the following Pop unlinks it. It is not zeroed because a
// racing Pop that loaded the same node may still be reading it. For pointer
// types this holds at most one already dequeued element alive.
type Queue[T any] struct {
	_    cpu.CacheLinePad
	head atomic.Pointer[node[T]]
	_    cpu.CacheLinePad
	tail atomic.Pointer[node[T]]
	_    cpu.CacheLinePad

	length      atomic.Int64
	pushRetries atomic.Uint64
	popRetries  atomic.Uint64
}

// Stats reports contention counters accumulated since New.
type Stats struct {
	PushRetries uint64
	PopRetries  uint64
}

// New creates an empty Queue with its sentinel node.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	sentinel := &node[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Push appends val to the queue. It never blocks and always succeeds unless
// the runtime cannot allocate the node, which is fatal.
func (q *Queue[T]) Push(val T) {
	n := &node[T]{value: val}
	var spins uint32
	for {
		last := q.tail.Load()
		next := last.next.Load()

		if last == q.tail.Load() {
			if next == nil {
				if last.next.CompareAndSwap(nil, n) {
					// Linked. Swinging tail is best-effort; others will help.
					q.tail.CompareAndSwap(last, n)
					q.length.Add(1)
					if spins > 0 {
						q.pushRetries.Add(uint64(spins))
					}
					return
				}
			} else {
				// Another producer linked a node but has not moved tail yet.
				q.tail.CompareAndSwap(last, next)
			}
		}

		spins++
		if spins%goschedEvery == 0 {
			runtime.Gosched()
		}
	}
}

// Pop removes and returns the oldest value.
// If the queue is empty it returns a zero T and false without blocking.
func (q *Queue[T]) Pop() (T, bool) {
	var spins uint32
	for {
		first := q.head.Load()
		last := q.tail.Load()
		next := first.next.Load()

		if first == q.head.Load() {
			if first == last {
				if next == nil {
					if spins > 0 {
						q.popRetries.Add(uint64(spins))
					}
					var zero T
					return zero, false
				}
				// tail is lagging behind a linked node; help it forward.
				q.tail.CompareAndSwap(last, next)
			} else if next != nil {
				val := next.value
				if q.head.CompareAndSwap(first, next) {
					q.length.Add(-1)
					if spins > 0 {
						q.popRetries.Add(uint64(spins))
					}
					return val, true
				}
			}
		}

		spins++
		if spins%goschedEvery == 0 {
			runtime.Gosched()
		}
	}
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

// Len returns an approximate element count.
// The counter is updated after the link or unlink, so it can briefly lag
// and may even read negative under heavy contention.
func (q *Queue[T]) Len() int64 {
	return q.length.Load()
}

// UsedSlots returns Len clamped at zero.
func (q *Queue[T]) UsedSlots() uint64 {
	if n := q.Len(); n > 0 {
		return uint64(n)
	}
	return 0
}

// Stats returns the CAS retry counters.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		PushRetries: q.pushRetries.Load(),
		PopRetries:  q.popRetries.Load(),
	}
}
