// Package boundedmpmc is a bounded multi-producer/multi-consumer ring where
// each slot carries a sequence number that tells producers and consumers
// whose turn it is.
package boundedmpmc

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Original algorithm by Dmitry Vyukov
// https://www.1024cores.net/home/lock-free-algorithms/queues/bounded-mpmc-queue

const goschedEvery = 64

type slot[T any] struct {
	seq   atomic.Uint64
	value T
}

// Queue is a bounded lock-free MPMC FIFO. Capacity is rounded up to a power
// of two.
type Queue[T any] struct {
	_        cpu.CacheLinePad
	enqPos   atomic.Uint64
	_        cpu.CacheLinePad
	deqPos   atomic.Uint64
	_        cpu.CacheLinePad
	slots    []slot[T]
	mask     uint64
	capacity uint64
}

func New[T any](capacity uint64) *Queue[T] {
	size := uint64(1)
	for size < capacity {
		size <<= 1
	}
	q := &Queue[T]{
		slots:    make([]slot[T], size),
		mask:     size - 1,
		capacity: size,
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Enqueue stores val and reports false if the queue is full.
func (q *Queue[T]) Enqueue(val T) bool {
	var spins uint32
	for {
		pos := q.enqPos.Load()
		s := &q.slots[pos&q.mask]
		diff := int64(s.seq.Load()) - int64(pos)
		switch {
		case diff == 0:
			if q.enqPos.CompareAndSwap(pos, pos+1) {
				s.value = val
				s.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			// The slot still holds the value from one lap ago.
			return false
		}
		spins++
		if spins%goschedEvery == 0 {
			runtime.Gosched()
		}
	}
}

// Dequeue removes the oldest value. It returns false only when no value has
// been claimed ahead of the consumer position.
func (q *Queue[T]) Dequeue() (T, bool) {
	var spins uint32
	for {
		pos := q.deqPos.Load()
		s := &q.slots[pos&q.mask]
		diff := int64(s.seq.Load()) - int64(pos+1)
		switch {
		case diff == 0:
			if q.deqPos.CompareAndSwap(pos, pos+1) {
				val := s.value
				var zero T
				s.value = zero
				s.seq.Store(pos + q.capacity)
				return val, true
			}
		case diff < 0:
			if q.enqPos.Load() == pos {
				var zero T
				return zero, false
			}
			// A producer claimed pos but has not published yet.
		}
		spins++
		if spins%goschedEvery == 0 {
			runtime.Gosched()
		}
	}
}

func (q *Queue[T]) Capacity() uint64 {
	return q.capacity
}

// UsedSlots is approximate while producers or consumers are active.
func (q *Queue[T]) UsedSlots() uint64 {
	deq := q.deqPos.Load()
	enq := q.enqPos.Load()
	if enq <= deq {
		return 0
	}
	return min(enq-deq, q.capacity)
}

func (q *Queue[T]) FreeSlots() uint64 {
	return q.capacity - q.UsedSlots()
}
