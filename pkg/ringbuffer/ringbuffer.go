package ringbuffer

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// RingBuffer is a bounded, wait-free, single-producer/single-consumer FIFO queue.
//
// Exactly one goroutine may call Enqueue and exactly one goroutine may call
// Dequeue; they may be the same goroutine. Each index has a single writer, so
// neither side needs a lock or a CAS.
//
// One slot more than the usable capacity is allocated so that "empty"
// (write == read) and "full" (next write == read) are distinguishable.
type RingBuffer[T any] struct {
	_ cpu.CacheLinePad

	// Producer side: writeIndex is stored only by the producer,
	// cachedRead is the producer's last observed readIndex.
	writeIndex atomic.Uint64
	cachedRead uint64
	_          cpu.CacheLinePad

	// Consumer side: readIndex is stored only by the consumer,
	// cachedWrite is the consumer's last observed writeIndex.
	readIndex   atomic.Uint64
	cachedWrite uint64
	_           cpu.CacheLinePad

	// Read-only after New.
	slots []T
	size  uint64 // len(slots) == capacity + 1
	_     cpu.CacheLinePad
}

// New creates a RingBuffer holding up to capacity elements.
// A capacity of 0 is raised to 1 so that the buffer always has a usable slot.
func New[T any](capacity uint64) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		slots: make([]T, capacity+1),
		size:  capacity + 1,
	}
}

func (r *RingBuffer[T]) next(i uint64) uint64 {
	i++
	if i == r.size {
		return 0
	}
	return i
}

// Enqueue stores val at the tail of the buffer.
// It returns false without touching the buffer or val if the buffer is full.
//
// Producer only.
func (r *RingBuffer[T]) Enqueue(val T) bool {
	write := r.writeIndex.Load()
	next := r.next(write)

	if next == r.cachedRead {
		// Looks full from the cached view; refresh from the consumer.
		r.cachedRead = r.readIndex.Load()
		if next == r.cachedRead {
			return false
		}
	}

	r.slots[write] = val
	// Publishing the index makes the slot write visible to the consumer.
	r.writeIndex.Store(next)
	return true
}

// Dequeue removes and returns the oldest element.
// If the buffer is empty it returns a zero T and false.
//
// Consumer only.
func (r *RingBuffer[T]) Dequeue() (T, bool) {
	var zero T
	read := r.readIndex.Load()

	if read == r.cachedWrite {
		r.cachedWrite = r.writeIndex.Load()
		if read == r.cachedWrite {
			return zero, false
		}
	}

	val := r.slots[read]
	r.slots[read] = zero // drop the reference so the GC can reclaim it
	// The slot may be reused by the producer once this store is observed.
	r.readIndex.Store(r.next(read))
	return val, true
}

// SizeApprox returns the number of live elements computed from both indices.
// It may be stale by the time it returns; use it for diagnostics only.
func (r *RingBuffer[T]) SizeApprox() uint64 {
	write := r.writeIndex.Load()
	read := r.readIndex.Load()
	return (write + r.size - read) % r.size
}

// Capacity returns the number of usable slots.
func (r *RingBuffer[T]) Capacity() uint64 {
	return r.size - 1
}

// UsedSlots is SizeApprox under the queue contract name.
func (r *RingBuffer[T]) UsedSlots() uint64 {
	return r.SizeApprox()
}

// FreeSlots returns how many more elements fit before Enqueue reports full.
func (r *RingBuffer[T]) FreeSlots() uint64 {
	return r.Capacity() - r.SizeApprox()
}
