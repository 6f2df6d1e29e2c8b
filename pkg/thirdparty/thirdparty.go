// Package thirdparty adapts external lock-free queues to the queue contract so
// the testbench can compare them against the queues in this module.
package thirdparty

import (
	"fmt"
	"sync/atomic"

	lockfreequeue "github.com/bsv-blockchain/go-lockfree-queue"
	ring "github.com/randomizedcoder/go-lock-free-ring"
)

// LinkedMPSC wraps bsv-blockchain/go-lockfree-queue, an unbounded linked
// queue that accepts concurrent producers but only one consumer.
type LinkedMPSC[T any] struct {
	q      *lockfreequeue.LockFreeQ[T]
	length atomic.Int64
}

func NewLinkedMPSC[T any]() *LinkedMPSC[T] {
	return &LinkedMPSC[T]{q: lockfreequeue.NewLockFreeQ[T]()}
}

func (a *LinkedMPSC[T]) Enqueue(val T) bool {
	a.q.Enqueue(val)
	a.length.Add(1)
	return true
}

// Dequeue must only be called from a single consumer goroutine.
func (a *LinkedMPSC[T]) Dequeue() (T, bool) {
	p := a.q.Dequeue()
	if p == nil {
		var zero T
		return zero, false
	}
	a.length.Add(-1)
	return *p, true
}

func (a *LinkedMPSC[T]) UsedSlots() uint64 {
	if n := a.length.Load(); n > 0 {
		return uint64(n)
	}
	return 0
}

// ShardedRing wraps randomizedcoder/go-lock-free-ring, a bounded MPSC ring
// split into shards. Producers are spread over shards round-robin, so order
// is only preserved within a shard.
type ShardedRing[T any] struct {
	r        *ring.ShardedRing
	producer atomic.Uint64
	length   atomic.Int64
}

// NewShardedRing creates a ring with the given total capacity split across shards.
func NewShardedRing[T any](capacity, shards uint64) (*ShardedRing[T], error) {
	if shards == 0 {
		shards = 1
	}
	if capacity == 0 {
		capacity = 1
	}
	r, err := ring.NewShardedRing(capacity, shards)
	if err != nil {
		return nil, fmt.Errorf("sharded ring (capacity=%d, shards=%d): %w", capacity, shards, err)
	}
	return &ShardedRing[T]{r: r}, nil
}

// Enqueue writes val to the next shard and reports false if that shard is full.
func (a *ShardedRing[T]) Enqueue(val T) bool {
	if !a.r.Write(a.producer.Add(1)-1, val) {
		return false
	}
	a.length.Add(1)
	return true
}

// Dequeue must only be called from a single consumer goroutine.
func (a *ShardedRing[T]) Dequeue() (T, bool) {
	v, ok := a.r.TryRead()
	if !ok {
		var zero T
		return zero, false
	}
	a.length.Add(-1)
	return v.(T), true
}

func (a *ShardedRing[T]) UsedSlots() uint64 {
	if n := a.length.Load(); n > 0 {
		return uint64(n)
	}
	return 0
}
