package queue

// Interface is the push/pop contract every backend in this module exposes so
// the testbench can drive any of them. Enqueue and Dequeue never block.
type Interface[T any] interface {
	// Enqueue adds an element to the queue.
	// It returns false only if a bounded queue is full; unbounded queues always return true.
	// A rejected value is left untouched in the caller's possession.
	Enqueue(T) bool

	// Dequeue removes and returns the oldest element.
	// If the queue is empty it returns a zero T and false without blocking.
	Dequeue() (T, bool)

	// UsedSlots returns how many elements are currently queued.
	// The value may be stale and must not be used for synchronization.
	UsedSlots() uint64
}

// Bounded is implemented by fixed-capacity queues.
type Bounded[T any] interface {
	Interface[T]

	// Capacity returns the number of usable slots.
	Capacity() uint64

	// FreeSlots returns how many more elements can be enqueued before the queue is full.
	FreeSlots() uint64
}
