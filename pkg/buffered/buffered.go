package buffered

// BufferedQueue adapts a buffered Go channel to the non-blocking queue contract.
// It is safe for any number of producers and consumers.
type BufferedQueue[T any] struct {
	ch chan T
}

func New[T any](bufferSize uint64) *BufferedQueue[T] {
	// A zero-capacity channel is a rendezvous point, not an empty buffer,
	// so every non-blocking send would fail without a waiting receiver.
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &BufferedQueue[T]{
		ch: make(chan T, bufferSize),
	}
}

// Enqueue sends val if there is room and reports whether it did.
func (q *BufferedQueue[T]) Enqueue(val T) bool {
	select {
	case q.ch <- val:
		return true
	default:
		return false
	}
}

func (q *BufferedQueue[T]) Dequeue() (val T, ok bool) {
	select {
	case val = <-q.ch:
		return val, true
	default:
		return val, false
	}
}

func (q *BufferedQueue[T]) Capacity() uint64 {
	return uint64(cap(q.ch))
}

func (q *BufferedQueue[T]) FreeSlots() uint64 {
	return uint64(cap(q.ch) - len(q.ch))
}

func (q *BufferedQueue[T]) UsedSlots() uint64 {
	return uint64(len(q.ch))
}
