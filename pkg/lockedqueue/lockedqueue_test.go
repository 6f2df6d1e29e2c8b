package lockedqueue

import (
	"sync"
	"testing"

	"github.com/i5heu/GoLockFreeQueues/internal/queue"
	"github.com/stretchr/testify/require"
)

var _ queue.Interface[int] = (*Queue[int])(nil)

func TestFIFO(t *testing.T) {
	q := New[int]()
	for _, v := range []int{3, 1, 4, 1, 5} {
		q.Push(v)
	}
	require.Equal(t, 5, q.Len())
	for _, want := range []int{3, 1, 4, 1, 5} {
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, want, v)
	}
	_, ok := q.Pop()
	require.False(t, ok)
}

func TestEmptyPopDoesNotPanic(t *testing.T) {
	q := New[*int]()
	for i := 0; i < 100; i++ {
		v, ok := q.Dequeue()
		require.False(t, ok)
		require.Nil(t, v)
	}
	require.Equal(t, uint64(0), q.UsedSlots())
}

func TestConcurrentNoLoss(t *testing.T) {
	const (
		producers   = 4
		perProducer = 10_000
		total       = producers * perProducer
	)
	q := New[int]()

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(p*perProducer + j)
			}
		}(p)
	}

	seen := make([]int, total)
	for got := 0; got < total; {
		if v, ok := q.Dequeue(); ok {
			seen[v]++
			got++
		}
	}
	wg.Wait()

	for v, n := range seen {
		if n != 1 {
			t.Fatalf("value %d seen %d times", v, n)
		}
	}
}
