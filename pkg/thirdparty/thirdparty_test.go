package thirdparty

import (
	"sync"
	"testing"

	"github.com/i5heu/GoLockFreeQueues/internal/queue"
	"github.com/stretchr/testify/require"
)

var (
	_ queue.Interface[int] = (*LinkedMPSC[int])(nil)
	_ queue.Interface[int] = (*ShardedRing[int])(nil)
)

func TestLinkedMPSCSequential(t *testing.T) {
	q := NewLinkedMPSC[int]()
	_, ok := q.Dequeue()
	require.False(t, ok)

	for _, v := range []int{3, 1, 4, 1, 5} {
		require.True(t, q.Enqueue(v))
	}
	require.Equal(t, uint64(5), q.UsedSlots())
	for _, want := range []int{3, 1, 4, 1, 5} {
		v, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, want, v)
	}
	_, ok = q.Dequeue()
	require.False(t, ok)
}

func TestShardedRingSingleShard(t *testing.T) {
	q, err := NewShardedRing[int](64, 1)
	require.NoError(t, err)

	_, ok := q.Dequeue()
	require.False(t, ok)

	for i := 0; i < 10; i++ {
		require.True(t, q.Enqueue(i))
	}
	for i := 0; i < 10; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func testConcurrentProducers(t *testing.T, q queue.Interface[int]) {
	const (
		producers   = 4
		perProducer = 5_000
		total       = producers * perProducer
	)
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				for !q.Enqueue(p*perProducer + j) {
				}
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
		require.Equalf(t, 1, n, "value %d", v)
	}
}

func TestLinkedMPSCConcurrentProducers(t *testing.T) {
	testConcurrentProducers(t, NewLinkedMPSC[int]())
}

func TestShardedRingConcurrentProducers(t *testing.T) {
	q, err := NewShardedRing[int](1024, 4)
	require.NoError(t, err)
	testConcurrentProducers(t, q)
}
