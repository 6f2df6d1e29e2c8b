package buffered

import (
	"testing"

	"github.com/i5heu/GoLockFreeQueues/internal/queue"
	"github.com/stretchr/testify/require"
)

var _ queue.Bounded[int] = (*BufferedQueue[int])(nil)

func TestNonBlockingFullAndEmpty(t *testing.T) {
	q := New[int](2)
	_, ok := q.Dequeue()
	require.False(t, ok)

	require.True(t, q.Enqueue(1))
	require.True(t, q.Enqueue(2))
	require.False(t, q.Enqueue(3), "full channel must reject instead of blocking")
	require.Equal(t, uint64(2), q.UsedSlots())
	require.Equal(t, uint64(0), q.FreeSlots())

	v, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestZeroSizeClamped(t *testing.T) {
	q := New[int](0)
	require.Equal(t, uint64(1), q.Capacity())
	require.True(t, q.Enqueue(1))
}
