package testbench

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i5heu/GoLockFreeQueues/pkg/lockedqueue"
	"github.com/i5heu/GoLockFreeQueues/pkg/lockfreequeue"
	"github.com/i5heu/GoLockFreeQueues/pkg/ringbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stack is LIFO, so it fails any FIFO order check.
type stack struct {
	mu    sync.Mutex
	items []int
}

func (s *stack) Enqueue(v int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, v)
	return true
}

func (s *stack) Dequeue() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return 0, false
	}
	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return v, true
}

func (s *stack) UsedSlots() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.items))
}

func TestRunFixedSPSCRingBuffer(t *testing.T) {
	cfg := Config{NumProducers: 1, NumConsumers: 1, MessagesPerProducer: 200_000, Mode: ModeSPSC}
	res, err := RunFixed(ringbuffer.New[int](1024), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), res.Produced)
	assert.Equal(t, int64(200_000), res.Consumed)
	assert.Positive(t, res.Elapsed)
	assert.Positive(t, res.Throughput())
}

func TestRunFixedSPSCSmallBufferRetries(t *testing.T) {
	cfg := Config{NumProducers: 1, MessagesPerProducer: 50_000, Mode: ModeSPSC}
	res, err := RunFixed(ringbuffer.New[int](1), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), res.Consumed)
}

func TestRunFixedSPSCPattern(t *testing.T) {
	var calls atomic.Int64
	cfg := Config{
		NumProducers:        1,
		MessagesPerProducer: 10_000,
		Mode:                ModeSPSC,
		Pattern:             DefaultPattern,
		OnDequeue:           func(v int, n int64) { calls.Add(1) },
	}
	_, err := RunFixed(ringbuffer.New[int](16), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), calls.Load())
}

func TestRunFixedSPSCDetectsReordering(t *testing.T) {
	// The consumer pops whatever is on top, so the order breaks as soon as
	// the producer gets two values ahead.
	cfg := Config{NumProducers: 1, MessagesPerProducer: 100_000, Mode: ModeSPSC}
	_, err := RunFixed(&stack{}, cfg)
	if err == nil {
		t.Skip("producer and consumer never overlapped; no reordering observed")
	}
	require.ErrorIs(t, err, ErrOrderViolation)
}

func TestRunFixedMPMCLockFree(t *testing.T) {
	for _, consumers := range []int{0, 1, 4} {
		cfg := Config{
			NumProducers:        8,
			NumConsumers:        consumers,
			MessagesPerProducer: 20_000,
			Mode:                ModeMPMC,
			CheckOrder:          true,
		}
		res, err := RunFixed(lockfreequeue.New[int](), cfg)
		require.NoErrorf(t, err, "consumers=%d", consumers)
		assert.Equal(t, int64(160_000), res.Consumed)
		assert.Equal(t, res.Produced, res.Consumed)
	}
}

func TestRunFixedMPMCLocked(t *testing.T) {
	cfg := Config{NumProducers: 4, MessagesPerProducer: 20_000, Mode: ModeMPMC, CheckOrder: true}
	_, err := RunFixed(lockedqueue.New[int](), cfg)
	require.NoError(t, err)
}

func TestRunFixedMPMCPatternHistogram(t *testing.T) {
	cfg := Config{NumProducers: 3, NumConsumers: 2, MessagesPerProducer: 1_000, Mode: ModeMPMC, Pattern: DefaultPattern}
	res, err := RunFixed(lockfreequeue.New[int](), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000), res.Consumed)

	want := cfg.expectedHistogram()
	assert.Equal(t, int64(300), want.get(0))
	assert.Equal(t, int64(900), want.get(2))
	assert.Equal(t, int64(0), want.get(1))
}

func TestCompareHistograms(t *testing.T) {
	cfg := Config{NumProducers: 2, MessagesPerProducer: 10, Mode: ModeMPMC}
	want := cfg.expectedHistogram()

	// One value lost, one foreign value received instead.
	got := newHistogram(cfg)
	for v := 0; v < 20; v++ {
		if v != 7 {
			got.add(v, 1)
		}
	}
	got.add(107, 1)
	require.ErrorIs(t, compareHistograms(want, got), ErrHistogramMismatch)

	got.add(7, 1)
	require.ErrorIs(t, compareHistograms(want, got), ErrHistogramMismatch, "foreign value must be reported")

	got.add(107, -1)
	require.NoError(t, compareHistograms(want, got))

	// Duplicate delivery.
	got.add(3, 1)
	require.ErrorIs(t, compareHistograms(want, got), ErrHistogramMismatch)
}

func TestRunFixedInvalidConfig(t *testing.T) {
	q := lockfreequeue.New[int]()
	cases := []Config{
		{NumProducers: 2, MessagesPerProducer: 1, Mode: ModeSPSC},
		{NumProducers: 1, NumConsumers: 2, MessagesPerProducer: 1, Mode: ModeSPSC},
		{NumProducers: 0, MessagesPerProducer: 1, Mode: ModeMPMC},
		{NumProducers: 1, MessagesPerProducer: -1, Mode: ModeMPMC},
		{NumProducers: 1, MessagesPerProducer: 1, Mode: ModeMPMC, Pattern: DefaultPattern, CheckOrder: true},
		{NumProducers: 1, MessagesPerProducer: 1, Mode: Mode(42)},
	}
	for i, cfg := range cases {
		_, err := RunFixed(q, cfg)
		require.ErrorIsf(t, err, ErrInvalidConfig, "case %d", i)
	}
}

func TestRunFixedZeroMessages(t *testing.T) {
	res, err := RunFixed(lockfreequeue.New[int](), Config{NumProducers: 4, NumConsumers: 2, Mode: ModeMPMC})
	require.NoError(t, err)
	assert.Zero(t, res.Consumed)
}

func TestRunTimedDrainsEverything(t *testing.T) {
	q := lockfreequeue.New[int]()
	res, err := RunTimed(q, Config{NumProducers: 4, NumConsumers: 2}, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Positive(t, res.Produced)
	assert.Equal(t, res.Produced, res.Consumed)
	assert.GreaterOrEqual(t, res.Elapsed, 200*time.Millisecond)
	_, ok := q.Dequeue()
	assert.False(t, ok, "queue must be drained after a timed run")
}

func TestRunTimedBoundedSPSC(t *testing.T) {
	q := ringbuffer.New[int](8)
	res, err := RunTimed(q, Config{NumProducers: 1, NumConsumers: 1, Mode: ModeSPSC}, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, res.Produced, res.Consumed)
	assert.Equal(t, uint64(0), q.SizeApprox())
}

func TestRunTimedSPSCDetectsReordering(t *testing.T) {
	// A LIFO hands back the newest value first, so the first dequeue after the
	// producer got two values ahead breaks the sequence.
	_, err := RunTimed(&stack{}, Config{NumProducers: 1, NumConsumers: 1, Mode: ModeSPSC}, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrOrderViolation)
}

func TestRunTimedPatternValues(t *testing.T) {
	for _, mode := range []Mode{ModeSPSC, ModeMPMC} {
		var foreign, total atomic.Int64
		cfg := Config{
			NumProducers: 1,
			NumConsumers: 1,
			Mode:         mode,
			Pattern:      DefaultPattern,
			OnDequeue: func(v int, _ int64) {
				total.Add(1)
				if !slices.Contains(DefaultPattern, v) {
					foreign.Add(1)
				}
			},
		}
		if mode == ModeMPMC {
			cfg.NumProducers = 3
		}
		res, err := RunTimed(lockfreequeue.New[int](), cfg, 50*time.Millisecond)
		require.NoErrorf(t, err, "mode=%s", mode)
		assert.Positive(t, total.Load())
		assert.Equal(t, res.Consumed, total.Load())
		assert.Zerof(t, foreign.Load(), "mode=%s: values outside the pattern", mode)
	}
}

func TestRunTimedSPSCInOrder(t *testing.T) {
	var last atomic.Int64
	last.Store(-1)
	cfg := Config{
		NumProducers: 1,
		NumConsumers: 1,
		Mode:         ModeSPSC,
		OnDequeue:    func(v int, _ int64) { last.Store(int64(v)) },
	}
	res, err := RunTimed(ringbuffer.New[int](4), cfg, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, res.Consumed-1, last.Load())
}

func TestRunTimedInvalidConfig(t *testing.T) {
	_, err := RunTimed(lockfreequeue.New[int](), Config{}, time.Millisecond)
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = RunTimed(ringbuffer.New[int](8), Config{NumProducers: 2, Mode: ModeSPSC}, time.Millisecond)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "SPSC", ModeSPSC.String())
	assert.Equal(t, "MPMC", ModeMPMC.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}
