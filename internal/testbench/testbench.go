package testbench

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/GoLockFreeQueues/internal/queue"
)

// Mode selects the producer/consumer topology and how a run is verified.
type Mode int

const (
	// ModeMPMC runs NumProducers producers and checks a value histogram,
	// since interleaving across producers is unspecified.
	ModeMPMC Mode = iota
	// ModeSPSC runs one producer and one dedicated consumer goroutine and
	// checks that values arrive in exactly the order they were generated.
	ModeSPSC
)

func (m Mode) String() string {
	switch m {
	case ModeSPSC:
		return "SPSC"
	case ModeMPMC:
		return "MPMC"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// DefaultPattern is the repeating element sequence used for patterned runs.
var DefaultPattern = []int{0, 2, 2, 2, 4, 5, 5, 7, 8, 9}

var (
	ErrInvalidConfig     = errors.New("invalid benchmark config")
	ErrOrderViolation    = errors.New("order violation")
	ErrHistogramMismatch = errors.New("histogram mismatch")
)

// Config describes one benchmark run.
type Config struct {
	NumProducers int
	// NumConsumers <= 1 in ModeMPMC means the calling goroutine consumes.
	// ModeSPSC always uses exactly one dedicated consumer goroutine.
	NumConsumers int

	// MessagesPerProducer is the pre-agreed amount of work; producers and
	// consumers stop on their own once it is done. Ignored by RunTimed.
	MessagesPerProducer int

	Mode Mode

	// Pattern, if non-empty, makes producer values repeat Pattern instead of
	// the globally unique sequence producer*MessagesPerProducer + j.
	Pattern []int

	// CheckOrder verifies, for sequential values, that every consumer sees
	// each producer's values in increasing order.
	CheckOrder bool

	// OnDequeue, if set, is called by consumers after every successful
	// dequeue with the value and that consumer's running count.
	OnDequeue func(v int, n int64)
}

// Result is what a completed run reports. Counters are read only after every
// goroutine of the run has been joined.
type Result struct {
	Produced       int64
	Consumed       int64
	EnqueueRetries int64 // Enqueue calls rejected because the queue was full
	Elapsed        time.Duration
}

// Throughput returns consumed messages per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Consumed) / r.Elapsed.Seconds()
}

func (cfg Config) validate() error {
	switch cfg.Mode {
	case ModeSPSC:
		if cfg.NumProducers != 1 {
			return fmt.Errorf("%w: SPSC needs exactly one producer, got %d", ErrInvalidConfig, cfg.NumProducers)
		}
		if cfg.NumConsumers > 1 {
			return fmt.Errorf("%w: SPSC needs exactly one consumer, got %d", ErrInvalidConfig, cfg.NumConsumers)
		}
	case ModeMPMC:
		if cfg.NumProducers < 1 {
			return fmt.Errorf("%w: need at least one producer", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidConfig, cfg.Mode)
	}
	if cfg.MessagesPerProducer < 0 {
		return fmt.Errorf("%w: negative message count", ErrInvalidConfig)
	}
	if cfg.CheckOrder && len(cfg.Pattern) > 0 {
		return fmt.Errorf("%w: order check needs sequential values", ErrInvalidConfig)
	}
	return nil
}

// value returns the j-th value of producer p.
func (cfg Config) value(p, j int) int {
	if len(cfg.Pattern) > 0 {
		return cfg.Pattern[j%len(cfg.Pattern)]
	}
	return p*cfg.MessagesPerProducer + j
}

// histogram counts received values. Sequential runs use a dense slice
// indexed by value; patterned runs and out-of-range values go to the map.
type histogram struct {
	dense  []int64
	sparse map[int]int64
}

func newHistogram(cfg Config) *histogram {
	h := &histogram{sparse: make(map[int]int64)}
	if len(cfg.Pattern) == 0 {
		h.dense = make([]int64, cfg.NumProducers*cfg.MessagesPerProducer)
	}
	return h
}

func (h *histogram) add(v int, n int64) {
	if v >= 0 && v < len(h.dense) {
		h.dense[v] += n
		return
	}
	h.sparse[v] += n
}

func (h *histogram) get(v int) int64 {
	if v >= 0 && v < len(h.dense) {
		return h.dense[v]
	}
	return h.sparse[v]
}

func (h *histogram) merge(o *histogram) {
	for v, n := range o.dense {
		if n != 0 {
			h.add(v, n)
		}
	}
	for v, n := range o.sparse {
		h.add(v, n)
	}
}

// expectedHistogram counts how often every value is produced by a fixed run.
func (cfg Config) expectedHistogram() *histogram {
	h := newHistogram(cfg)
	if len(cfg.Pattern) > 0 {
		for p := 0; p < cfg.NumProducers; p++ {
			for j := 0; j < cfg.MessagesPerProducer; j++ {
				h.add(cfg.value(p, j), 1)
			}
		}
		return h
	}
	for v := range h.dense {
		h.dense[v] = 1
	}
	return h
}

// produce pushes MessagesPerProducer values for producer p, spinning on full.
func produce[Q queue.Interface[int]](q Q, cfg Config, p int) (retries int64) {
	for j := 0; j < cfg.MessagesPerProducer; j++ {
		v := cfg.value(p, j)
		for !q.Enqueue(v) {
			retries++
			runtime.Gosched()
		}
	}
	return retries
}

// consumerState is owned by exactly one consumer goroutine until it is joined.
type consumerState struct {
	count  int64
	hist   *histogram
	last   []int
	orderE error
}

func newConsumerState(cfg Config) *consumerState {
	cs := &consumerState{hist: newHistogram(cfg)}
	if cfg.CheckOrder {
		cs.last = make([]int, cfg.NumProducers)
		for i := range cs.last {
			cs.last[i] = -1
		}
	}
	return cs
}

func (cs *consumerState) record(cfg Config, v int) {
	cs.count++
	cs.hist.add(v, 1)
	if cs.last != nil && cs.orderE == nil && cfg.MessagesPerProducer > 0 {
		p, seq := v/cfg.MessagesPerProducer, v%cfg.MessagesPerProducer
		if p >= 0 && p < len(cs.last) {
			if seq <= cs.last[p] {
				cs.orderE = fmt.Errorf("%w: producer %d value %d after %d", ErrOrderViolation, p, seq, cs.last[p])
			}
			cs.last[p] = seq
		}
	}
	if cfg.OnDequeue != nil {
		cfg.OnDequeue(v, cs.count)
	}
}

// RunFixed drives cfg.NumProducers*cfg.MessagesPerProducer values through q,
// joins every goroutine it started, and verifies what the consumers saw.
// The Result is valid even when a verification error is returned.
//
// Q is a type parameter so a concrete queue is never boxed in an interface
// on the measured path.
func RunFixed[Q queue.Interface[int]](q Q, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	if cfg.Mode == ModeSPSC {
		return runSPSC(q, cfg)
	}
	return runMPMC(q, cfg)
}

func runSPSC[Q queue.Interface[int]](q Q, cfg Config) (Result, error) {
	total := int64(cfg.MessagesPerProducer)
	var res Result
	var verifyErr error

	var wg sync.WaitGroup
	wg.Add(2)
	start := time.Now()

	go func() {
		defer wg.Done()
		res.EnqueueRetries = produce(q, cfg, 0)
	}()

	go func() {
		defer wg.Done()
		cs := newConsumerState(cfg)
		for i := int64(0); i < total; {
			v, ok := q.Dequeue()
			if !ok {
				runtime.Gosched()
				continue
			}
			if want := cfg.value(0, int(i)); v != want && verifyErr == nil {
				verifyErr = fmt.Errorf("%w: dequeue %d returned %d, expected %d", ErrOrderViolation, i, v, want)
			}
			cs.record(cfg, v)
			i++
		}
		res.Consumed = cs.count
	}()

	wg.Wait()
	res.Elapsed = time.Since(start)
	res.Produced = total
	return res, verifyErr
}

func runMPMC[Q queue.Interface[int]](q Q, cfg Config) (Result, error) {
	total := int64(cfg.NumProducers) * int64(cfg.MessagesPerProducer)
	consumers := cfg.NumConsumers
	if consumers < 1 {
		consumers = 1
	}

	var consumed atomic.Int64
	retries := make([]int64, cfg.NumProducers)
	states := make([]*consumerState, consumers)

	consume := func(c int) {
		cs := newConsumerState(cfg)
		for consumed.Load() < total {
			v, ok := q.Dequeue()
			if !ok {
				runtime.Gosched()
				continue
			}
			consumed.Add(1)
			cs.record(cfg, v)
		}
		states[c] = cs
	}

	var prodWg, consWg sync.WaitGroup
	start := time.Now()

	prodWg.Add(cfg.NumProducers)
	for p := 0; p < cfg.NumProducers; p++ {
		go func(p int) {
			defer prodWg.Done()
			retries[p] = produce(q, cfg, p)
		}(p)
	}

	if cfg.NumConsumers <= 1 {
		consume(0)
	} else {
		consWg.Add(consumers)
		for c := 0; c < consumers; c++ {
			go func(c int) {
				defer consWg.Done()
				consume(c)
			}(c)
		}
	}

	prodWg.Wait()
	consWg.Wait()
	res := Result{Elapsed: time.Since(start), Produced: total}

	for _, r := range retries {
		res.EnqueueRetries += r
	}
	got := newHistogram(cfg)
	var orderErr error
	for _, cs := range states {
		res.Consumed += cs.count
		got.merge(cs.hist)
		if orderErr == nil {
			orderErr = cs.orderE
		}
	}

	if err := compareHistograms(cfg.expectedHistogram(), got); err != nil {
		return res, err
	}
	return res, orderErr
}

func compareHistograms(want, got *histogram) error {
	for v, n := range want.dense {
		if g := got.get(v); g != n {
			return fmt.Errorf("%w: value %d received %d times, expected %d", ErrHistogramMismatch, v, g, n)
		}
	}
	for v, n := range want.sparse {
		if g := got.get(v); g != n {
			return fmt.Errorf("%w: value %d received %d times, expected %d", ErrHistogramMismatch, v, g, n)
		}
	}
	for v, n := range got.sparse {
		if n != 0 && want.get(v) == 0 {
			return fmt.Errorf("%w: unexpected value %d received %d times", ErrHistogramMismatch, v, n)
		}
	}
	return nil
}

// timedValue returns the i-th value handed out by a timed run.
func (cfg Config) timedValue(i int64) int {
	if len(cfg.Pattern) > 0 {
		return cfg.Pattern[i%int64(len(cfg.Pattern))]
	}
	return int(i)
}

// RunTimed spawns producers and consumers that run for the specified
// duration, measuring how many messages are actually enqueued/dequeued
// in that window. Once the duration expires producers stop at their next
// loop boundary and consumers drain until everything produced is consumed.
// Every goroutine is joined before the counters are read.
//
// In ModeSPSC the consumer checks every value against the generated
// sequence and a mismatch is returned as ErrOrderViolation.
func RunTimed[Q queue.Interface[int]](q Q, cfg Config, testDuration time.Duration) (Result, error) {
	if cfg.NumProducers < 1 {
		return Result{}, fmt.Errorf("%w: need at least one producer", ErrInvalidConfig)
	}
	if cfg.Mode == ModeSPSC && (cfg.NumProducers != 1 || cfg.NumConsumers > 1) {
		return Result{}, fmt.Errorf("%w: SPSC needs one producer and one consumer", ErrInvalidConfig)
	}
	consumers := cfg.NumConsumers
	if consumers < 1 {
		consumers = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), testDuration)
	defer cancel()

	var (
		productionDone atomic.Bool
		totalProduced  atomic.Int64
		totalConsumed  atomic.Int64
		totalRetries   atomic.Int64
		msgIndex       atomic.Int64
	)

	start := time.Now()

	var prodWg sync.WaitGroup
	prodWg.Add(cfg.NumProducers)
	for i := 0; i < cfg.NumProducers; i++ {
		go func() {
			defer prodWg.Done()
			var produced, retries int64
			for !productionDone.Load() {
				v := cfg.timedValue(msgIndex.Add(1) - 1)
				for !q.Enqueue(v) {
					retries++
					if productionDone.Load() {
						// Drop the value; it was never counted as produced.
						totalProduced.Add(produced)
						totalRetries.Add(retries)
						return
					}
					runtime.Gosched()
				}
				produced++
			}
			totalProduced.Add(produced)
			totalRetries.Add(retries)
		}()
	}

	// Consumers can only stop once producers are joined, otherwise the
	// final produced count is not known.
	var producersJoined atomic.Bool
	var verifyErr error // written only by the single SPSC consumer
	var consWg sync.WaitGroup
	consWg.Add(consumers)
	for i := 0; i < consumers; i++ {
		go func() {
			defer consWg.Done()
			var consumed int64
			for {
				if v, ok := q.Dequeue(); ok {
					if cfg.Mode == ModeSPSC && verifyErr == nil {
						if want := cfg.timedValue(consumed); v != want {
							verifyErr = fmt.Errorf("%w: dequeue %d returned %d, expected %d", ErrOrderViolation, consumed, v, want)
						}
					}
					consumed++
					if cfg.OnDequeue != nil {
						cfg.OnDequeue(v, consumed)
					}
					totalConsumed.Add(1)
					continue
				}
				if producersJoined.Load() && totalConsumed.Load() >= totalProduced.Load() {
					return
				}
				runtime.Gosched()
			}
		}()
	}

	<-ctx.Done()
	productionDone.Store(true)
	prodWg.Wait()
	producersJoined.Store(true)
	consWg.Wait()

	return Result{
		Produced:       totalProduced.Load(),
		Consumed:       totalConsumed.Load(),
		EnqueueRetries: totalRetries.Load(),
		Elapsed:        time.Since(start),
	}, verifyErr
}
