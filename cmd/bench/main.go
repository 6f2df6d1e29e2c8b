package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/i5heu/GoLockFreeQueues/internal/queue"
	"github.com/i5heu/GoLockFreeQueues/internal/testbench"
	"github.com/i5heu/GoLockFreeQueues/pkg/boundedmpmc"
	"github.com/i5heu/GoLockFreeQueues/pkg/buffered"
	"github.com/i5heu/GoLockFreeQueues/pkg/config"
	"github.com/i5heu/GoLockFreeQueues/pkg/lockedqueue"
	"github.com/i5heu/GoLockFreeQueues/pkg/lockfreequeue"
	"github.com/i5heu/GoLockFreeQueues/pkg/ringbuffer"
	"github.com/i5heu/GoLockFreeQueues/pkg/thirdparty"
	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// BenchmarkResult holds results for one test run.
type BenchmarkResult struct {
	Implementation      string  `json:"implementation"`
	Mode                string  `json:"mode"`
	NumProducers        int     `json:"num_producers"`
	NumConsumers        int     `json:"num_consumers"`
	NumMessages         int64   `json:"num_messages"`          // produced count
	NumMessagesConsumed int64   `json:"num_messages_consumed"` // consumed count
	EnqueueRetries      int64   `json:"enqueue_retries"`       // rejected enqueues on a full queue
	PushRetries         uint64  `json:"push_retries,omitempty"` // CAS retries, queues that report contention
	PopRetries          uint64  `json:"pop_retries,omitempty"`
	TestDuration        string  `json:"test_duration,omitempty"`
	ActualElapsed       string  `json:"actual_elapsed"`      // measured time
	Throughput          float64 `json:"throughput_msgs_sec"` // based on consumed count
	Verified            bool    `json:"verified"`
	Error               string  `json:"error,omitempty"`
	Iteration           int     `json:"iteration"`
	Timestamp           int64   `json:"timestamp"`
	GoVersion           string  `json:"go_version"`
}

// SystemInfo holds system information.
type SystemInfo struct {
	NumCPU            int     `json:"num_cpu"`
	TrueCPU           int     `json:"true_cpu,omitempty"`
	PhysicalCores     int     `json:"physical_cores,omitempty"`
	SimulatedCPUCount int     `json:"simulated_cpu_count,omitempty"`
	CPUModel          string  `json:"cpu_model,omitempty"`
	CPUSpeedMHz       float64 `json:"cpu_speed_mhz,omitempty"`
	GOARCH            string  `json:"go_arch"`
	TotalMemory       uint64  `json:"total_memory_bytes,omitempty"`
}

// FullReport represents a complete test session.
type FullReport struct {
	SessionTime string            `json:"session_time"`
	SystemInfo  SystemInfo        `json:"system_info"`
	Benchmarks  []BenchmarkResult `json:"benchmarks"`
}

// Implementation represents a queue implementation.
type Implementation struct {
	name        string
	description string
	pkgName     string
	features    []string
	newQueue    func(capacity uint64) (queue.Interface[int], error)
	run         func(cfg testbench.Config, capacity uint64, duration time.Duration) (runOutcome, error)
}

// contentionReporter is implemented by queues that count CAS retries.
type contentionReporter interface {
	Stats() lockfreequeue.Stats
}

type runOutcome struct {
	result testbench.Result
	stats  *lockfreequeue.Stats
}

// newImpl builds an Implementation whose run drives the concrete queue type,
// so the harness never calls through an interface.
func newImpl[Q queue.Interface[int]](name, pkgName, description string, features []string, newQ func(capacity uint64) (Q, error)) Implementation {
	return Implementation{
		name:        name,
		pkgName:     pkgName,
		description: description,
		features:    features,
		newQueue: func(capacity uint64) (queue.Interface[int], error) {
			q, err := newQ(capacity)
			if err != nil {
				return nil, err
			}
			return q, nil
		},
		run: func(cfg testbench.Config, capacity uint64, duration time.Duration) (runOutcome, error) {
			q, err := newQ(capacity)
			if err != nil {
				return runOutcome{}, err
			}
			var out runOutcome
			if duration > 0 {
				out.result, err = testbench.RunTimed(q, cfg, duration)
			} else {
				out.result, err = testbench.RunFixed(q, cfg)
			}
			if cr, ok := any(q).(contentionReporter); ok {
				st := cr.Stats()
				out.stats = &st
			}
			return out, err
		},
	}
}

func (impl Implementation) hasFeature(feature string) bool {
	return slices.Contains(impl.features, feature)
}

// supports reports whether impl may be driven by cfg without breaking its
// producer/consumer contract.
func (impl Implementation) supports(cfg testbench.Config) bool {
	multiProducer := cfg.NumProducers > 1
	multiConsumer := cfg.NumConsumers > 1
	switch {
	case cfg.Mode == testbench.ModeSPSC:
		// SPSC runs verify strict order.
		return impl.hasFeature("FIFO")
	case multiConsumer:
		return impl.hasFeature("MPMC")
	case multiProducer:
		return impl.hasFeature("MPMC") || impl.hasFeature("MPSC")
	default:
		return true
	}
}

// outputMarkdownTable loads the JSON file and outputs a Markdown table.
func outputMarkdownTable(jsonFile string) error {
	data, err := os.ReadFile(jsonFile)
	if err != nil {
		return fmt.Errorf("reading JSON file %q: %w", jsonFile, err)
	}
	var sessions []FullReport
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("unmarshalling JSON: %w", err)
	}
	if len(sessions) == 0 {
		return fmt.Errorf("no sessions found in %s", jsonFile)
	}
	// Use the last session for the table.
	lastSession := sessions[len(sessions)-1]
	implMetaMap := make(map[string]Implementation)
	for _, impl := range getImplementations() {
		implMetaMap[impl.name] = impl
	}

	type tableRow struct {
		implementation string
		pkgName        string
		features       string
		config         string
		throughput     float64
		verified       bool
	}
	var rows []tableRow
	for _, bench := range lastSession.Benchmarks {
		meta := implMetaMap[bench.Implementation]
		rows = append(rows, tableRow{
			implementation: bench.Implementation,
			pkgName:        meta.pkgName,
			features:       strings.Join(meta.features, ", "),
			config:         fmt.Sprintf("%s %dP/%dC", bench.Mode, bench.NumProducers, bench.NumConsumers),
			throughput:     bench.Throughput,
			verified:       bench.Verified,
		})
	}
	// Sort rows by throughput descending.
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].throughput > rows[j].throughput
	})
	fmt.Println("## Last Session Benchmark Summary")
	fmt.Println()
	fmt.Printf("CPU: %s (%d logical, GOMAXPROCS=%d)\n\n",
		lastSession.SystemInfo.CPUModel, lastSession.SystemInfo.TrueCPU, lastSession.SystemInfo.NumCPU)
	fmt.Println("| Implementation           | Package         | Features                         | Config          | Verified | Throughput (msgs/sec) |")
	fmt.Println("|--------------------------|-----------------|----------------------------------|-----------------|----------|-----------------------|")
	for _, r := range rows {
		fmt.Printf("| %-24s | %-15s | %-32s | %-15s | %-8t | %21.0f |\n",
			r.implementation, r.pkgName, r.features, r.config, r.verified, r.throughput)
	}
	return nil
}

// parseIntList parses a comma separated list of positive integers.
func parseIntList(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", part, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("value %d must be positive", n)
		}
		out = append(out, n)
	}
	return out, nil
}

// benchConfigs builds the SPSC run plus one MPMC run per producer count.
func benchConfigs(producers []int, consumers, messages int, pattern []int) []testbench.Config {
	spsc := config.SPSC(messages)
	spsc.Pattern = pattern
	configs := []testbench.Config{spsc}
	for _, p := range producers {
		cfg := config.MPMC(p, consumers, messages)
		cfg.Pattern = pattern
		cfg.CheckOrder = len(pattern) == 0
		configs = append(configs, cfg)
	}
	return configs
}

func main() {
	// Flags.
	testIterations := flag.Int("iter", 5, "Number of test iterations per concurrency setting")
	cpuMaxFlag := flag.Int("cpu", 0, "If non-zero, test only that GOMAXPROCS value; if 0, use runtime.NumCPU()")
	messages := flag.Int("messages", 1_000_000, "Messages pushed by each producer in a fixed-count run")
	producersFlag := flag.String("producers", "1,2,4,8", "Comma separated producer counts for MPMC runs")
	consumers := flag.Int("consumers", 1, "Consumer goroutines for MPMC runs (1 = the benchmark goroutine polls)")
	capacity := flag.Uint64("capacity", 1<<16, "Capacity of bounded queues")
	duration := flag.Duration("duration", 0, "If non-zero, run each test for this long instead of a fixed message count")
	implFilter := flag.String("impl", "", "Only run implementations whose package name contains this string")
	patterned := flag.Bool("pattern", false, "Push the repeating pattern 0,2,2,2,4,5,5,7,8,9 instead of unique values")
	jsonExport := flag.Bool("json", false, "Export results as JSON to -jsonfile")
	markdownTable := flag.Bool("markdown-table", false, "Output markdown table from -jsonfile and exit")
	jsonFile := flag.String("jsonfile", "test-results.json", "Path to JSON results file")
	progressFlag := flag.Bool("progress", false, "Display a progress bar with ETA")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *markdownTable {
		if err := outputMarkdownTable(*jsonFile); err != nil {
			logger.Error("markdown table failed", "error", err)
			os.Exit(1)
		}
		return
	}

	producers, err := parseIntList(*producersFlag)
	if err != nil {
		logger.Error("invalid -producers", "error", err)
		os.Exit(1)
	}
	var pattern []int
	if *patterned {
		pattern = testbench.DefaultPattern
	}

	trueCpuCount := runtime.NumCPU()
	cpus := trueCpuCount
	if *cpuMaxFlag > 0 && *cpuMaxFlag < trueCpuCount {
		cpus = *cpuMaxFlag
	}
	runtime.GOMAXPROCS(cpus)

	sysInfo := gatherSystemInfo()
	sysInfo.NumCPU = cpus
	sysInfo.TrueCPU = trueCpuCount
	sysInfo.SimulatedCPUCount = cpus

	impls := filterImplementations(getImplementations(), *implFilter)
	if len(impls) == 0 {
		logger.Error("no implementation matches -impl", "impl", *implFilter)
		os.Exit(1)
	}
	configs := benchConfigs(producers, *consumers, *messages, pattern)

	totalTests := 0
	for _, cfg := range configs {
		for _, impl := range impls {
			if impl.supports(cfg) {
				totalTests += *testIterations
			}
		}
	}

	var bar *progressbar.ProgressBar
	if *progressFlag {
		bar = progressbar.NewOptions(totalTests,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("benchmarking"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionClearOnFinish(),
		)
	}

	fmt.Printf("CPU Model: %s\n", sysInfo.CPUModel)
	fmt.Printf("=============================\n")
	fmt.Printf("GOMAXPROCS = %d\n", cpus)
	fmt.Printf("=============================\n")

	var results []BenchmarkResult
	failed := false

	for _, cfg := range configs {
		fmt.Printf("  [%s: producers=%d, consumers=%d]\n", cfg.Mode, cfg.NumProducers, cfg.NumConsumers)
		for iteration := 1; iteration <= *testIterations; iteration++ {
			fmt.Printf("    iteration %d/%d\n", iteration, *testIterations)
			for _, impl := range impls {
				if !impl.supports(cfg) {
					logger.Debug("skipping unsupported topology", "impl", impl.name, "producers", cfg.NumProducers, "consumers", cfg.NumConsumers)
					continue
				}
				result, err := runOne(impl, cfg, *capacity, *duration)
				if err != nil {
					failed = true
					logger.Error("benchmark failed", "impl", impl.name, "mode", cfg.Mode, "error", err)
				}
				result.Iteration = iteration
				results = append(results, result)

				fmt.Printf("    %s => produced=%d, consumed=%d, throughput=%.0f msg/s, took=%s\n",
					impl.name, result.NumMessages, result.NumMessagesConsumed, result.Throughput, result.ActualElapsed)
				if result.PushRetries+result.PopRetries > 0 {
					logger.Debug("contention", "impl", impl.name, "push_retries", result.PushRetries, "pop_retries", result.PopRetries)
				}
				if bar != nil {
					_ = bar.Add(1)
				}
			}
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if *jsonExport {
		report := FullReport{
			SessionTime: time.Now().Format(time.RFC3339),
			SystemInfo:  sysInfo,
			Benchmarks:  results,
		}
		if err := appendReport(*jsonFile, report); err != nil {
			logger.Error("writing JSON report failed", "file", *jsonFile, "error", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote results to %s\n", *jsonFile)
	}

	if failed {
		os.Exit(1)
	}
}

// runOne creates a fresh queue for impl and drives cfg through it.
func runOne(impl Implementation, cfg testbench.Config, capacity uint64, duration time.Duration) (BenchmarkResult, error) {
	result := BenchmarkResult{
		Implementation: impl.name,
		Mode:           cfg.Mode.String(),
		NumProducers:   cfg.NumProducers,
		NumConsumers:   cfg.NumConsumers,
		Timestamp:      time.Now().Unix(),
		GoVersion:      runtime.Version(),
	}

	// Sharded queues only keep order per shard.
	cfg.CheckOrder = cfg.CheckOrder && impl.hasFeature("FIFO")

	if duration > 0 {
		result.TestDuration = duration.String()
	}

	runtime.GC()
	out, err := impl.run(cfg, capacity, duration)
	res := out.result
	if out.stats != nil {
		result.PushRetries = out.stats.PushRetries
		result.PopRetries = out.stats.PopRetries
	}

	result.NumMessages = res.Produced
	result.NumMessagesConsumed = res.Consumed
	result.EnqueueRetries = res.EnqueueRetries
	result.ActualElapsed = res.Elapsed.String()
	result.Throughput = res.Throughput()
	// Timed MPMC runs have no pre-agreed total to build a histogram from.
	result.Verified = err == nil && (duration == 0 || cfg.Mode == testbench.ModeSPSC)
	if err != nil {
		result.Error = err.Error()
	}
	return result, err
}

// appendReport appends report to the JSON array stored in filename.
func appendReport(filename string, report FullReport) error {
	var previous []FullReport
	if data, err := os.ReadFile(filename); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &previous); err != nil {
			return fmt.Errorf("existing %s is not a report list: %w", filename, err)
		}
	}
	data, err := json.MarshalIndent(append(previous, report), "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling JSON: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}

// gatherSystemInfo collects basic CPU and memory details.
func gatherSystemInfo() SystemInfo {
	info := SystemInfo{
		NumCPU: runtime.NumCPU(),
		GOARCH: runtime.GOARCH,
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		info.CPUModel = infos[0].ModelName
		info.CPUSpeedMHz = infos[0].Mhz
	}
	if n, err := cpu.Counts(false); err == nil {
		info.PhysicalCores = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = vm.Total
	}
	return info
}

func filterImplementations(impls []Implementation, filter string) []Implementation {
	if filter == "" {
		return impls
	}
	var out []Implementation
	for _, impl := range impls {
		if strings.Contains(impl.pkgName, filter) {
			out = append(out, impl)
		}
	}
	return out
}

// shardCount rounds procs up to a power of two, then halves it until every
// shard gets at least one slot of capacity.
func shardCount(procs int, capacity uint64) uint64 {
	n := uint64(1)
	if procs > 1 {
		n = 1 << bits.Len64(uint64(procs)-1)
	}
	for n > 1 && n > capacity {
		n >>= 1
	}
	return n
}

// getImplementations enumerates the queue implementations under test.
func getImplementations() []Implementation {
	return []Implementation{
		newImpl("RingBufferSPSC", "ringbuffer",
			"Bounded wait-free single-producer/single-consumer ring buffer with one spare slot.",
			[]string{"SPSC", "FIFO", "Bounded", "Wait-Free"},
			func(capacity uint64) (*ringbuffer.RingBuffer[int], error) {
				return ringbuffer.New[int](capacity), nil
			}),
		newImpl("LockFreeQueue", "lockfreequeue",
			"Unbounded Michael & Scott linked queue, reclamation by the garbage collector.",
			[]string{"MPMC", "FIFO", "Lock-Free"},
			func(uint64) (*lockfreequeue.Queue[int], error) {
				return lockfreequeue.New[int](), nil
			}),
		newImpl("BoundedMPMC", "boundedmpmc",
			"Bounded ring with per-slot sequence numbers, capacity rounded to a power of two.",
			[]string{"MPMC", "FIFO", "Bounded", "Lock-Free"},
			func(capacity uint64) (*boundedmpmc.Queue[int], error) {
				return boundedmpmc.New[int](capacity), nil
			}),
		newImpl("LockedQueue", "lockedqueue",
			"Mutex around a growable ring FIFO; the baseline.",
			[]string{"MPMC", "FIFO", "Locked"},
			func(uint64) (*lockedqueue.Queue[int], error) {
				return lockedqueue.New[int](), nil
			}),
		newImpl("Golang Buffered Channel", "buffered",
			"Buffered channel driven with non-blocking select.",
			[]string{"MPMC", "FIFO", "Bounded"},
			func(capacity uint64) (*buffered.BufferedQueue[int], error) {
				return buffered.New[int](capacity), nil
			}),
		newImpl("bsv LockFreeQ", "thirdparty",
			"github.com/bsv-blockchain/go-lockfree-queue, swap-based linked MPSC queue.",
			[]string{"MPSC", "FIFO", "Lock-Free"},
			func(uint64) (*thirdparty.LinkedMPSC[int], error) {
				return thirdparty.NewLinkedMPSC[int](), nil
			}),
		newImpl("go-lock-free-ring ShardedRing", "thirdparty",
			"github.com/randomizedcoder/go-lock-free-ring, sharded bounded MPSC ring.",
			[]string{"MPSC", "Bounded", "Sharded"},
			func(capacity uint64) (*thirdparty.ShardedRing[int], error) {
				return thirdparty.NewShardedRing[int](capacity, shardCount(runtime.GOMAXPROCS(0), capacity))
			}),
	}
}
