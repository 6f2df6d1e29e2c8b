package main

import (
	"fmt"
	"sort"
)

// BenchmarkResult is the subset of a bench result the graphs need.
type BenchmarkResult struct {
	Implementation      string  `json:"implementation"`
	Mode                string  `json:"mode"`
	NumProducers        int     `json:"num_producers"`
	NumConsumers        int     `json:"num_consumers"`
	NumMessagesConsumed int64   `json:"num_messages_consumed"`
	ActualElapsed       string  `json:"actual_elapsed"`
	Throughput          float64 `json:"throughput_msgs_sec"`
	Verified            bool    `json:"verified"`
	Error               string  `json:"error,omitempty"`
}

// SystemInfo holds system information.
type SystemInfo struct {
	NumCPU            int    `json:"num_cpu"`
	SimulatedCPUCount int    `json:"simulated_cpu_count,omitempty"`
	CPUModel          string `json:"cpu_model,omitempty"`
}

// FullReport represents a complete test session.
type FullReport struct {
	SessionTime string            `json:"session_time"`
	SystemInfo  SystemInfo        `json:"system_info"`
	Benchmarks  []BenchmarkResult `json:"benchmarks"`
}

// topology labels a producer/consumer configuration, e.g. "MPMC 4P/1C".
func (b BenchmarkResult) topology() string {
	return fmt.Sprintf("%s %dP/%dC", b.Mode, b.NumProducers, b.NumConsumers)
}

// throughputStats is "5%-avg-min", median and "5%-avg-max" of one sample set.
type throughputStats struct {
	min    float64
	median float64
	max    float64
}

// cpuGroup holds samples keyed by implementation, then topology.
type cpuGroup map[string]map[string][]float64

// groupSessions buckets every successful run by CPU count.
func groupSessions(sessions []FullReport) map[int]cpuGroup {
	out := make(map[int]cpuGroup)
	for _, session := range sessions {
		cpus := session.SystemInfo.SimulatedCPUCount
		if cpus == 0 {
			cpus = session.SystemInfo.NumCPU
		}
		group, ok := out[cpus]
		if !ok {
			group = make(cpuGroup)
			out[cpus] = group
		}
		for _, b := range session.Benchmarks {
			if b.Error != "" || b.Throughput <= 0 {
				continue
			}
			byTopo, ok := group[b.Implementation]
			if !ok {
				byTopo = make(map[string][]float64)
				group[b.Implementation] = byTopo
			}
			byTopo[b.topology()] = append(byTopo[b.topology()], b.Throughput)
		}
	}
	return out
}

// topologies returns every topology label in g, sorted.
func (g cpuGroup) topologies() []string {
	set := make(map[string]struct{})
	for _, byTopo := range g {
		for topo := range byTopo {
			set[topo] = struct{}{}
		}
	}
	labels := make([]string, 0, len(set))
	for topo := range set {
		labels = append(labels, topo)
	}
	sort.Strings(labels)
	return labels
}

// implementations returns the implementation names in g, sorted.
func (g cpuGroup) implementations() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildStats(vals []float64) throughputStats {
	if len(vals) == 0 {
		return throughputStats{}
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	return throughputStats{
		min:    averageOfRange(sorted, 0.0, 0.05),
		median: median(sorted),
		max:    averageOfRange(sorted, 0.95, 1.0),
	}
}

// averageOfRange averages sortedVals[startFrac*n : endFrac*n], falling back to
// the median when that slice is empty.
func averageOfRange(sortedVals []float64, startFrac, endFrac float64) float64 {
	n := len(sortedVals)
	if n == 0 {
		return 0
	}
	startIndex := max(int(float64(n)*startFrac), 0)
	endIndex := min(int(float64(n)*endFrac), n)
	if startIndex >= endIndex {
		return median(sortedVals)
	}
	sum := 0.0
	for _, v := range sortedVals[startIndex:endIndex] {
		sum += v
	}
	return sum / float64(endIndex-startIndex)
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return 0.5 * (sorted[mid-1] + sorted[mid])
}

// formatRate formats a msgs/sec value with a K/M/G suffix.
func formatRate(v float64) string {
	switch {
	case v < 1e3:
		return fmt.Sprintf("%.0f", v)
	case v < 1e6:
		return fmt.Sprintf("%.1fK", v/1e3)
	case v < 1e9:
		return fmt.Sprintf("%.1fM", v/1e6)
	default:
		return fmt.Sprintf("%.2fG", v/1e9)
	}
}
