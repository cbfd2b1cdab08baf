package policy

import "sort"

// meanAccumulator tracks running means between episodic summary
// flushes. It mirrors the streaming-mean metrics of the training graph:
// each Add feeds one observation, Means reduces, Reset starts the next
// episode empty.
type meanAccumulator struct {
	sums   map[string]float64
	counts map[string]float64
}

func newMeanAccumulator() *meanAccumulator {
	return &meanAccumulator{
		sums:   make(map[string]float64),
		counts: make(map[string]float64),
	}
}

// Add feeds one observation of the named metric.
func (m *meanAccumulator) Add(name string, value float64) {
	m.sums[name] += value
	m.counts[name]++
}

// Means returns the current running means, keyed by metric name.
func (m *meanAccumulator) Means() map[string]float64 {
	out := make(map[string]float64, len(m.sums))
	for name, sum := range m.sums {
		out[name] = sum / m.counts[name]
	}
	return out
}

// Names returns the tracked metric names in deterministic order.
func (m *meanAccumulator) Names() []string {
	names := make([]string, 0, len(m.sums))
	for name := range m.sums {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears the accumulators for the next episode.
func (m *meanAccumulator) Reset() {
	m.sums = make(map[string]float64)
	m.counts = make(map[string]float64)
}
