package engine

import (
	"time"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// DefaultLatencyWindow is the number of recent resolution latencies averaged.
const DefaultLatencyWindow = 1024

// Metrics collects monotonic counters and a rolling latency window for one
// engine. Like the engine it is not safe for concurrent use.
type Metrics struct {
	resolutions uint64
	cacheHits   uint64
	cacheMisses uint64
	traversals  uint64
	slowBatches uint64

	window []time.Duration
	next   int
	filled int
	sum    time.Duration
}

// NewMetrics creates a collector averaging over the last window samples.
func NewMetrics(window int) *Metrics {
	if window < 1 {
		window = DefaultLatencyWindow
	}
	return &Metrics{window: make([]time.Duration, window)}
}

func (m *Metrics) incResolutions() { m.resolutions++ }
func (m *Metrics) incHits()        { m.cacheHits++ }
func (m *Metrics) incMisses()      { m.cacheMisses++ }
func (m *Metrics) incTraversals()  { m.traversals++ }
func (m *Metrics) incSlowBatches() { m.slowBatches++ }

// observeLatency adds one per-call sample, overwriting the oldest once the
// window is full.
func (m *Metrics) observeLatency(d time.Duration) {
	if m.filled < len(m.window) {
		m.window[m.next] = d
		m.filled++
	} else {
		m.sum -= m.window[m.next]
		m.window[m.next] = d
	}
	m.sum += d
	m.next = (m.next + 1) % len(m.window)
}

// Average returns the mean latency over the current window.
func (m *Metrics) Average() time.Duration {
	if m.filled == 0 {
		return 0
	}
	return m.sum / time.Duration(m.filled)
}

// Snapshot returns the current values.
func (m *Metrics) Snapshot() domain.MetricsSnapshot {
	denom := m.resolutions
	if denom == 0 {
		denom = 1
	}
	return domain.MetricsSnapshot{
		Resolutions:          m.resolutions,
		CacheHits:            m.cacheHits,
		CacheMisses:          m.cacheMisses,
		Traversals:           m.traversals,
		SlowBatches:          m.slowBatches,
		AvgResolutionLatency: m.Average(),
		CacheHitRatio:        float64(m.cacheHits) / float64(denom),
	}
}

// Reset zeroes every counter and clears the latency window.
func (m *Metrics) Reset() {
	m.resolutions, m.cacheHits, m.cacheMisses, m.traversals, m.slowBatches = 0, 0, 0, 0, 0
	clear(m.window)
	m.next, m.filled, m.sum = 0, 0, 0
}
