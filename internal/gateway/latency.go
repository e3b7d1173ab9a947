package gateway

import (
	"slices"
	"sync"
	"time"
)

// LatencyTracker keeps a sliding window of durations and reports
// percentiles over it. Safe for concurrent use.
type LatencyTracker struct {
	mu      sync.Mutex
	window  []time.Duration
	next    int
	samples int
}

// NewLatencyTracker returns a tracker over the last size observations.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 1024
	}
	return &LatencyTracker{window: make([]time.Duration, size)}
}

// Observe records one duration.
func (t *LatencyTracker) Observe(d time.Duration) {
	t.mu.Lock()
	t.window[t.next] = d
	t.next = (t.next + 1) % len(t.window)
	if t.samples < len(t.window) {
		t.samples++
	}
	t.mu.Unlock()
}

// Count returns the number of observations in the window.
func (t *LatencyTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samples
}

// Percentiles returns the nearest-rank p50, p95 and p99 of the window,
// or zeros when nothing was observed.
func (t *LatencyTracker) Percentiles() (p50, p95, p99 time.Duration) {
	t.mu.Lock()
	sorted := slices.Clone(t.window[:t.samples])
	t.mu.Unlock()
	if len(sorted) == 0 {
		return 0, 0, 0
	}
	slices.Sort(sorted)
	return rank(sorted, 50), rank(sorted, 95), rank(sorted, 99)
}

// rank returns the nearest-rank percentile p (0-100) of sorted.
func rank(sorted []time.Duration, p int) time.Duration {
	i := (p*len(sorted) + 99) / 100
	if i < 1 {
		i = 1
	}
	return sorted[i-1]
}
