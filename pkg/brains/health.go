package brains

import (
	"sort"
	"sync"
	"time"
)

const latencySampleWindow = 64

// LatencyTracker keeps a sliding window of operation latencies and the most
// recent error, which adapters fold into their Health reports.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	lastErr string
}

// NewLatencyTracker returns a tracker with a fixed sample window.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{samples: make([]time.Duration, latencySampleWindow)}
}

// Observe records one operation outcome.
func (t *LatencyTracker) Observe(d time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples[t.next] = d
	t.next = (t.next + 1) % len(t.samples)
	if t.next == 0 {
		t.full = true
	}
	if err != nil {
		t.lastErr = err.Error()
	} else {
		t.lastErr = ""
	}
}

// Snapshot returns the median latency over the window and the last error.
func (t *LatencyTracker) Snapshot() (time.Duration, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.next
	if t.full {
		n = len(t.samples)
	}
	if n == 0 {
		return 0, t.lastErr
	}
	sorted := make([]time.Duration, n)
	copy(sorted, t.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[n/2], t.lastErr
}

// HealthFrom builds the common health shape from a tracker and a backend
// probe error.
func HealthFrom(t *LatencyTracker, probeErr error) Health {
	p50, lastErr := t.Snapshot()
	h := Health{Status: "healthy", LatencyP50: p50, LastError: lastErr}
	switch {
	case probeErr != nil:
		h.Status = "unhealthy"
		h.LastError = probeErr.Error()
	case lastErr != "":
		h.Status = "degraded"
	}
	return h
}
