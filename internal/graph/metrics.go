package graph

import (
	"sync"
	"time"
)

const latencyWindowSize = 1000

// PerformanceTracker keeps rolling cache hit/miss counters and a bounded
// window of query latencies. It is a pure counter: aggregation on demand,
// no alerting.
type PerformanceTracker struct {
	mu        sync.Mutex
	hits      uint64
	misses    uint64
	latencies []time.Duration
	next      int
	filled    bool
}

// NewPerformanceTracker creates an empty tracker.
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{
		latencies: make([]time.Duration, 0, latencyWindowSize),
	}
}

// CacheHit records a cache hit.
func (t *PerformanceTracker) CacheHit() {
	t.mu.Lock()
	t.hits++
	t.mu.Unlock()
}

// CacheMiss records a cache miss.
func (t *PerformanceTracker) CacheMiss() {
	t.mu.Lock()
	t.misses++
	t.mu.Unlock()
}

// ObserveQuery records one query latency in the rolling window.
func (t *PerformanceTracker) ObserveQuery(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.latencies) < latencyWindowSize {
		t.latencies = append(t.latencies, d)
		return
	}
	t.latencies[t.next] = d
	t.next = (t.next + 1) % latencyWindowSize
	t.filled = true
}

// PerformanceStats is a point-in-time aggregate of the tracker.
type PerformanceStats struct {
	CacheHits    uint64        `json:"cache_hits"`
	CacheMisses  uint64        `json:"cache_misses"`
	HitRate      float64       `json:"hit_rate"`
	QueryCount   int           `json:"query_count"`
	AvgLatency   time.Duration `json:"avg_latency"`
	MaxLatency   time.Duration `json:"max_latency"`
	WindowFilled bool          `json:"window_filled"`
}

// Snapshot computes the current aggregates.
func (t *PerformanceTracker) Snapshot() PerformanceStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := PerformanceStats{
		CacheHits:    t.hits,
		CacheMisses:  t.misses,
		QueryCount:   len(t.latencies),
		WindowFilled: t.filled,
	}
	if total := t.hits + t.misses; total > 0 {
		stats.HitRate = float64(t.hits) / float64(total)
	}

	var sum time.Duration
	for _, d := range t.latencies {
		sum += d
		if d > stats.MaxLatency {
			stats.MaxLatency = d
		}
	}
	if len(t.latencies) > 0 {
		stats.AvgLatency = sum / time.Duration(len(t.latencies))
	}
	return stats
}
