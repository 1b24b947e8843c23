package graph

import (
	"sync"
	"testing"
	"time"
)

func TestTrackerHitRate(t *testing.T) {
	tr := NewPerformanceTracker()

	stats := tr.Snapshot()
	if stats.HitRate != 0 {
		t.Errorf("empty tracker HitRate = %v, want 0", stats.HitRate)
	}

	for i := 0; i < 3; i++ {
		tr.CacheHit()
	}
	tr.CacheMiss()

	stats = tr.Snapshot()
	if stats.CacheHits != 3 || stats.CacheMisses != 1 {
		t.Errorf("hits/misses = %d/%d", stats.CacheHits, stats.CacheMisses)
	}
	if stats.HitRate != 0.75 {
		t.Errorf("HitRate = %v, want 0.75", stats.HitRate)
	}
}

func TestTrackerLatencyAggregates(t *testing.T) {
	tr := NewPerformanceTracker()
	tr.ObserveQuery(10 * time.Millisecond)
	tr.ObserveQuery(20 * time.Millisecond)
	tr.ObserveQuery(60 * time.Millisecond)

	stats := tr.Snapshot()
	if stats.QueryCount != 3 {
		t.Errorf("QueryCount = %d, want 3", stats.QueryCount)
	}
	if stats.AvgLatency != 30*time.Millisecond {
		t.Errorf("AvgLatency = %v, want 30ms", stats.AvgLatency)
	}
	if stats.MaxLatency != 60*time.Millisecond {
		t.Errorf("MaxLatency = %v, want 60ms", stats.MaxLatency)
	}
	if stats.WindowFilled {
		t.Error("window should not be filled after 3 observations")
	}
}

func TestTrackerWindowRolls(t *testing.T) {
	tr := NewPerformanceTracker()
	for i := 0; i < latencyWindowSize; i++ {
		tr.ObserveQuery(time.Millisecond)
	}
	// The next observation overwrites the oldest slot.
	tr.ObserveQuery(time.Second)

	stats := tr.Snapshot()
	if stats.QueryCount != latencyWindowSize {
		t.Errorf("QueryCount = %d, want %d", stats.QueryCount, latencyWindowSize)
	}
	if !stats.WindowFilled {
		t.Error("window should report filled")
	}
	if stats.MaxLatency != time.Second {
		t.Errorf("MaxLatency = %v, want 1s", stats.MaxLatency)
	}
}

func TestTrackerConcurrentUse(t *testing.T) {
	tr := NewPerformanceTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.CacheHit()
				tr.CacheMiss()
				tr.ObserveQuery(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	stats := tr.Snapshot()
	if stats.CacheHits != 800 || stats.CacheMisses != 800 {
		t.Errorf("hits/misses = %d/%d, want 800/800", stats.CacheHits, stats.CacheMisses)
	}
	if stats.QueryCount != 800 {
		t.Errorf("QueryCount = %d, want 800", stats.QueryCount)
	}
}
