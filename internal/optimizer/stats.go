package optimizer

import (
	"sync"
	"time"
)

type providerStats struct {
	requests  int64
	failures  int64
	latencyMs float64
}

// StatsTracker accumulates per-provider outcome counters. The dispatcher
// records every attempt; rule conditions read the derived rates.
type StatsTracker struct {
	mu    sync.RWMutex
	stats map[string]*providerStats
}

// NewStatsTracker creates an empty tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{stats: make(map[string]*providerStats)}
}

// Record notes one provider attempt and its outcome.
func (t *StatsTracker) Record(provider string, latency time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats[provider]
	if s == nil {
		s = &providerStats{}
		t.stats[provider] = s
	}
	s.requests++
	if failed {
		s.failures++
	}
	s.latencyMs += float64(latency.Milliseconds())
}

// ErrorRate returns failures/requests for a provider, 0 with no data.
func (t *StatsTracker) ErrorRate(provider string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.stats[provider]
	if s == nil || s.requests == 0 {
		return 0
	}
	return float64(s.failures) / float64(s.requests)
}

// AvgLatencyMs returns the mean observed latency for a provider, 0 with no
// data.
func (t *StatsTracker) AvgLatencyMs(provider string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.stats[provider]
	if s == nil || s.requests == 0 {
		return 0
	}
	return s.latencyMs / float64(s.requests)
}

// snapshot copies the derived rates for the given providers so one ranking
// pass sees a consistent view.
func (t *StatsTracker) snapshot(providers []string) (errorRate, avgLatency map[string]float64) {
	errorRate = make(map[string]float64, len(providers))
	avgLatency = make(map[string]float64, len(providers))
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range providers {
		s := t.stats[p]
		if s == nil || s.requests == 0 {
			continue
		}
		errorRate[p] = float64(s.failures) / float64(s.requests)
		avgLatency[p] = s.latencyMs / float64(s.requests)
	}
	return errorRate, avgLatency
}
