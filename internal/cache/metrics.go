package cache

import "sync/atomic"

// Metrics is the global counter set. Every field is updated with
// sync/atomic, never under a map-structure lock, so readers see a
// consistent per-counter snapshot without requiring a globally-consistent
// vector.
type Metrics struct {
	Hits               int64
	Misses             int64
	Sets               int64
	Evictions          int64
	Cleanups           int64
	PreloadsSuccessful int64
	PreloadsWasted     int64
	PredictionsCorrect int64
	PredictionsTotal   int64
}

// Snapshot is an immutable copy of Metrics for callers.
type Snapshot struct {
	Hits               int64
	Misses             int64
	Sets               int64
	Evictions          int64
	Cleanups           int64
	PreloadsSuccessful int64
	PreloadsWasted     int64
	PredictionsCorrect int64
	PredictionsTotal   int64
}

func (m *Metrics) snapshot() Snapshot {
	return Snapshot{
		Hits:               atomic.LoadInt64(&m.Hits),
		Misses:             atomic.LoadInt64(&m.Misses),
		Sets:               atomic.LoadInt64(&m.Sets),
		Evictions:          atomic.LoadInt64(&m.Evictions),
		Cleanups:           atomic.LoadInt64(&m.Cleanups),
		PreloadsSuccessful: atomic.LoadInt64(&m.PreloadsSuccessful),
		PreloadsWasted:     atomic.LoadInt64(&m.PreloadsWasted),
		PredictionsCorrect: atomic.LoadInt64(&m.PredictionsCorrect),
		PredictionsTotal:   atomic.LoadInt64(&m.PredictionsTotal),
	}
}

// HitRate returns hits / (hits+misses), or 0 when there have been no lookups.
func (s Snapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// CategoryMetrics is the per-category counter set.
type CategoryMetrics struct {
	Hits     int64
	Misses   int64
	Sets     int64
	Size     int64
}

// CategoryMetricsSnapshot is an immutable copy for callers.
type CategoryMetricsSnapshot struct {
	Category string
	Hits     int64
	Misses   int64
	Sets     int64
	Size     int64
	AvgAge     float64 // seconds
	AvgAccesses float64
}
