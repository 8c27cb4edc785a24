package cache

import "time"

// GetMetrics returns a snapshot of the global counter set.
func (c *Cache) GetMetrics() Snapshot {
	return c.global.snapshot()
}

// CacheInfo is the aggregate view returned by GetCacheInfo.
type CacheInfo struct {
	EntryCount int
	OldestKey  string
	NewestKey  string
	Categories []CategoryMetricsSnapshot
}

// GetCacheInfo snapshots current entry count, per-category size and
// average age/accesses, and identifies the oldest/newest entry by
// creation timestamp.
func (c *Cache) GetCacheInfo() CacheInfo {
	now := c.now()

	c.mu.RLock()
	entryCount := len(c.entries)

	var oldestKey, newestKey string
	var oldestTime, newestTime time.Time
	sums := make(map[string]struct {
		ageTotal     time.Duration
		accessTotal  int64
		count        int64
	})

	for key, e := range c.entries {
		if oldestTime.IsZero() || e.CreatedAt.Before(oldestTime) {
			oldestTime = e.CreatedAt
			oldestKey = key
		}
		if newestTime.IsZero() || e.CreatedAt.After(newestTime) {
			newestTime = e.CreatedAt
			newestKey = key
		}
		s := sums[e.Category]
		s.ageTotal += e.Age(now)
		s.accessTotal += e.AccessCount
		s.count++
		sums[e.Category] = s
	}
	c.mu.RUnlock()

	c.catMu.RLock()
	defer c.catMu.RUnlock()

	snapshots := make([]CategoryMetricsSnapshot, 0, len(c.cats))
	for category, m := range c.cats {
		snap := CategoryMetricsSnapshot{
			Category: category,
			Hits:     loadInt64(&m.Hits),
			Misses:   loadInt64(&m.Misses),
			Sets:     loadInt64(&m.Sets),
			Size:     loadInt64(&m.Size),
		}
		if s, ok := sums[category]; ok && s.count > 0 {
			snap.AvgAge = s.ageTotal.Seconds() / float64(s.count)
			snap.AvgAccesses = float64(s.accessTotal) / float64(s.count)
		}
		snapshots = append(snapshots, snap)
	}

	return CacheInfo{
		EntryCount: entryCount,
		OldestKey:  oldestKey,
		NewestKey:  newestKey,
		Categories: snapshots,
	}
}
