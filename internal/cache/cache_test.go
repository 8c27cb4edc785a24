package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryIsExpiredIsStrictGreaterThan(t *testing.T) {
	now := time.Now()
	e := NewEntry("v", CategoryTemporary, 10*time.Second, now)

	assert.False(t, e.IsExpired(now.Add(10*time.Second)), "exact TTL boundary must not be expired")
	assert.True(t, e.IsExpired(now.Add(10*time.Second+time.Nanosecond)))
}

func TestEntryTTLZeroExpiresImmediately(t *testing.T) {
	now := time.Now()
	e := NewEntry("v", CategoryTemporary, 0, now)

	assert.True(t, e.IsExpired(now.Add(time.Nanosecond)))
	assert.False(t, e.IsExpired(now))
}

func TestEntryAccessRingCapsAtTwenty(t *testing.T) {
	now := time.Now()
	e := NewEntry("v", CategoryGuildData, time.Hour, now)

	for i := 0; i < 30; i++ {
		e.RecordAccess(now.Add(time.Duration(i) * time.Second))
	}

	assert.Len(t, e.AccessTimes, accessRingCapacity)
}

func TestEntryPredictionNilUntilThreeSamples(t *testing.T) {
	now := time.Now()
	e := NewEntry("v", CategoryGuildData, time.Hour, now)
	assert.Nil(t, e.PredictedNextAccess)

	e.RecordAccess(now.Add(1 * time.Second))
	assert.Nil(t, e.PredictedNextAccess, "two samples is not enough to predict")

	e.RecordAccess(now.Add(2 * time.Second))
	assert.NotNil(t, e.PredictedNextAccess, "three samples should produce a prediction")
}

func TestEntryIsHotCrossesAtAccessCountSix(t *testing.T) {
	now := time.Now()
	e := NewEntry("v", CategoryGuildData, time.Hour, now)

	for i := 0; i < 4; i++ {
		e.RecordAccess(now.Add(time.Duration(i+1) * time.Second))
		assert.False(t, e.IsHot, "access_count=%d must not be hot yet", e.AccessCount)
	}
	e.RecordAccess(now.Add(5 * time.Second)) // access_count now 6
	assert.True(t, e.IsHot)
}

func TestCacheGetMissOnAbsentKey(t *testing.T) {
	c := New()
	v, ok := c.Get(CategoryGuildData, int64(1), "settings")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestCacheSetThenGetRoundTrips(t *testing.T) {
	c := New()
	c.Set(CategoryGuildData, "payload", 0, int64(1), "settings")

	v, ok := c.Get(CategoryGuildData, int64(1), "settings")
	require.True(t, ok)
	assert.Equal(t, "payload", v)
}

func TestCacheGetExpiredEntryIsMissAndEvicted(t *testing.T) {
	current := time.Now()
	c := New(WithClock(func() time.Time { return current }))

	c.Set(CategoryTemporary, "payload", time.Second, "k")
	current = current.Add(2 * time.Second)

	v, ok := c.Get(CategoryTemporary, "k")
	assert.False(t, ok)
	assert.Nil(t, v)

	info := c.GetCacheInfo()
	assert.Equal(t, 0, info.EntryCount)
}

func TestCacheDeleteReportsExistence(t *testing.T) {
	c := New()
	assert.False(t, c.Delete(CategoryGuildData, int64(1), "settings"))

	c.Set(CategoryGuildData, "v", 0, int64(1), "settings")
	assert.True(t, c.Delete(CategoryGuildData, int64(1), "settings"))
	assert.False(t, c.Delete(CategoryGuildData, int64(1), "settings"), "second delete is a no-op")
}

func TestCacheInvalidateCategoryIsIdempotent(t *testing.T) {
	c := New()
	c.Set(CategoryStaticData, "a", 0, "weapons", int64(0))
	c.Set(CategoryStaticData, "b", 0, "games", int64(0))

	assert.Equal(t, 2, c.InvalidateCategory(CategoryStaticData))
	assert.Equal(t, 0, c.InvalidateCategory(CategoryStaticData), "nothing left to invalidate")
}

func TestCacheInvalidateRelatedCascadesRosterToEvents(t *testing.T) {
	c := New()
	c.Set(CategoryRosterData, "members", 0, int64(1), "members")
	c.Set(CategoryEventsData, "events", 0, int64(1), "all")

	removed := c.InvalidateRelated(CategoryRosterData)
	assert.Equal(t, 1, removed)

	_, ok := c.Get(CategoryEventsData, int64(1), "all")
	assert.False(t, ok)
}

func TestCacheSetGuildMembersCascadesInvalidation(t *testing.T) {
	c := New()
	c.Set(CategoryEventsData, "events", 0, int64(1), "all")

	c.SetGuildMembers(1, map[string]any{"count": 3})

	_, eventsStillCached := c.GetEventData(1, "all")
	assert.False(t, eventsStillCached)

	members, ok := c.GetGuildMembers(1)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"count": 3}, members)
}

func TestCacheWrappersRoundTrip(t *testing.T) {
	c := New()

	c.SetGuildData(1, "settings", "guild-payload")
	v, ok := c.GetGuildData(1, "settings")
	require.True(t, ok)
	assert.Equal(t, "guild-payload", v)
	assert.True(t, c.DeleteGuildData(1, "settings"))

	c.SetUserData(1, 42, "profile", "user-payload")
	v, ok = c.GetUserData(1, 42, "profile")
	require.True(t, ok)
	assert.Equal(t, "user-payload", v)

	c.SetEventData(1, "raid", "event-payload")
	v, ok = c.GetEventData(1, "")
	assert.False(t, ok, "empty event type defaults to 'all', a different key")
	v, ok = c.GetEventData(1, "raid")
	require.True(t, ok)
	assert.Equal(t, "event-payload", v)

	c.SetStaticData("weapons", "static-payload", 0)
	v, ok = c.GetStaticData("weapons", 0)
	require.True(t, ok)
	assert.Equal(t, "static-payload", v)
}

func TestCacheCleanupExpiredRemovesOnlyExpiredAndIsIdempotent(t *testing.T) {
	current := time.Now()
	c := New(WithClock(func() time.Time { return current }))

	c.Set(CategoryTemporary, "expiring", time.Second, "a")
	c.Set(CategoryGuildData, "fresh", time.Hour, "b")

	current = current.Add(2 * time.Second)

	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 0, c.CleanupExpired(), "second sweep finds nothing new")

	_, stillFresh := c.Get(CategoryGuildData, "b")
	assert.True(t, stillFresh)
}

func TestCacheConcurrentSetsOnSameKeyKeepExactlyOneEntry(t *testing.T) {
	c := New()

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		i := i
		go func() {
			defer wg.Done()
			c.Set(CategoryGuildData, i, 0, int64(1), "counter")
			c.Get(CategoryGuildData, int64(1), "counter")
		}()
	}
	wg.Wait()

	_, ok := c.Get(CategoryGuildData, int64(1), "counter")
	require.True(t, ok)

	info := c.GetCacheInfo()
	assert.Equal(t, 1, info.EntryCount)
	for _, cat := range info.Categories {
		if cat.Category == CategoryGuildData {
			assert.Equal(t, int64(1), cat.Size, "category size must equal the number of live entries")
		}
	}
}

type stubRefresher struct {
	calls int32
}

func (s *stubRefresher) RefreshKey(ctx context.Context, key string) (bool, error) {
	atomic.AddInt32(&s.calls, 1)
	return true, nil
}

func TestCacheSmartMaintenanceCapsHotSetAtFifty(t *testing.T) {
	now := time.Now()
	c := New(WithClock(func() time.Time { return now }))

	// 60 synthetic entries with strictly descending access counts, so
	// ranking by access_count/age is deterministic: key-0 scores highest,
	// key-59 scores lowest.
	c.mu.Lock()
	for i := 0; i < 60; i++ {
		key := GenerateKey(CategoryGuildData, i)
		c.entries[key] = &Entry{
			Value:       i,
			CreatedAt:   now,
			TTL:         time.Hour,
			Category:    CategoryGuildData,
			AccessCount: int64(60 - i),
		}
	}
	c.mu.Unlock()

	c.recomputeHotKeys()

	hot := c.HotKeys()
	assert.Len(t, hot, maxHotKeys)
	assert.Contains(t, hot, GenerateKey(CategoryGuildData, 0), "highest-scoring key must survive the cut")
	assert.NotContains(t, hot, GenerateKey(CategoryGuildData, 59), "lowest-scoring key must be dropped")
}

type panickingPreloader struct{}

func (panickingPreloader) RefreshKey(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func (panickingPreloader) PreloadGuild(ctx context.Context, guildID string) error {
	panic("guild preload failed")
}

func TestCacheMaintenancePanicIsSwallowed(t *testing.T) {
	c := New()
	c.SetRefresher(panickingPreloader{})
	// A freshly set guild-scoped entry makes the active-guild step call
	// PreloadGuild, which panics; SmartMaintenance recovers internally and
	// must never let that panic out to the caller.
	c.Set(CategoryGuildData, "v", 0, int64(1), "settings")
	assert.NotPanics(t, func() {
		c.SmartMaintenance(context.Background())
	})
}

func TestCacheGetMetricsTracksHitsAndMisses(t *testing.T) {
	c := New()
	c.Set(CategoryGuildData, "v", 0, int64(1), "settings")

	c.Get(CategoryGuildData, int64(1), "settings")
	c.Get(CategoryGuildData, int64(1), "missing")

	snap := c.GetMetrics()
	assert.Equal(t, int64(1), snap.Hits)
	assert.Equal(t, int64(1), snap.Misses)
	assert.InDelta(t, 0.5, snap.HitRate(), 0.0001)
}
