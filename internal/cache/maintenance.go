package cache

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	maxHotKeys       = 50
	activeGuildLookback = time.Hour
	maxActiveGuildsPreloaded = 3
)

// Refresher performs a category-specific refresh of a single cache key.
// Implemented by the cache loader (C7), which knows how to dispatch by key
// prefix back to the right DB query. Returning refreshed=false means the
// refresh was a no-op (e.g. unrecognized key shape); the cache counts that
// as a wasted preload rather than an error.
type Refresher interface {
	RefreshKey(ctx context.Context, key string) (refreshed bool, err error)
}

// GuildPreloader optionally extends Refresher to preload an entire guild's
// commonly-accessed data. Omitting it simply skips that maintenance step.
type GuildPreloader interface {
	PreloadGuild(ctx context.Context, guildID string) error
}

// SetRefresher wires the category-specific refresh dispatcher used by
// predictive preload. Cache loader calls this once at startup.
func (c *Cache) SetRefresher(r Refresher) {
	c.preloadMu.Lock()
	defer c.preloadMu.Unlock()
	c.refresher = r
}

// CleanupExpired sweeps all entries, removing every expired one under its
// own per-key lock, decrementing category sizes, and returns the count
// removed.
func (c *Cache) CleanupExpired() int {
	now := c.now()

	c.mu.RLock()
	var candidates []string
	for k, e := range c.entries {
		if e.IsExpired(now) {
			candidates = append(candidates, k)
		}
	}
	c.mu.RUnlock()

	removed := 0
	for _, key := range candidates {
		lock := c.keyLock(key)
		lock.Lock()
		c.mu.Lock()
		e, ok := c.entries[key]
		if ok && e.IsExpired(c.now()) {
			delete(c.entries, key)
			atomicDecSize(c.categoryMetrics(e.Category))
			removed++
		}
		c.mu.Unlock()
		lock.Unlock()
	}

	if removed > 0 {
		addInt64(&c.global.Evictions, int64(removed))
	}
	addInt64(&c.global.Cleanups, 1)
	return removed
}

// SmartMaintenance schedules preloads for eligible hot entries, recomputes
// the top-50 hot-key set, and optionally preloads the most active guilds.
// A panic anywhere in this
// method is recovered and logged; maintenance is best-effort and must
// never bring down the background loop that calls it.
func (c *Cache) SmartMaintenance(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in cache maintenance, swallowed", zap.Any("panic", r))
		}
	}()

	c.schedulePreloads(ctx)
	c.recomputeHotKeys()
	c.preloadActiveGuilds(ctx)
}

func (c *Cache) schedulePreloads(ctx context.Context) {
	now := c.now()

	c.mu.RLock()
	type candidate struct {
		key   string
		entry *Entry
	}
	var eligible []candidate
	for k, e := range c.entries {
		if e.ShouldPreload(now) {
			eligible = append(eligible, candidate{k, e})
		}
	}
	c.mu.RUnlock()

	for _, cand := range eligible {
		c.maybeSchedulePreload(ctx, cand.key, cand.entry)
	}
}

func (c *Cache) maybeSchedulePreload(ctx context.Context, key string, entry *Entry) {
	c.preloadMu.Lock()
	if _, inFlight := c.preloadTasks[key]; inFlight {
		c.preloadMu.Unlock()
		return
	}
	if c.refresher == nil {
		c.preloadMu.Unlock()
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	c.preloadTasks[key] = cancel
	refresher := c.refresher
	c.preloadMu.Unlock()

	predicted := entry.PredictedNextAccess
	ttl := entry.TTL

	go c.runPreload(taskCtx, key, predicted, ttl, refresher, cancel)
}

func (c *Cache) runPreload(ctx context.Context, key string, predicted *time.Time, ttl time.Duration, refresher Refresher, cancel context.CancelFunc) {
	defer func() {
		c.preloadMu.Lock()
		delete(c.preloadTasks, key)
		c.preloadMu.Unlock()
		cancel()

		if r := recover(); r != nil {
			c.logger.Error("panic in preload refresh, counted as wasted", zap.String("key", key), zap.Any("panic", r))
			addInt64(&c.global.PreloadsWasted, 1)
		}
	}()

	if predicted == nil {
		return
	}

	sleepUntil := predicted.Add(-time.Duration(float64(ttl) * 0.1))
	wait := time.Until(sleepUntil)
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return // cancellation during sleep is benign
		case <-timer.C:
		}
	}

	refreshed, err := refresher.RefreshKey(ctx, key)
	if err != nil {
		c.logger.Warn("preload refresh failed, counted as wasted", zap.String("key", key), zap.Error(err))
		addInt64(&c.global.PreloadsWasted, 1)
		return
	}
	if refreshed {
		addInt64(&c.global.PreloadsSuccessful, 1)
	} else {
		addInt64(&c.global.PreloadsWasted, 1)
	}
}

// recomputeHotKeys ranks all entries (not only already-hot ones) by
// access_count/max(age,1s) and keeps the top 50. An entry can rank here
// before its own IsHot flag trips.
func (c *Cache) recomputeHotKeys() {
	now := c.now()

	type scored struct {
		key   string
		score float64
	}

	c.mu.RLock()
	scoredEntries := make([]scored, 0, len(c.entries))
	for k, e := range c.entries {
		scoredEntries = append(scoredEntries, scored{k, e.HotScore(now)})
	}
	c.mu.RUnlock()

	sort.Slice(scoredEntries, func(i, j int) bool {
		return scoredEntries[i].score > scoredEntries[j].score
	})
	if len(scoredEntries) > maxHotKeys {
		scoredEntries = scoredEntries[:maxHotKeys]
	}

	newHot := make(map[string]struct{}, len(scoredEntries))
	for _, s := range scoredEntries {
		newHot[s.key] = struct{}{}
	}

	c.hotMu.Lock()
	c.hot = newHot
	c.hotMu.Unlock()
}

// HotKeys returns a snapshot of the current top-50 hot-key set.
func (c *Cache) HotKeys() []string {
	c.hotMu.RLock()
	defer c.hotMu.RUnlock()

	keys := make([]string, 0, len(c.hot))
	for k := range c.hot {
		keys = append(keys, k)
	}
	return keys
}

// preloadActiveGuilds preloads the top 3 guilds (by number of their
// entries accessed within the last hour) when a GuildPreloader is wired.
func (c *Cache) preloadActiveGuilds(ctx context.Context) {
	c.preloadMu.Lock()
	refresher := c.refresher
	c.preloadMu.Unlock()

	preloader, ok := refresher.(GuildPreloader)
	if !ok || preloader == nil {
		return
	}

	now := c.now()
	cutoff := now.Add(-activeGuildLookback)

	guildCounts := make(map[string]int)
	c.mu.RLock()
	for key, e := range c.entries {
		if e.LastAccessed.Before(cutoff) {
			continue
		}
		if guildID, ok := keyGuildID(key); ok {
			guildCounts[guildID]++
		}
	}
	c.mu.RUnlock()

	type guildActivity struct {
		guildID string
		count   int
	}
	activity := make([]guildActivity, 0, len(guildCounts))
	for g, n := range guildCounts {
		activity = append(activity, guildActivity{g, n})
	}
	sort.Slice(activity, func(i, j int) bool { return activity[i].count > activity[j].count })
	if len(activity) > maxActiveGuildsPreloaded {
		activity = activity[:maxActiveGuildsPreloaded]
	}

	for _, a := range activity {
		if err := preloader.PreloadGuild(ctx, a.guildID); err != nil {
			c.logger.Warn("active guild preload failed", zap.String("guild_id", a.guildID), zap.Error(err))
		}
	}
}

// keyGuildID extracts the first numeric segment after the category of a
// colon-delimited cache key, treating it as a guild id. The guild-scoped
// key shapes all put the guild id first; keys with no numeric segment are
// ignored.
func keyGuildID(key string) (string, bool) {
	segments := strings.Split(key, ":")
	for _, seg := range segments[1:] {
		if _, err := strconv.ParseInt(seg, 10, 64); err == nil {
			return seg, true
		}
	}
	return "", false
}
