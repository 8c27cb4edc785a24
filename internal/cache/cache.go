// Package cache implements the hierarchical, category-scoped in-memory
// cache: TTL entries, per-key locks, category metrics, an invalidation
// graph, hot-key tracking, and predictive preload scheduling. Mutation of
// any single key is serialized by that key's own mutex; map structure is
// guarded separately so unrelated keys never contend.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guildforge/backbone/shared/events"
)

// Publisher is the minimal event-bus dependency the cache needs; satisfied
// by *messaging.Client. Kept as an interface so cache never imports the
// transport package directly, and so tests can use a no-op stub.
type Publisher interface {
	PublishCacheInvalidation(ctx context.Context, payload events.CacheInvalidationEvent) error
}

type noopPublisher struct{}

func (noopPublisher) PublishCacheInvalidation(context.Context, events.CacheInvalidationEvent) error {
	return nil
}

// Cache is the concurrency-safe category-scoped store.
type Cache struct {
	mu      sync.RWMutex // guards entries map structure only
	entries map[string]*Entry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	catMu   sync.RWMutex
	cats    map[string]*CategoryMetrics

	global Metrics

	invalidationMu sync.RWMutex
	invalidation   map[string]map[string]struct{}

	hotMu sync.RWMutex
	hot   map[string]struct{}

	preloadMu    sync.Mutex
	preloadTasks map[string]context.CancelFunc
	refresher    Refresher

	publisher Publisher
	logger    *zap.Logger

	now func() time.Time
}

// Option configures optional Cache dependencies.
type Option func(*Cache)

// WithPublisher wires an event-bus publisher used to announce invalidations.
func WithPublisher(p Publisher) Option {
	return func(c *Cache) { c.publisher = p }
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds an empty Cache with the default invalidation graph already
// wired: roster_data -> events_data; guild_data -> {roster_data,
// events_data}; user_data -> roster_data.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:      make(map[string]*Entry),
		locks:        make(map[string]*sync.Mutex),
		cats:         make(map[string]*CategoryMetrics),
		invalidation: make(map[string]map[string]struct{}),
		hot:          make(map[string]struct{}),
		preloadTasks: make(map[string]context.CancelFunc),
		publisher:    noopPublisher{},
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	c.AddInvalidationRule(CategoryRosterData, []string{CategoryEventsData})
	c.AddInvalidationRule(CategoryGuildData, []string{CategoryRosterData, CategoryEventsData})
	c.AddInvalidationRule(CategoryUserData, []string{CategoryRosterData})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) keyLock(key string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

func (c *Cache) categoryMetrics(category string) *CategoryMetrics {
	c.catMu.RLock()
	m, ok := c.cats[category]
	c.catMu.RUnlock()
	if ok {
		return m
	}

	c.catMu.Lock()
	defer c.catMu.Unlock()
	if m, ok = c.cats[category]; ok {
		return m
	}
	m = &CategoryMetrics{}
	c.cats[category] = m
	return m
}

// Get looks up category:args… under the key's lock. A present, unexpired
// entry records an access and returns (value, true); an expired entry is
// evicted and counted as a miss; an absent entry is a miss. Absence is
// a normal result, never an error.
func (c *Cache) Get(category string, args ...any) (any, bool) {
	key := GenerateKey(category, args...)
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	now := c.now()
	catMetrics := c.categoryMetrics(category)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		atomicAddMiss(&c.global, catMetrics)
		return nil, false
	}

	if entry.IsExpired(now) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()

		atomicAddMiss(&c.global, catMetrics)
		atomicAddEviction(&c.global)
		atomicDecSize(catMetrics)
		return nil, false
	}

	entry.RecordAccess(now)
	if entry.IsHot {
		c.hotMu.Lock()
		c.hot[key] = struct{}{}
		c.hotMu.Unlock()
	}

	atomicAddHit(&c.global, catMetrics)
	return entry.Value, true
}

// Set replaces (or creates) the entry for category:args…, defaulting TTL
// to the category's default when ttl<=0. New keys increment the category
// size.
func (c *Cache) Set(category string, value any, ttl time.Duration, args ...any) {
	key := GenerateKey(category, args...)
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if ttl <= 0 {
		ttl = TTLForCategory(category)
	}

	now := c.now()
	catMetrics := c.categoryMetrics(category)

	c.mu.Lock()
	_, existed := c.entries[key]
	c.entries[key] = NewEntry(value, category, ttl, now)
	c.mu.Unlock()

	if !existed {
		atomicIncSize(catMetrics)
	}
	atomicAddSet(&c.global, catMetrics)
}

// Delete removes the entry for category:args… if present, returning
// whether it existed.
func (c *Cache) Delete(category string, args ...any) bool {
	key := GenerateKey(category, args...)
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	_, existed := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if existed {
		atomicDecSize(c.categoryMetrics(category))
	}
	return existed
}

// InvalidateCategory removes every entry tagged category, resets that
// category's size to 0, and returns the number of entries removed.
func (c *Cache) InvalidateCategory(category string) int {
	c.mu.RLock()
	var keys []string
	for k, e := range c.entries {
		if e.Category == category {
			keys = append(keys, k)
		}
	}
	c.mu.RUnlock()

	count := 0
	for _, key := range keys {
		lock := c.keyLock(key)
		lock.Lock()
		c.mu.Lock()
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			count++
		}
		c.mu.Unlock()
		lock.Unlock()
	}

	catMetrics := c.categoryMetrics(category)
	c.catMu.Lock()
	catMetrics.Size = 0
	c.catMu.Unlock()

	return count
}

// InvalidateRelated cascades invalidation from trigger to every category
// registered against it in the invalidation graph, returning the total
// count removed.
func (c *Cache) InvalidateRelated(trigger string) int {
	c.invalidationMu.RLock()
	affected := make([]string, 0, len(c.invalidation[trigger]))
	for cat := range c.invalidation[trigger] {
		affected = append(affected, cat)
	}
	c.invalidationMu.RUnlock()

	total := 0
	for _, cat := range affected {
		n := c.InvalidateCategory(cat)
		total += n
		c.publishInvalidation(cat, "cascade", n)
	}
	return total
}

// AddInvalidationRule unions affected into the graph for trigger. The
// graph is append-only at runtime; no API removes edges.
func (c *Cache) AddInvalidationRule(trigger string, affected []string) {
	c.invalidationMu.Lock()
	defer c.invalidationMu.Unlock()

	set, ok := c.invalidation[trigger]
	if !ok {
		set = make(map[string]struct{})
		c.invalidation[trigger] = set
	}
	for _, a := range affected {
		set[a] = struct{}{}
	}
}

func (c *Cache) publishInvalidation(category, cause string, count int) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishCacheInvalidation(context.Background(), events.CacheInvalidationEvent{
		Category:       category,
		Cause:          cause,
		EntriesCleared: count,
	}); err != nil {
		c.logger.Warn("cache invalidation publish failed", zap.String("category", category), zap.Error(err))
	}
}

func atomicAddHit(global *Metrics, cat *CategoryMetrics) {
	addInt64(&global.Hits, 1)
	addInt64(&cat.Hits, 1)
}

func atomicAddMiss(global *Metrics, cat *CategoryMetrics) {
	addInt64(&global.Misses, 1)
	addInt64(&cat.Misses, 1)
}

func atomicAddSet(global *Metrics, cat *CategoryMetrics) {
	addInt64(&global.Sets, 1)
	addInt64(&cat.Sets, 1)
}

func atomicAddEviction(global *Metrics) {
	addInt64(&global.Evictions, 1)
}

func atomicIncSize(cat *CategoryMetrics) {
	addInt64(&cat.Size, 1)
}

func atomicDecSize(cat *CategoryMetrics) {
	addInt64(&cat.Size, -1)
}
