package cacheloader

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/guildforge/backbone/internal/cache"
	"github.com/guildforge/backbone/internal/dbstore"
	"github.com/guildforge/backbone/shared/events"
)

// Category names for the 17 startup-loaded categories.
// These are loader bookkeeping categories, distinct from the cache's 7
// storage categories (internal/cache.Category*): a loader category
// describes "what was populated", a cache category describes "where it
// lives".
const (
	CatGuildSettings        = "guild_settings"
	CatGuildRoles           = "guild_roles"
	CatGuildChannels        = "guild_channels"
	CatWelcomeMessages      = "welcome_messages"
	CatAbsenceMessages      = "absence_messages" // marker only, managed live
	CatGuildMembers         = "guild_members"
	CatEventsData           = "events_data"
	CatStaticData           = "static_data"
	CatStaticGroups         = "static_groups"
	CatUserSetup            = "user_setup"
	CatWeapons              = "weapons"
	CatWeaponsCombinations  = "weapons_combinations"
	CatGuildIdealStaff      = "guild_ideal_staff"
	CatGamesList            = "games_list"
	CatEpicItemsT2          = "epic_items_t2"
	CatEventsCalendar       = "events_calendar"
	CatGuildPTBSettings     = "guild_ptb_settings"
)

// allCategories is the fixed load order for load_all_shared_data; fan-out
// concurrency doesn't depend on order, but a deterministic list keeps
// logging and tests legible.
var allCategories = []string{
	CatGuildSettings, CatGuildRoles, CatGuildChannels, CatWelcomeMessages,
	CatAbsenceMessages, CatGuildMembers, CatEventsData, CatStaticData,
	CatStaticGroups, CatUserSetup, CatWeapons, CatWeaponsCombinations,
	CatGuildIdealStaff, CatGamesList, CatEpicItemsT2, CatEventsCalendar,
	CatGuildPTBSettings,
}

// Publisher is the event-bus dependency used to announce category loads.
type Publisher interface {
	PublishCacheCategoryLoad(ctx context.Context, payload events.CacheCategoryLoadEvent) error
}

// DB is the slice of *dbstore.Store the loader depends on, kept as an
// interface so category-loader tests can substitute an in-memory fake
// instead of standing up a real Postgres connection.
type DB interface {
	RunQuery(ctx context.Context, query string, args []any, mode dbstore.Mode) (*dbstore.QueryResult, error)
}

// Loader warms the cache once at startup and serves category-scoped
// reloads afterwards.
type Loader struct {
	db    DB
	cache *cache.Cache

	logger    *zap.Logger
	publisher Publisher

	startupMu sync.Mutex // held for the duration of load_all_shared_data
	loadedMu  sync.Mutex
	loaded    map[string]bool
	initial   bool
}

// Option configures optional Loader dependencies.
type Option func(*Loader)

func WithLogger(logger *zap.Logger) Option { return func(l *Loader) { l.logger = logger } }
func WithPublisher(p Publisher) Option     { return func(l *Loader) { l.publisher = p } }

// New builds a Loader over db and c.
func New(db DB, c *cache.Cache, opts ...Option) *Loader {
	l := &Loader{
		db:     db,
		cache:  c,
		loaded: make(map[string]bool),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	c.SetRefresher(l)
	return l
}

type categoryLoader func(l *Loader, ctx context.Context) (rows int, err error)

var loaders = map[string]categoryLoader{
	CatGuildSettings:       (*Loader).loadGuildSettings,
	CatGuildRoles:          (*Loader).loadGuildRoles,
	CatGuildChannels:       (*Loader).loadGuildChannels,
	CatWelcomeMessages:     (*Loader).loadWelcomeMessages,
	CatAbsenceMessages:     (*Loader).loadAbsenceMessagesMarker,
	CatGuildMembers:        (*Loader).loadGuildMembers,
	CatEventsData:          (*Loader).loadEventsData,
	CatStaticData:          (*Loader).loadStaticData,
	CatStaticGroups:        (*Loader).loadStaticGroups,
	CatUserSetup:           (*Loader).loadUserSetup,
	CatWeapons:             (*Loader).loadWeapons,
	CatWeaponsCombinations: (*Loader).loadWeaponsCombinations,
	CatGuildIdealStaff:     (*Loader).loadGuildIdealStaff,
	CatGamesList:           (*Loader).loadGamesList,
	CatEpicItemsT2:         (*Loader).loadEpicItemsT2,
	CatEventsCalendar:      (*Loader).loadEventsCalendar,
	CatGuildPTBSettings:    (*Loader).loadGuildPTBSettings,
}

// LoadAllSharedData runs every per-category loader in parallel under a
// single startup mutex; the second call is a no-op. Per-category failures
// are logged, never abort the batch.
func (l *Loader) LoadAllSharedData(ctx context.Context) error {
	l.startupMu.Lock()
	defer l.startupMu.Unlock()

	if l.isInitialLoadComplete() {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, category := range allCategories {
		category := category
		g.Go(func() error {
			l.runCategoryLoader(gctx, category)
			return nil
		})
	}
	_ = g.Wait() // per-category errors are logged inside runCategoryLoader, never propagated

	l.loadedMu.Lock()
	l.initial = true
	l.loadedMu.Unlock()
	return nil
}

func (l *Loader) isInitialLoadComplete() bool {
	l.loadedMu.Lock()
	defer l.loadedMu.Unlock()
	return l.initial
}

// IsLoaded reports whether initial load has completed.
func (l *Loader) IsLoaded() bool { return l.isInitialLoadComplete() }

func (l *Loader) runCategoryLoader(ctx context.Context, category string) {
	fn, ok := loaders[category]
	if !ok {
		l.logger.Warn("no loader registered for category", zap.String("category", category))
		return
	}

	start := time.Now()
	rows, err := fn(l, ctx)
	elapsed := time.Since(start)

	// A failed category is still marked loaded so it doesn't hot-loop;
	// recovery goes through an explicit ReloadCategory. Empty result sets
	// count as loaded too.
	l.markLoaded(category)

	evt := events.CacheCategoryLoadEvent{
		Category:   category,
		RowCount:   rows,
		DurationMS: elapsed.Milliseconds(),
	}
	if err != nil {
		l.logger.Error("cache loader category failed", zap.String("category", category), zap.Error(err))
		evt.Err = err.Error()
	}
	if l.publisher != nil {
		if pubErr := l.publisher.PublishCacheCategoryLoad(ctx, evt); pubErr != nil {
			l.logger.Warn("publish cache category load event failed", zap.Error(pubErr))
		}
	}
}

func (l *Loader) markLoaded(category string) {
	l.loadedMu.Lock()
	l.loaded[category] = true
	l.loadedMu.Unlock()
}

// EnsureCategoryLoaded is a no-op once category is in the loaded set after
// initial load; otherwise it runs that category's loader. Unknown
// categories log a warning and are a no-op.
func (l *Loader) EnsureCategoryLoaded(ctx context.Context, category string) {
	l.loadedMu.Lock()
	already := l.loaded[category]
	l.loadedMu.Unlock()
	if already {
		return
	}

	if _, ok := loaders[category]; !ok {
		l.logger.Warn("ensure_category_loaded: unknown category", zap.String("category", category))
		return
	}

	l.runCategoryLoader(ctx, category)
}

// ReloadCategory removes category from the loaded set, then re-runs its
// loader.
func (l *Loader) ReloadCategory(ctx context.Context, category string) {
	l.loadedMu.Lock()
	delete(l.loaded, category)
	l.loadedMu.Unlock()

	l.EnsureCategoryLoaded(ctx, category)
}

// WaitForInitialLoad blocks, polling every 100ms, until initial load
// completes or the bound elapses; after the deadline it returns anyway
// and logs a warning.
func (l *Loader) WaitForInitialLoad(ctx context.Context, bound time.Duration) {
	deadline := time.Now().Add(bound)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.isInitialLoadComplete() {
			return
		}
		if time.Now().After(deadline) {
			l.logger.Warn("wait_for_initial_load: deadline exceeded, continuing anyway")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshKey implements cache.Refresher: dispatch a predictive preload by
// the cache key's category prefix back to the matching per-category
// reload. Keys whose category has no loader are a no-op refresh (counted
// as wasted by the caller).
func (l *Loader) RefreshKey(ctx context.Context, key string) (bool, error) {
	category := key
	if idx := strings.IndexByte(key, ':'); idx >= 0 {
		category = key[:idx]
	}

	loaderCategory, ok := cacheCategoryToLoaderCategory[category]
	if !ok {
		return false, nil
	}

	l.ReloadCategory(ctx, loaderCategory)
	return true, nil
}

// cacheCategoryToLoaderCategory maps a cache.Category* prefix back to the
// loader category whose reload would refresh it. Several loader
// categories feed the same cache category (e.g. guild_settings and
// guild_roles both live under guild_data), so a refresh conservatively
// reloads guild_settings, the most frequently hot one.
var cacheCategoryToLoaderCategory = map[string]string{
	cache.CategoryGuildData:       CatGuildSettings,
	cache.CategoryUserData:        CatUserSetup,
	cache.CategoryEventsData:      CatEventsData,
	cache.CategoryRosterData:      CatGuildMembers,
	cache.CategoryStaticData:      CatStaticData,
	cache.CategoryDiscordEntities: CatGuildChannels,
}

// PreloadGuild implements cache.GuildPreloader: reload the guild-scoped
// categories for the given guild. The per-category loaders operate on the
// full table, so a single-guild preload reloads those categories
// wholesale; conservative but correct.
func (l *Loader) PreloadGuild(ctx context.Context, guildID string) error {
	for _, category := range []string{CatGuildSettings, CatGuildRoles, CatGuildChannels, CatGuildMembers} {
		l.ReloadCategory(ctx, category)
	}
	return nil
}
