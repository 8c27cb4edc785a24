// Package ratelimit implements the three-scope cooldown tracker used by
// administrative commands: per-user, per-guild, and global command
// cooldowns behind a single mutex, plus periodic purge of stale entries.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scope selects which bucket map a command's cooldown is tracked in.
type Scope int

const (
	ScopeUser Scope = iota
	ScopeGuild
	ScopeGlobal
)

// Administrative command names, named as constants so callers wiring the
// limiter don't hand-roll string literals.
const (
	CommandAppInitialize = "app_initialize"
	CommandAppModify     = "app_modify"
	CommandAppReset      = "app_reset"
	CommandDiscordSetup  = "discord_setup"
	CommandPTBInit       = "ptb_init"
)

const cleanupInterval = time.Hour

// Limiter tracks last-use timestamps for three independent bucket maps
// under one mutex; every operation is O(1) and short.
type Limiter struct {
	mu     sync.Mutex
	user   map[string]map[string]time.Time // command -> userID -> last use
	guild  map[string]map[string]time.Time // command -> guildID -> last use
	global map[string]time.Time            // command -> last use

	now    func() time.Time
	logger *zap.Logger
}

// Option configures optional Limiter dependencies.
type Option func(*Limiter)

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New builds an empty Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		user:   make(map[string]map[string]time.Time),
		guild:  make(map[string]map[string]time.Time),
		global: make(map[string]time.Time),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsRateLimited reports whether command is still cooling down in the given
// scope, and if so how long remains. A limited call does not refresh the
// bucket. A missing required id for the resolved scope is a silent no-op:
// (false, 0), never an error.
func (l *Limiter) IsRateLimited(command string, userID, guildID string, cooldown time.Duration, scope Scope) (limited bool, remaining time.Duration) {
	if cooldown <= 0 {
		return false, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	switch scope {
	case ScopeUser:
		if userID == "" {
			return false, 0
		}
		bucket, ok := l.user[command]
		if !ok {
			bucket = make(map[string]time.Time)
			l.user[command] = bucket
		}
		return l.checkAndUpdate(bucket, userID, now, cooldown)

	case ScopeGuild:
		if guildID == "" {
			return false, 0
		}
		bucket, ok := l.guild[command]
		if !ok {
			bucket = make(map[string]time.Time)
			l.guild[command] = bucket
		}
		return l.checkAndUpdate(bucket, guildID, now, cooldown)

	case ScopeGlobal:
		last, ok := l.global[command]
		if ok {
			if elapsed := now.Sub(last); elapsed < cooldown {
				return true, cooldown - elapsed
			}
		}
		l.global[command] = now
		return false, 0

	default:
		return false, 0
	}
}

func (l *Limiter) checkAndUpdate(bucket map[string]time.Time, id string, now time.Time, cooldown time.Duration) (bool, time.Duration) {
	last, ok := bucket[id]
	if ok {
		if elapsed := now.Sub(last); elapsed < cooldown {
			return true, cooldown - elapsed
		}
	}
	bucket[id] = now
	return false, 0
}

// CleanupOldEntries removes bucket entries older than maxAge, dropping
// command keys whose bucket map becomes empty.
func (l *Limiter) CleanupOldEntries(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-maxAge)
	removed := 0

	for command, bucket := range l.user {
		for id, last := range bucket {
			if last.Before(cutoff) {
				delete(bucket, id)
				removed++
			}
		}
		if len(bucket) == 0 {
			delete(l.user, command)
		}
	}

	for command, bucket := range l.guild {
		for id, last := range bucket {
			if last.Before(cutoff) {
				delete(bucket, id)
				removed++
			}
		}
		if len(bucket) == 0 {
			delete(l.guild, command)
		}
	}

	for command, last := range l.global {
		if last.Before(cutoff) {
			delete(l.global, command)
			removed++
		}
	}

	return removed
}

// Stats is a point-in-time count of tracked buckets per scope.
type Stats struct {
	UserBuckets   int `json:"user_buckets"`
	GuildBuckets  int `json:"guild_buckets"`
	GlobalBuckets int `json:"global_buckets"`
}

// GetStats counts the currently tracked bucket entries in each scope.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Stats{GlobalBuckets: len(l.global)}
	for _, bucket := range l.user {
		st.UserBuckets += len(bucket)
	}
	for _, bucket := range l.guild {
		st.GuildBuckets += len(bucket)
	}
	return st
}

// StartCleanup runs CleanupOldEntries(24h) once per hour until ctx is
// cancelled.
func (l *Limiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := l.CleanupOldEntries(24 * time.Hour)
			if removed > 0 {
				l.logger.Info("rate limiter cleanup removed stale entries", zap.Int("removed", removed))
			}
		}
	}
}
