// Package scheduler implements the minute-tick wall-clock job runner:
// registered jobs fire on matching local times, with per-job mutual
// exclusion, execution-bucket dedup, and per-job metrics.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/guildforge/backbone/shared/events"
)

// Job is one registered scheduler job.
type Job struct {
	Name string
	// Fires reports whether the job is due at t (local time, already in
	// the scheduler's configured timezone).
	Fires func(t time.Time) bool
	// Bucket computes the dedup bucket for t; jobs sharing a bucket
	// definition (HH:MM vs HH:MM:floor(minute/5)) pass distinct funcs.
	Bucket func(t time.Time) string
	// Run executes the job body. FanOut jobs manage their own internal
	// concurrency; Run still runs as a single scheduler-tick invocation.
	Run func(ctx context.Context) error
}

// JobMetrics is the per-job counter set.
type JobMetrics struct {
	Success      int64
	Failures     int64
	TotalTimeMS  int64
}

type jobState struct {
	job         Job
	mu          sync.Mutex // per-job mutual exclusion; held only for the run's duration
	lastBucket  string
	metrics     JobMetrics
	metricsMu   sync.Mutex
}

// Publisher is the event-bus dependency used to announce job executions.
type Publisher interface {
	PublishJobExecution(ctx context.Context, payload events.JobExecutionEvent) error
}

// executionLogCapacity bounds the in-memory ring of recent job runs.
const executionLogCapacity = 128

// ExecutionRecord is one completed job run in the execution log. Seq is
// monotonically increasing across all jobs for the scheduler's lifetime.
type ExecutionRecord struct {
	Seq        uint64    `json:"seq"`
	JobName    string    `json:"job_name"`
	Bucket     string    `json:"bucket"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Succeeded  bool      `json:"succeeded"`
	Err        string    `json:"error,omitempty"`
}

// CogRegistry resolves feature-module ("cog") dependencies by name; job
// bodies reach it through GetCog. The tick loop itself never consults it,
// so skipping work when a required cog is absent is up to the job body.
type CogRegistry interface {
	Get(name string) (any, bool)
}

// Scheduler runs the minute-tick loop.
type Scheduler struct {
	location *time.Location
	jobs     []*jobState
	jobsMu   sync.RWMutex

	publisher Publisher
	logger    *zap.Logger
	cogs      CogRegistry

	logMu   sync.Mutex
	nextSeq uint64
	log     []ExecutionRecord // ring, oldest first, capped at executionLogCapacity

	now func() time.Time

	tickWatchdog time.Duration
}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

func WithPublisher(p Publisher) Option { return func(s *Scheduler) { s.publisher = p } }
func WithLogger(l *zap.Logger) Option   { return func(s *Scheduler) { s.logger = l } }
func WithCogRegistry(r CogRegistry) Option { return func(s *Scheduler) { s.cogs = r } }
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }
func WithTickWatchdog(d time.Duration) Option { return func(s *Scheduler) { s.tickWatchdog = d } }

// New builds a Scheduler running in the named IANA timezone.
func New(timezone string, opts ...Option) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	s := &Scheduler{
		location:     loc,
		logger:       zap.NewNop(),
		now:          time.Now,
		tickWatchdog: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register adds a job to the schedule. Registration is not safe to call
// concurrently with Tick/Run.
func (s *Scheduler) Register(j Job) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.jobs = append(s.jobs, &jobState{job: j})
}

// Run executes the minute-tick loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every registered job against the current local time,
// running those that are due and haven't already run in this bucket. A
// tick exceeding the watchdog threshold is logged, not killed.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()
	t := s.now().In(s.location)

	s.jobsMu.RLock()
	jobs := make([]*jobState, len(s.jobs))
	copy(jobs, s.jobs)
	s.jobsMu.RUnlock()

	for _, js := range jobs {
		s.maybeRun(ctx, js, t)
	}

	if elapsed := time.Since(start); elapsed > s.tickWatchdog {
		s.logger.Warn("scheduler tick exceeded watchdog threshold", zap.Duration("elapsed", elapsed))
	}
}

func (s *Scheduler) maybeRun(ctx context.Context, js *jobState, t time.Time) {
	if !js.job.Fires(t) {
		return
	}

	bucket := js.job.Bucket(t)

	if !js.mu.TryLock() {
		s.logger.Debug("job lock held, skipping tick", zap.String("job", js.job.Name))
		return
	}
	defer js.mu.Unlock()

	if js.lastBucket == bucket {
		return
	}
	js.lastBucket = bucket

	s.executeWithMonitoring(ctx, js, bucket)
}

// executeWithMonitoring runs a job body, recording success/failure
// metrics, appending to the execution log, and publishing a job-execution
// event; it never panics or propagates an error out to the tick loop.
func (s *Scheduler) executeWithMonitoring(ctx context.Context, js *jobState, bucket string) {
	start := time.Now()

	err := s.runJobSafely(ctx, js.job)
	elapsed := time.Since(start)

	js.metricsMu.Lock()
	if err != nil {
		js.metrics.Failures++
	} else {
		js.metrics.Success++
	}
	js.metrics.TotalTimeMS += elapsed.Milliseconds()
	js.metricsMu.Unlock()

	rec := ExecutionRecord{
		JobName:    js.job.Name,
		Bucket:     bucket,
		StartedAt:  start,
		DurationMS: elapsed.Milliseconds(),
		Succeeded:  err == nil,
	}
	if err != nil {
		s.logger.Error("scheduler job failed", zap.String("job", js.job.Name), zap.String("bucket", bucket), zap.Error(err), zap.Stack("stack"))
		rec.Err = err.Error()
	}
	s.appendExecution(rec)

	if s.publisher != nil {
		evt := events.JobExecutionEvent{
			JobName:    rec.JobName,
			Bucket:     rec.Bucket,
			DurationMS: rec.DurationMS,
			Succeeded:  rec.Succeeded,
			Err:        rec.Err,
		}
		if pubErr := s.publisher.PublishJobExecution(ctx, evt); pubErr != nil {
			s.logger.Warn("publish job execution event failed", zap.Error(pubErr))
		}
	}
}

// appendExecution stamps the next sequence number onto rec and appends it
// to the ring, dropping the oldest record once the ring is full.
func (s *Scheduler) appendExecution(rec ExecutionRecord) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	s.nextSeq++
	rec.Seq = s.nextSeq
	s.log = append(s.log, rec)
	if len(s.log) > executionLogCapacity {
		s.log = s.log[len(s.log)-executionLogCapacity:]
	}
}

// RecentExecutions returns up to n of the most recent job runs, newest
// first. n <= 0 returns the whole ring.
func (s *Scheduler) RecentExecutions(n int) []ExecutionRecord {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	if n <= 0 || n > len(s.log) {
		n = len(s.log)
	}
	out := make([]ExecutionRecord, n)
	for i := 0; i < n; i++ {
		out[i] = s.log[len(s.log)-1-i]
	}
	return out
}

func (s *Scheduler) runJobSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

// GetCog resolves a feature-module dependency by name via the wired
// registry; a nil registry or unknown name both report absence rather
// than erroring.
func (s *Scheduler) GetCog(name string) (any, bool) {
	if s.cogs == nil {
		return nil, false
	}
	return s.cogs.Get(name)
}

// HealthSnapshot is the scheduler's health view: per-job metrics, which
// locks are currently held, each job's last executed bucket, and the most
// recent runs from the execution log.
type HealthSnapshot struct {
	JobMetrics     map[string]JobMetrics
	ActiveLocks    map[string]bool
	LastExecutions map[string]string
	RecentRuns     []ExecutionRecord
}

// HealthStatus snapshots every job's metrics, lock-held state, and last
// executed bucket.
func (s *Scheduler) HealthStatus() HealthSnapshot {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	snap := HealthSnapshot{
		JobMetrics:     make(map[string]JobMetrics, len(s.jobs)),
		ActiveLocks:    make(map[string]bool, len(s.jobs)),
		LastExecutions: make(map[string]string, len(s.jobs)),
	}
	for _, js := range s.jobs {
		js.metricsMu.Lock()
		snap.JobMetrics[js.job.Name] = js.metrics
		js.metricsMu.Unlock()

		held := !js.mu.TryLock()
		if !held {
			js.mu.Unlock()
		}
		snap.ActiveLocks[js.job.Name] = held
		snap.LastExecutions[js.job.Name] = js.lastBucket
	}
	snap.RecentRuns = s.RecentExecutions(20)
	return snap
}

// FanOut runs fn for every item in items with bounded concurrency, for
// jobs that iterate over all guilds. perItemDelay (if > 0) is applied
// before releasing each slot, smoothing load for roster-style updates.
func FanOut[T any](ctx context.Context, items []T, concurrency int, perItemDelay time.Duration, fn func(ctx context.Context, item T) error) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	g, gctx := errgroup.WithContext(ctx)

	for _, item := range items {
		item := item
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			err := fn(gctx, item)
			if perItemDelay > 0 {
				time.Sleep(perItemDelay)
			}
			return err
		})
	}
	return g.Wait()
}
