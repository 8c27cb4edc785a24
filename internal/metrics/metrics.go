// Package metrics implements the periodic InfluxDB point flush: every
// 30s, a snapshot of DB pool gauges, breaker states, cache hit rate, and
// scheduler per-job counters is written as points. This writer is a
// secondary, best-effort sink. It never gates the in-process /health
// probe (internal/adminapi computes that synchronously from the same
// sources) and a write failure is logged, never propagated.
package metrics

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/guildforge/backbone/internal/cache"
	"github.com/guildforge/backbone/internal/dbstore"
	"github.com/guildforge/backbone/internal/scheduler"
	"github.com/guildforge/backbone/pkg/resilience"
)

// Sources is the set of live components the exporter snapshots each tick.
// Any field left nil is skipped for that tick rather than erroring.
type Sources struct {
	Cache     *cache.Cache
	DB        *dbstore.Store
	Breakers  *resilience.BreakerGroup
	Scheduler *scheduler.Scheduler
}

// Exporter periodically writes Sources snapshots to InfluxDB.
type Exporter struct {
	client influxdb2.Client
	writer influxdb2Writer
	org    string
	bucket string

	sources Sources
	logger  *zap.Logger
	now     func() time.Time

	interval time.Duration
}

// influxdb2Writer is the narrow slice of the influxdb2 write API the
// exporter depends on, kept as an interface so tests can substitute a
// recording fake instead of a live InfluxDB instance.
type influxdb2Writer interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Option configures optional Exporter dependencies.
type Option func(*Exporter)

func WithLogger(l *zap.Logger) Option           { return func(e *Exporter) { e.logger = l } }
func WithClock(now func() time.Time) Option     { return func(e *Exporter) { e.now = now } }
func WithInterval(d time.Duration) Option       { return func(e *Exporter) { e.interval = d } }

// New builds an Exporter writing to the InfluxDB instance at url using
// token/org/bucket. Passing an empty url disables the writer (Run becomes
// a no-op loop): a deployment without InfluxDB configured still runs, it
// just never emits points.
func New(url, token, org, bucket string, sources Sources, opts ...Option) *Exporter {
	e := &Exporter{
		org:      org,
		bucket:   bucket,
		sources:  sources,
		logger:   zap.NewNop(),
		now:      time.Now,
		interval: 30 * time.Second,
	}
	if url != "" {
		e.client = influxdb2.NewClient(url, token)
		e.writer = e.client.WriteAPIBlocking(org, bucket)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close releases the underlying InfluxDB client, if one was configured.
func (e *Exporter) Close() {
	if e.client != nil {
		e.client.Close()
	}
}

// Run flushes a snapshot every interval until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Flush(ctx)
		}
	}
}

// Flush writes one snapshot of every configured source. Each point write
// is attempted independently; one failing source never blocks another's
// point from being written.
func (e *Exporter) Flush(ctx context.Context) {
	if e.writer == nil {
		return
	}

	now := e.now()

	if e.sources.Cache != nil {
		e.writeCachePoint(ctx, now)
	}
	if e.sources.DB != nil {
		e.writeDBPoint(ctx, now)
	}
	if e.sources.Breakers != nil {
		e.writeBreakerPoints(ctx, now)
	}
	if e.sources.Scheduler != nil {
		e.writeSchedulerPoints(ctx, now)
	}
}

func (e *Exporter) writeCachePoint(ctx context.Context, ts time.Time) {
	snap := e.sources.Cache.GetMetrics()
	p := write.NewPoint(
		"cache",
		nil,
		map[string]interface{}{
			"hits":       snap.Hits,
			"misses":     snap.Misses,
			"sets":       snap.Sets,
			"evictions":  snap.Evictions,
			"hit_rate":   snap.HitRate(),
		},
		ts,
	)
	e.write(ctx, p)
}

func (e *Exporter) writeDBPoint(ctx context.Context, ts time.Time) {
	m := e.sources.DB.GetPerformanceMetrics()
	p := write.NewPoint(
		"db_pool",
		map[string]string{"breaker_state": m.BreakerState.String()},
		map[string]interface{}{
			"pool_size": m.PoolSize,
			"in_use":    m.InUse,
			"waiting":   m.Waiting,
		},
		ts,
	)
	e.write(ctx, p)

	for _, stmt := range m.Statements {
		sp := write.NewPoint(
			"db_statement",
			map[string]string{"kind": stmt.Kind},
			map[string]interface{}{
				"count":        stmt.Count,
				"avg_time_ms":  float64(stmt.AvgTime.Microseconds()) / 1000,
				"slow_queries": stmt.SlowQueries,
			},
			ts,
		)
		e.write(ctx, sp)
	}
}

func (e *Exporter) writeBreakerPoints(ctx context.Context, ts time.Time) {
	for name, state := range e.sources.Breakers.States() {
		p := write.NewPoint(
			"circuit_breaker",
			map[string]string{"name": name},
			map[string]interface{}{
				"state": int(state),
			},
			ts,
		)
		e.write(ctx, p)
	}
}

func (e *Exporter) writeSchedulerPoints(ctx context.Context, ts time.Time) {
	health := e.sources.Scheduler.HealthStatus()
	for job, m := range health.JobMetrics {
		p := write.NewPoint(
			"scheduler_job",
			map[string]string{"job": job},
			map[string]interface{}{
				"success":       m.Success,
				"failures":      m.Failures,
				"total_time_ms": m.TotalTimeMS,
			},
			ts,
		)
		e.write(ctx, p)
	}
}

func (e *Exporter) write(ctx context.Context, p *write.Point) {
	if err := e.writer.WritePoint(ctx, p); err != nil {
		e.logger.Warn("influxdb point write failed", zap.Error(err))
	}
}
