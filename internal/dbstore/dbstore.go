// Package dbstore implements the database access layer: a bounded
// connection pool, a circuit breaker guarding every call, bounded retry
// with backoff, per-statement-kind metrics, and multi-statement
// transactions.
package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/guildforge/backbone/pkg/errs"
	"github.com/guildforge/backbone/pkg/resilience"
)

// Mode selects what run_query does with the executed statement.
type Mode int

const (
	ModeCommit Mode = iota
	ModeFetchOne
	ModeFetchAll
)

const (
	slowQueryThreshold = 2 * time.Second
	maxQueryAttempts    = 3
	maxTxnAttempts      = 3
)

// Config configures the store's pool, timeouts, and breaker.
type Config struct {
	DSN             string
	PoolSize        int
	QueryTimeout    time.Duration
	BreakerThreshold int
	BreakerTimeout  time.Duration
	Logger          *zap.Logger
	// OnStateChange, if set, is wired directly into the underlying
	// breaker's callback so state transitions reach the event bus.
	// Left nil in tests.
	OnStateChange func(from, to resilience.State)
}

// Store is the concurrency-safe database access layer. The semaphore is a
// buffered channel of capacity PoolSize.
type Store struct {
	db      *sql.DB
	sem     chan struct{}
	breaker *resilience.Breaker
	timeout time.Duration
	logger  *zap.Logger

	metricsMu sync.Mutex
	metrics   map[string]*statementMetrics

	waitingMu sync.Mutex
	waiting   int

	poolSize int
}

type statementMetrics struct {
	Count      int64
	TotalTime  time.Duration
	SlowQueries int64
}

// Open creates the pool and wires the breaker. It does not verify
// connectivity; callers that want a fail-fast startup check should call
// Ping separately.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.KindDBUnavailable, "open database connection", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := resilience.NewBreaker(resilience.Config{
		Name:          "dbstore",
		MaxFailures:   cfg.BreakerThreshold,
		Timeout:       cfg.BreakerTimeout,
		HalfOpenMax:   1,
		OnStateChange: cfg.OnStateChange,
	})

	return &Store{
		db:       db,
		sem:      make(chan struct{}, cfg.PoolSize),
		breaker:  breaker,
		timeout:  cfg.QueryTimeout,
		logger:   logger,
		metrics:  make(map[string]*statementMetrics),
		poolSize: cfg.PoolSize,
	}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity, used at startup.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Breaker exposes the guarding breaker for health reporting.
func (s *Store) Breaker() *resilience.Breaker { return s.breaker }

// acquire reserves a pool slot within timeout, tracking waiting-queue
// depth and warning when it exceeds 1.5x pool size.
func (s *Store) acquire(ctx context.Context) (func(), error) {
	s.waitingMu.Lock()
	s.waiting++
	depth := s.waiting
	s.waitingMu.Unlock()

	if float64(depth) > 1.5*float64(s.poolSize) {
		s.logger.Warn("db pool waiting queue depth high", zap.Int("depth", depth), zap.Int("pool_size", s.poolSize))
	}

	defer func() {
		s.waitingMu.Lock()
		s.waiting--
		s.waitingMu.Unlock()
	}()

	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, errs.New(errs.KindDBTimeout, "acquire connection: timed out")
	}
}

func statementKind(query string) string {
	trimmed := strings.TrimSpace(query)
	if i := strings.IndexAny(trimmed, " \t\n("); i > 0 {
		trimmed = trimmed[:i]
	}
	return strings.ToUpper(trimmed)
}

func (s *Store) recordMetric(kind string, elapsed time.Duration) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()

	m, ok := s.metrics[kind]
	if !ok {
		m = &statementMetrics{}
		s.metrics[kind] = m
	}
	m.Count++
	m.TotalTime += elapsed
	if elapsed > slowQueryThreshold {
		m.SlowQueries++
	}
}

// RunQuery executes sql with params under breaker, pool, and retry
// protection, dispatching on mode. ModeCommit returns the number of rows
// affected; ModeFetchOne returns a single *sql.Row; ModeFetchAll returns
// *sql.Rows for the caller to scan. Fetch-mode callers must Close the
// result when done scanning; the pool slot and per-query timeout stay
// held until then.
func (s *Store) RunQuery(ctx context.Context, query string, args []any, mode Mode) (*QueryResult, error) {
	kind := statementKind(query)

	var result *QueryResult
	attempts := maxQueryAttempts

	for attempt := 0; attempt < attempts; attempt++ {
		if s.breaker.IsOpen() {
			return nil, errs.New(errs.KindDBUnavailable, "circuit breaker open, failing fast")
		}

		res, err := s.runOnce(ctx, query, kind, args, mode)
		if err == nil {
			result = res
			break
		}

		retryable, backoff := s.classifyAndBackoff(err, attempt)
		if !retryable || attempt == attempts-1 {
			return nil, err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return result, nil
}

func (s *Store) classifyAndBackoff(err error, attempt int) (retryable bool, backoff time.Duration) {
	// Timeouts back off one half-second step longer than pool exhaustion.
	if errs.Is(err, errs.KindDBTimeout) {
		return true, time.Duration(attempt+2) * 500 * time.Millisecond
	}
	if errs.Is(err, errs.KindDBPoolExhausted) {
		return true, time.Duration(attempt+1) * 500 * time.Millisecond
	}
	return false, 0
}

func (s *Store) runOnce(ctx context.Context, query, kind string, args []any, mode Mode) (*QueryResult, error) {
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, s.timeout)
	defer cancelAcquire()

	release, err := s.acquire(acquireCtx)
	if err != nil {
		s.breaker.RecordFailure()
		if len(s.sem) >= cap(s.sem) {
			return nil, errs.New(errs.KindDBPoolExhausted, "no connection available within timeout")
		}
		return nil, err
	}

	execCtx, cancelExec := context.WithTimeout(ctx, s.timeout)
	done := func() {
		cancelExec()
		release()
	}

	start := time.Now()
	var result QueryResult
	var execErr error

	switch mode {
	case ModeCommit:
		var res sql.Result
		res, execErr = s.db.ExecContext(execCtx, query, args...)
		if execErr == nil {
			result.RowsAffected, _ = res.RowsAffected()
		}
	case ModeFetchOne:
		result.Row = s.db.QueryRowContext(execCtx, query, args...)
	case ModeFetchAll:
		result.Rows, execErr = s.db.QueryContext(execCtx, query, args...)
	}

	elapsed := time.Since(start)
	s.recordMetric(kind, elapsed)
	if elapsed > slowQueryThreshold {
		s.logger.Warn("slow query", zap.String("statement_kind", kind), zap.Duration("elapsed", elapsed))
	}

	if execErr != nil {
		done()
		return nil, s.classifyExecError(execErr)
	}

	s.breaker.RecordSuccess()
	if mode == ModeCommit {
		done()
	} else {
		// Fetch modes hand Row/Rows to the caller; cancelling the query
		// context or freeing the pool slot now would kill the cursor
		// mid-scan, so both wait for QueryResult.Close.
		result.done = done
	}
	return &result, nil
}

func (s *Store) classifyExecError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		s.breaker.RecordFailure()
		return errs.Wrap(errs.KindDBTimeout, "query timed out", err)
	}
	if isConstraintViolation(err) {
		s.breaker.RecordFailure()
		return errs.Wrap(errs.KindDBConstraint, "constraint violation", err)
	}
	s.breaker.RecordFailure()
	return errs.Wrap(errs.KindDBUnavailable, "operational database error", err)
}

// isConstraintViolation does a pragmatic string match against lib/pq's
// error text; lib/pq exposes *pq.Error with a SQLSTATE code, but matching
// the common "duplicate key"/"violates" phrasing keeps this independent
// of importing the driver's error type directly at call sites.
func isConstraintViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "violates") ||
		strings.Contains(msg, "constraint")
}

// QueryResult carries whichever result shape a RunQuery mode produced.
type QueryResult struct {
	RowsAffected int64
	Row          *sql.Row
	Rows         *sql.Rows

	done func()
}

// Close releases the cursor, pool slot, and per-query timeout held by a
// fetch-mode result. Safe to call more than once and on commit-mode
// results.
func (r *QueryResult) Close() {
	if r.Rows != nil {
		r.Rows.Close()
	}
	if r.done != nil {
		r.done()
		r.done = nil
	}
}

// Statement is one (sql, params) pair in a transaction batch.
type Statement struct {
	SQL    string
	Params []any
}

// RunTransaction executes stmts sequentially under a single connection
// with autocommit off, rolling back on any failure and committing on
// success. Overall timeout is 2x the per-query timeout.
func (s *Store) RunTransaction(ctx context.Context, stmts []Statement) error {
	attempts := maxTxnAttempts

	for attempt := 0; attempt < attempts; attempt++ {
		if s.breaker.IsOpen() {
			return errs.New(errs.KindDBUnavailable, "circuit breaker open, failing fast")
		}

		err := s.runTransactionOnce(ctx, stmts)
		if err == nil {
			return nil
		}
		if errs.Is(err, errs.KindDBConstraint) {
			return err
		}

		retryable, backoff := s.classifyAndBackoff(err, attempt)
		if !retryable || attempt == attempts-1 {
			return err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (s *Store) runTransactionOnce(ctx context.Context, stmts []Statement) error {
	txnCtx, cancel := context.WithTimeout(ctx, 2*s.timeout)
	defer cancel()

	release, err := s.acquire(txnCtx)
	if err != nil {
		s.breaker.RecordFailure()
		return err
	}
	defer release()

	tx, err := s.db.BeginTx(txnCtx, nil)
	if err != nil {
		s.breaker.RecordFailure()
		return errs.Wrap(errs.KindTransactionFailed, "begin transaction", err)
	}

	for _, stmt := range stmts {
		kind := statementKind(stmt.SQL)
		start := time.Now()
		_, execErr := tx.ExecContext(txnCtx, stmt.SQL, stmt.Params...)
		s.recordMetric(kind, time.Since(start))

		if execErr != nil {
			_ = tx.Rollback()
			if isConstraintViolation(execErr) {
				s.breaker.RecordFailure()
				return errs.Wrap(errs.KindDBConstraint, "transaction statement violated a constraint", execErr)
			}
			s.breaker.RecordFailure()
			return errs.Wrap(errs.KindTransactionFailed, "transaction statement failed", execErr)
		}
	}

	if err := tx.Commit(); err != nil {
		s.breaker.RecordFailure()
		return errs.Wrap(errs.KindTransactionFailed, "commit transaction", err)
	}

	s.breaker.RecordSuccess()
	return nil
}

// StatementMetrics is an immutable snapshot of one statement kind's counters.
type StatementMetrics struct {
	Kind        string
	Count       int64
	TotalTime   time.Duration
	AvgTime     time.Duration
	SlowQueries int64
}

// PerformanceMetrics combines per-statement-kind counters with pool gauges
// and breaker state.
type PerformanceMetrics struct {
	Statements    []StatementMetrics
	PoolSize      int
	InUse         int
	Waiting       int
	BreakerState  resilience.State
}

// GetPerformanceMetrics snapshots the store's observability surface.
func (s *Store) GetPerformanceMetrics() PerformanceMetrics {
	s.metricsMu.Lock()
	statements := make([]StatementMetrics, 0, len(s.metrics))
	for kind, m := range s.metrics {
		avg := time.Duration(0)
		if m.Count > 0 {
			avg = m.TotalTime / time.Duration(m.Count)
		}
		statements = append(statements, StatementMetrics{
			Kind:        kind,
			Count:       m.Count,
			TotalTime:   m.TotalTime,
			AvgTime:     avg,
			SlowQueries: m.SlowQueries,
		})
	}
	s.metricsMu.Unlock()

	s.waitingMu.Lock()
	waiting := s.waiting
	s.waitingMu.Unlock()

	return PerformanceMetrics{
		Statements:   statements,
		PoolSize:     s.poolSize,
		InUse:        len(s.sem),
		Waiting:      waiting,
		BreakerState: s.breaker.State(),
	}
}

// DSN builds a lib/pq connection string from discrete fields.
func DSN(host, port, user, password, name string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, name)
}
