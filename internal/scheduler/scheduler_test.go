package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New("UTC", opts...)
	require.NoError(t, err)
	return s
}

func TestTickRunsJobAtMostOncePerMinuteBucket(t *testing.T) {
	var runs int32
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := mustScheduler(t, WithClock(func() time.Time { return current }))

	s.Register(Job{
		Name:   "events_create",
		Fires:  atLocalTime([2]int{12, 0}),
		Bucket: minuteBucket,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	s.Tick(context.Background())
	s.Tick(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs), "two ticks in the same minute must fire once")

	current = current.Add(time.Minute)
	s.Tick(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs), "job is not due at 12:01")
}

func TestTickNeverRunsAJobConcurrentlyWithItself(t *testing.T) {
	current := time.Date(2026, 1, 1, 3, 30, 0, 0, time.UTC)
	s := mustScheduler(t, WithClock(func() time.Time { return current }))

	started := make(chan struct{})
	release := make(chan struct{})
	var overlap int32

	s.Register(Job{
		Name:   JobEpicItemsScrape,
		Fires:  atLocalTime([2]int{3, 30}),
		Bucket: minuteBucket,
		Run: func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
				atomic.AddInt32(&overlap, 1)
			}
			<-release
			return nil
		},
	})

	go s.Tick(context.Background())
	<-started
	// A second tick while the first run is still in flight must skip
	// (lock held), never block waiting for it.
	s.Tick(context.Background())
	close(release)

	assert.Equal(t, int32(0), atomic.LoadInt32(&overlap))
}

func TestExecuteWithMonitoringRecordsSuccessAndFailureCounts(t *testing.T) {
	current := time.Now()
	s := mustScheduler(t, WithClock(func() time.Time { return current }))

	calls := 0
	s.Register(Job{
		Name:   "flaky",
		Fires:  func(time.Time) bool { return true },
		Bucket: func(t time.Time) string { return t.Format(time.RFC3339) },
		Run: func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return assert.AnError
			}
			return nil
		},
	})

	s.Tick(context.Background())
	current = current.Add(time.Minute)
	s.Tick(context.Background())

	health := s.HealthStatus()
	m := health.JobMetrics["flaky"]
	assert.Equal(t, int64(1), m.Success)
	assert.Equal(t, int64(1), m.Failures)
}

func TestRunJobSafelyRecoversPanics(t *testing.T) {
	s := mustScheduler(t)
	err := s.runJobSafely(context.Background(), Job{
		Name: "panicky",
		Run: func(ctx context.Context) error {
			panic("boom")
		},
	})
	assert.Error(t, err)
}

func TestExecutionLogIsBoundedWithMonotonicSequence(t *testing.T) {
	s := mustScheduler(t)

	for i := 0; i < executionLogCapacity+10; i++ {
		s.appendExecution(ExecutionRecord{JobName: "filler"})
	}

	recent := s.RecentExecutions(0)
	require.Len(t, recent, executionLogCapacity, "ring must drop the oldest records")
	assert.Equal(t, uint64(executionLogCapacity+10), recent[0].Seq, "newest record comes first")
	for i := 1; i < len(recent); i++ {
		assert.Equal(t, recent[i-1].Seq-1, recent[i].Seq, "sequence numbers are contiguous and monotonic")
	}
}

func TestHealthStatusIncludesRecentRuns(t *testing.T) {
	current := time.Now()
	s := mustScheduler(t, WithClock(func() time.Time { return current }))

	s.Register(Job{
		Name:   "logged",
		Fires:  func(time.Time) bool { return true },
		Bucket: minuteBucket,
		Run:    func(ctx context.Context) error { return nil },
	})
	s.Tick(context.Background())

	health := s.HealthStatus()
	require.Len(t, health.RecentRuns, 1)
	assert.Equal(t, "logged", health.RecentRuns[0].JobName)
	assert.True(t, health.RecentRuns[0].Succeeded)
	assert.Equal(t, uint64(1), health.RecentRuns[0].Seq)
}

func TestFiveMinuteBucketDedupesWithinWindow(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 14, 5, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 1, 14, 9, 0, 0, time.UTC)
	t3 := time.Date(2026, 1, 1, 14, 10, 0, 0, time.UTC)

	assert.Equal(t, fiveMinuteBucket(t1), fiveMinuteBucket(t2))
	assert.NotEqual(t, fiveMinuteBucket(t1), fiveMinuteBucket(t3))
}

func TestFanOutRunsAllItemsUnderBoundedConcurrency(t *testing.T) {
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	var maxInFlight, inFlight int32
	err := FanOut(context.Background(), items, 3, 0, func(ctx context.Context, item int) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(3))
}

func TestRegisterCoreJobsNoOpsWhenRunnerMissing(t *testing.T) {
	s := mustScheduler(t)
	RegisterCoreJobs(s, map[string]JobRunner{})

	current := time.Date(2026, 1, 1, 3, 30, 0, 0, time.UTC)
	s2 := mustScheduler(t, WithClock(func() time.Time { return current }))
	RegisterCoreJobs(s2, map[string]JobRunner{})
	s2.Tick(context.Background())

	health := s2.HealthStatus()
	m := health.JobMetrics[JobEpicItemsScrape]
	assert.Equal(t, int64(1), m.Success, "no-op runner still counts as a successful tick")
}
