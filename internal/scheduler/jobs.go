package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Core job names. Feature-module bodies are supplied by the host via
// RegisterCoreJobs runners; this package owns only the trigger, bucket,
// and locking contract, not the feature logic itself.
const (
	JobEpicItemsScrape = "epic_items_scrape"
	JobContractsDelete = "contracts_delete"
	JobRosterUpdate    = "roster_update"
	JobEventsCreate    = "events_create"
	JobEventsReminder  = "events_reminder"
	JobEventsDelete    = "events_delete"
	JobEventsClose     = "events_close"
	JobAttendanceCheck = "attendance_check"
	JobWishlistUpdate  = "wishlist_update"
)

// atLocalTime fires once per minute that matches HH:MM for any of times.
func atLocalTime(times ...[2]int) func(time.Time) bool {
	return func(t time.Time) bool {
		h, m := t.Hour(), t.Minute()
		for _, hm := range times {
			if h == hm[0] && m == hm[1] {
				return true
			}
		}
		return false
	}
}

// every5Minutes fires on every minute boundary divisible by 5.
func every5Minutes(t time.Time) bool {
	return t.Minute()%5 == 0
}

// minuteBucket is the HH:MM dedup bucket used by most jobs.
func minuteBucket(t time.Time) string {
	return t.Format("15:04")
}

// fiveMinuteBucket is the HH:MM:floor(minute/5) dedup bucket used by the
// every-5-minute jobs, where MM is the first minute of the 5-minute window,
// so every minute of one window maps to the same bucket.
func fiveMinuteBucket(t time.Time) string {
	window := t.Minute() / 5
	return fmt.Sprintf("%02d:%02d:%d", t.Hour(), window*5, window)
}

// JobRunner is the feature-module body the host wires for a named job.
// RegisterCoreJobs wraps it so an unregistered runner is a safe no-op:
// a warning is logged at registration and the job still fires, running
// an empty body that counts as a success.
type JobRunner func(ctx context.Context, s *Scheduler) error

// RegisterCoreJobs registers the fixed job table against s, dispatching
// each job's Run to runners[name] when present. A missing
// runner logs at registration time and the job becomes a permanent no-op
// until the host restarts with that runner wired; this package never
// grows or shrinks the job table at runtime.
func RegisterCoreJobs(s *Scheduler, runners map[string]JobRunner) {
	table := []struct {
		name   string
		fires  func(time.Time) bool
		bucket func(time.Time) string
	}{
		{JobEpicItemsScrape, atLocalTime([2]int{3, 30}), minuteBucket},
		{JobContractsDelete, atLocalTime([2]int{6, 30}), minuteBucket},
		{JobRosterUpdate, atLocalTime([2]int{5, 0}, [2]int{11, 0}, [2]int{17, 0}, [2]int{23, 0}), minuteBucket},
		{JobEventsCreate, atLocalTime([2]int{12, 0}), minuteBucket},
		{JobEventsReminder, atLocalTime([2]int{13, 0}, [2]int{18, 0}), minuteBucket},
		{JobEventsDelete, atLocalTime([2]int{23, 30}, [2]int{4, 30}), minuteBucket},
		{JobEventsClose, every5Minutes, fiveMinuteBucket},
		{JobAttendanceCheck, every5Minutes, fiveMinuteBucket},
		{JobWishlistUpdate, atLocalTime([2]int{9, 0}, [2]int{22, 0}), minuteBucket},
	}

	for _, entry := range table {
		name := entry.name
		runner, ok := runners[name]
		if !ok {
			s.logger.Warn("no runner wired for core scheduler job, registering a no-op", zap.String("job", name))
			runner = func(ctx context.Context, s *Scheduler) error { return nil }
		}

		s.Register(Job{
			Name:   name,
			Fires:  entry.fires,
			Bucket: entry.bucket,
			Run: func(ctx context.Context) error {
				return runner(ctx, s)
			},
		})
	}
}
