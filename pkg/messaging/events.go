package messaging

import (
	"context"
	"fmt"

	"github.com/guildforge/backbone/shared/events"
)

// PublishCacheInvalidation announces a category sweep on the event bus.
// Failure is logged by the caller, never surfaced; publish is best-effort.
func (c *Client) PublishCacheInvalidation(ctx context.Context, payload events.CacheInvalidationEvent) error {
	return c.publishEnvelope(ctx, events.SubjectCacheInvalidated, payload)
}

// PublishCacheCategoryLoad announces a cache-loader category (re)load.
func (c *Client) PublishCacheCategoryLoad(ctx context.Context, payload events.CacheCategoryLoadEvent) error {
	return c.publishEnvelope(ctx, events.SubjectCacheCategoryLoad, payload)
}

// PublishJobExecution announces one scheduler job run.
func (c *Client) PublishJobExecution(ctx context.Context, payload events.JobExecutionEvent) error {
	return c.publishEnvelope(ctx, events.SubjectJobCompleted, payload)
}

// PublishBreakerStateChange announces a circuit breaker transition.
func (c *Client) PublishBreakerStateChange(ctx context.Context, payload events.BreakerStateChangeEvent) error {
	return c.publishEnvelope(ctx, events.SubjectBreakerStateChange, payload)
}

// PublishRateLimitTripped announces a rate-limit rejection.
func (c *Client) PublishRateLimitTripped(ctx context.Context, payload events.RateLimitTrippedEvent) error {
	return c.publishEnvelope(ctx, events.SubjectRateLimitTripped, payload)
}

func (c *Client) publishEnvelope(ctx context.Context, subject string, payload interface{}) error {
	env, err := events.NewEvent(subject, payload, "backbone")
	if err != nil {
		return fmt.Errorf("encode event envelope: %w", err)
	}
	return c.PublishAsync(ctx, subject, env)
}
