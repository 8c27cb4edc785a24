// Package events defines the payload shapes published on the coordination
// backbone's event bus. These are observability events: external feature
// modules and dashboards may subscribe to them, but nothing in this module
// blocks on a subscriber receiving one.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Subjects used on the event bus.
const (
	SubjectCacheInvalidated  = "cache.invalidated"
	SubjectCacheCategoryLoad = "cache.category_loaded"
	SubjectJobCompleted      = "scheduler.job_completed"
	SubjectBreakerStateChange = "resilience.breaker_state_changed"
	SubjectRateLimitTripped  = "ratelimit.tripped"
)

// Metadata carries correlation information common to all events.
type Metadata struct {
	CorrelationID string    `json:"correlation_id"`
	Source        string    `json:"source"`
	EmittedAt     time.Time `json:"emitted_at"`
}

// BaseEvent is the envelope wrapping a typed payload.
type BaseEvent struct {
	ID       uuid.UUID       `json:"id"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
}

// CacheInvalidationEvent reports a category invalidation sweep.
type CacheInvalidationEvent struct {
	Category     string `json:"category"`
	Cause        string `json:"cause"` // "direct", "cascade"
	EntriesCleared int  `json:"entries_cleared"`
}

// CacheCategoryLoadEvent reports a cache-loader category (re)load.
type CacheCategoryLoadEvent struct {
	Category    string `json:"category"`
	RowCount    int    `json:"row_count"`
	DurationMS  int64  `json:"duration_ms"`
	Err         string `json:"error,omitempty"`
}

// JobExecutionEvent reports one scheduler job run.
type JobExecutionEvent struct {
	JobName    string `json:"job_name"`
	Bucket     string `json:"bucket"`
	DurationMS int64  `json:"duration_ms"`
	Succeeded  bool   `json:"succeeded"`
	Err        string `json:"error,omitempty"`
}

// BreakerStateChangeEvent reports a resilience circuit breaker transition.
type BreakerStateChangeEvent struct {
	Service string `json:"service"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// RateLimitTrippedEvent reports a rate-limit rejection, useful for
// dashboards tracking abusive command usage.
type RateLimitTrippedEvent struct {
	Command string `json:"command"`
	Scope   string `json:"scope"`
	Remaining float64 `json:"remaining_seconds"`
}

// NewEvent wraps a typed payload into a BaseEvent envelope.
func NewEvent(eventType string, data interface{}, source string) (*BaseEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &BaseEvent{
		ID:   uuid.New(),
		Type: eventType,
		Data: raw,
		Metadata: Metadata{
			CorrelationID: uuid.NewString(),
			Source:        source,
			EmittedAt:     time.Now(),
		},
	}, nil
}

// ParseData unmarshals the envelope's payload into v.
func (e *BaseEvent) ParseData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}
