package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildforge/backbone/internal/cache"
)

type recordingWriter struct {
	mu     sync.Mutex
	points []*write.Point
}

func (r *recordingWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, point...)
	return nil
}

func (r *recordingWriter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.points))
	for i, p := range r.points {
		names[i] = p.Name()
	}
	return names
}

func TestFlushSkipsNilSources(t *testing.T) {
	w := &recordingWriter{}
	e := New("", "", "", "", Sources{})
	e.writer = w // force-enable despite empty url, exercising the skip logic directly

	e.Flush(context.Background())
	assert.Empty(t, w.names())
}

func TestFlushWritesACachePointWhenCacheIsWired(t *testing.T) {
	w := &recordingWriter{}
	c := cache.New()
	c.Get(cache.CategoryGuildData, int64(1)) // one miss, so hit_rate is exercised

	e := New("", "", "", "", Sources{Cache: c})
	e.writer = w

	e.Flush(context.Background())
	require.Len(t, w.names(), 1)
	assert.Equal(t, "cache", w.names()[0])
}

func TestDisabledExporterNeverWrites(t *testing.T) {
	c := cache.New()
	e := New("", "", "", "", Sources{Cache: c})
	// writer is nil because url was empty; Flush must be a safe no-op.
	assert.NotPanics(t, func() { e.Flush(context.Background()) })
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	w := &recordingWriter{}
	c := cache.New()
	e := New("", "", "", "", Sources{Cache: c}, WithInterval(10*time.Millisecond))
	e.writer = w

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.NotEmpty(t, w.names())
}
