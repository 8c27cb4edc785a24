package resilience_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildforge/backbone/pkg/resilience"
)

func TestBreakerCreation(t *testing.T) {
	t.Run("starts closed", func(t *testing.T) {
		b := resilience.NewBreaker(resilience.Config{
			Name:        "test",
			MaxFailures: 3,
			Timeout:     time.Second,
			HalfOpenMax: 2,
		})

		assert.NotNil(t, b)
		assert.Equal(t, resilience.StateClosed, b.State())
	})
}

func TestBreakerClosed(t *testing.T) {
	t.Run("allows requests while closed", func(t *testing.T) {
		b := resilience.NewBreaker(resilience.Config{MaxFailures: 3, Timeout: time.Second})

		err := b.Execute(context.Background(), func() error { return nil })

		assert.NoError(t, err)
		assert.Equal(t, resilience.StateClosed, b.State())
	})

	t.Run("tracks failures", func(t *testing.T) {
		b := resilience.NewBreaker(resilience.Config{MaxFailures: 3, Timeout: time.Second})

		b.Execute(context.Background(), func() error { return errors.New("failure") })

		assert.Equal(t, 1, b.Failures())
		assert.Equal(t, resilience.StateClosed, b.State())
	})
}

func TestBreakerOpen(t *testing.T) {
	t.Run("opens after max failures", func(t *testing.T) {
		b := resilience.NewBreaker(resilience.Config{MaxFailures: 3, Timeout: time.Second})

		for i := 0; i < 3; i++ {
			b.Execute(context.Background(), func() error { return errors.New("failure") })
		}

		assert.Equal(t, resilience.StateOpen, b.State())
	})

	t.Run("rejects requests while open without calling fn", func(t *testing.T) {
		b := resilience.NewBreaker(resilience.Config{MaxFailures: 1, Timeout: time.Second})
		b.Execute(context.Background(), func() error { return errors.New("failure") })

		called := false
		err := b.Execute(context.Background(), func() error {
			called = true
			return nil
		})

		assert.Equal(t, resilience.ErrCircuitOpen, err)
		assert.False(t, called)
	})
}

func TestBreakerHalfOpen(t *testing.T) {
	t.Run("transitions to half-open after timeout and closes on success", func(t *testing.T) {
		b := resilience.NewBreaker(resilience.Config{MaxFailures: 1, Timeout: 100 * time.Millisecond, HalfOpenMax: 2})

		b.Execute(context.Background(), func() error { return errors.New("failure") })
		assert.Equal(t, resilience.StateOpen, b.State())

		time.Sleep(150 * time.Millisecond)

		for i := 0; i < 2; i++ {
			err := b.Execute(context.Background(), func() error { return nil })
			assert.NoError(t, err)
		}

		assert.Equal(t, resilience.StateClosed, b.State())
	})

	t.Run("re-opens on failure during half-open probe", func(t *testing.T) {
		b := resilience.NewBreaker(resilience.Config{MaxFailures: 1, Timeout: 100 * time.Millisecond, HalfOpenMax: 2})

		b.Execute(context.Background(), func() error { return errors.New("failure") })
		time.Sleep(150 * time.Millisecond)

		b.Execute(context.Background(), func() error { return errors.New("failure again") })

		assert.Equal(t, resilience.StateOpen, b.State())
	})
}

func TestBreakerResetAndForceOpen(t *testing.T) {
	t.Run("reset returns to closed", func(t *testing.T) {
		b := resilience.NewBreaker(resilience.Config{MaxFailures: 1, Timeout: time.Second})
		b.Execute(context.Background(), func() error { return errors.New("failure") })
		assert.Equal(t, resilience.StateOpen, b.State())

		b.Reset()

		assert.Equal(t, resilience.StateClosed, b.State())
		assert.Equal(t, 0, b.Failures())
	})

	t.Run("force open bypasses failure threshold", func(t *testing.T) {
		b := resilience.NewBreaker(resilience.Config{MaxFailures: 10, Timeout: time.Second})
		b.ForceOpen()
		assert.Equal(t, resilience.StateOpen, b.State())
	})
}

func TestBreakerStateChangeCallback(t *testing.T) {
	t.Run("invokes callback on every transition", func(t *testing.T) {
		var mu sync.Mutex
		changes := make([]resilience.State, 0)

		b := resilience.NewBreaker(resilience.Config{
			MaxFailures: 1,
			Timeout:     100 * time.Millisecond,
			OnStateChange: func(from, to resilience.State) {
				mu.Lock()
				changes = append(changes, to)
				mu.Unlock()
			},
		})

		b.Execute(context.Background(), func() error { return errors.New("failure") })
		time.Sleep(150 * time.Millisecond)
		b.Execute(context.Background(), func() error { return nil })

		mu.Lock()
		defer mu.Unlock()
		assert.Contains(t, changes, resilience.StateOpen)
	})
}

func TestBreakerConcurrency(t *testing.T) {
	t.Run("handles concurrent execute calls safely", func(t *testing.T) {
		b := resilience.NewBreaker(resilience.Config{MaxFailures: 100, Timeout: time.Second, HalfOpenMax: 10})

		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				b.Execute(context.Background(), func() error {
					if n%2 == 0 {
						return errors.New("failure")
					}
					return nil
				})
			}(i)
		}
		wg.Wait()
	})
}

func TestBreakerGroup(t *testing.T) {
	t.Run("creates a breaker on first access and reuses it", func(t *testing.T) {
		group := resilience.NewBreakerGroup(resilience.Config{MaxFailures: 3, Timeout: time.Second})

		b1 := group.Get("db")
		b2 := group.Get("db")

		assert.Same(t, b1, b2)
	})

	t.Run("tracks independent states per service", func(t *testing.T) {
		group := resilience.NewBreakerGroup(resilience.Config{MaxFailures: 1, Timeout: time.Second})

		group.Get("db")
		group.Get("chat-platform")
		group.Execute(context.Background(), "db", func() error { return errors.New("failure") })

		states := group.States()
		assert.Len(t, states, 2)
		assert.Equal(t, resilience.StateOpen, states["db"])
		assert.Equal(t, resilience.StateClosed, states["chat-platform"])
	})

	t.Run("handles concurrent Get for the same name", func(t *testing.T) {
		group := resilience.NewBreakerGroup(resilience.Config{MaxFailures: 3, Timeout: time.Second})

		var wg sync.WaitGroup
		breakers := make([]*resilience.Breaker, 100)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				breakers[idx] = group.Get("shared")
			}(i)
		}
		wg.Wait()

		for i := 1; i < 100; i++ {
			assert.Same(t, breakers[0], breakers[i])
		}
	})
}
