package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildforge/backbone/pkg/resilience"
)

func TestRetrySucceedsEventually(t *testing.T) {
	r := resilience.NewRetry(3, time.Millisecond, 2.0, 10*time.Millisecond)

	attempts := 0
	err := r.Do(context.Background(), func(attempt int) error {
		attempts++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	r := resilience.NewRetry(3, time.Millisecond, 2.0, 10*time.Millisecond)

	attempts := 0
	err := r.Do(context.Background(), func(attempt int) error {
		attempts++
		return errors.New("always fails")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	r := resilience.NewRetry(5, 50*time.Millisecond, 2.0, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func(attempt int) error {
		attempts++
		return errors.New("fails")
	})

	assert.Error(t, err)
	assert.Less(t, attempts, 5)
}
