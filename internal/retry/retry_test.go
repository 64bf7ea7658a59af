package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Default(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	cfg := Config{MaxRetries: 3, BaseDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 10 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	cfg := Config{MaxRetries: 2, BaseDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 10 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	var retryErr *Error
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 3, retryErr.Attempts)
}

func TestDo_AbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Default(), func(ctx context.Context) error {
		t.Fatal("fn should not be called with an already-cancelled context")
		return nil
	})
	require.Error(t, err)
}

func TestConfig_DelayClampsToMaxDelay(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, BackoffFactor: 10, MaxDelay: 2 * time.Second, JitterFraction: 0}
	d := cfg.Delay(5)
	assert.Equal(t, 2*time.Second, d)
}
