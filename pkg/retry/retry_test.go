package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	p := New(Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		func(error) bool { return true })

	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoReturnsNonTransientImmediately(t *testing.T) {
	attempts := 0
	wantErr := errors.New("permanent")
	p := New(DefaultConfig, func(error) bool { return false })

	err := p.Do(context.Background(), func() error {
		attempts++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, attempts)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(Config{MaxAttempts: 5, InitialBackoff: 10 * time.Millisecond, MaxBackoff: time.Second},
		func(error) bool { return true })

	err := p.Do(ctx, func() error { return errors.New("transient") })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	wantErr := errors.New("transient")
	p := New(Config{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		func(error) bool { return true })

	err := p.Do(context.Background(), func() error {
		attempts++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 2, attempts)
}
