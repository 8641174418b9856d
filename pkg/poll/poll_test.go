package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{Interval: time.Millisecond, Timeout: 200 * time.Millisecond}
}

func TestUntilImmediate(t *testing.T) {
	calls := 0
	err := Until(context.Background(), fastOptions(), func() (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestUntilEventually(t *testing.T) {
	calls := 0
	err := Until(context.Background(), fastOptions(), func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestUntilTimeout(t *testing.T) {
	opts := Options{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}
	err := Until(context.Background(), opts, func() (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestUntilConditionError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Until(context.Background(), fastOptions(), func() (bool, error) {
		calls++
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, calls)
}

func TestUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{Interval: 10 * time.Millisecond, Timeout: time.Minute}
	calls := 0
	err := Until(ctx, opts, func() (bool, error) {
		calls++
		cancel()
		return false, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultOptions(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultOptions(), o)
}
