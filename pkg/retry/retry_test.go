package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteSucceedsFirstTry(t *testing.T) {
	p := NewPolicy(3, time.Millisecond)
	calls := 0

	err := p.Execute(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	p := NewPolicy(3, time.Millisecond)
	calls := 0

	err := p.Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	p := NewPolicy(3, time.Millisecond)
	calls := 0
	boom := errors.New("boom")

	err := p.Execute(context.Background(), func() error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, boom)
}

func TestExecuteWithConditionStopsOnFatal(t *testing.T) {
	p := NewPolicy(5, time.Millisecond)
	calls := 0
	fatal := errors.New("fatal")

	err := p.ExecuteWithCondition(context.Background(), func() error {
		calls++
		return fatal
	}, func(error) bool { return false })

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors return immediately")
	assert.ErrorIs(t, err, fatal)
}

func TestZeroAttemptsStillRunsOnce(t *testing.T) {
	p := NewPolicy(0, 0)
	calls := 0
	boom := errors.New("boom")

	err := p.ExecuteWithCondition(context.Background(), func() error {
		calls++
		return boom
	}, func(error) bool { return true })

	require.Error(t, err)
	assert.Equal(t, 1, calls, "the operation is attempted even with a zero bound")
	assert.ErrorIs(t, err, boom)
	assert.NotContains(t, err.Error(), "%!w")
}

func TestZeroValuePolicyRunsOnce(t *testing.T) {
	p := &Policy{}
	calls := 0

	err := p.Execute(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteRespectsContext(t *testing.T) {
	p := NewPolicy(10, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Execute(ctx, func() error { return errors.New("transient") })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayGrowsAndCaps(t *testing.T) {
	p := &Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, time.Second, p.GetDelay(0))
	assert.Equal(t, 2*time.Second, p.GetDelay(1))
	assert.Equal(t, 4*time.Second, p.GetDelay(2))
	assert.Equal(t, 4*time.Second, p.GetDelay(3), "delay is capped at MaxDelay")
}

func TestDelayJitterStaysInRange(t *testing.T) {
	p := DefaultPolicy()

	for i := 0; i < 50; i++ {
		d := p.GetDelay(0)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestNoRetryPolicy(t *testing.T) {
	p := NoRetryPolicy()
	calls := 0

	err := p.Execute(context.Background(), func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
