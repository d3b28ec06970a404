package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCircuitBreaker(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := prometheus.NewRegistry()

	newCB := func() (*CircuitBreaker, error) {
		return NewCircuitBreaker(Config{
			Name:             "test",
			MaxRequests:      1,
			Interval:         time.Second,
			Timeout:          100 * time.Millisecond,
			FailureThreshold: 2,
			TestMode:         true,
		}, logger, registry)
	}

	t.Run("Initially Closed", func(t *testing.T) {
		cb, err := newCB()
		require.NoError(t, err)
		assert.Equal(t, gobreaker.StateClosed, cb.State())
	})

	t.Run("Opens After Failures", func(t *testing.T) {
		cb, err := newCB()
		require.NoError(t, err)

		err = cb.Execute(func() error { return errors.New("error 1") })
		assert.Error(t, err)
		assert.Equal(t, gobreaker.StateClosed, cb.State())

		err = cb.Execute(func() error { return errors.New("error 2") })
		assert.Error(t, err)
		assert.Equal(t, gobreaker.StateOpen, cb.State())

		called := false
		err = cb.Execute(func() error {
			called = true
			return nil
		})
		assert.Error(t, err)
		assert.False(t, called)
		assert.Equal(t, "circuit breaker is open", err.Error())
		assert.True(t, IsRejected(err))
	})

	t.Run("Transitions to Half-Open", func(t *testing.T) {
		cb, err := newCB()
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			assert.Error(t, cb.Execute(func() error { return errors.New("failure") }))
		}
		assert.Equal(t, gobreaker.StateOpen, cb.State())

		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

		err = cb.Execute(func() error { return errors.New("failure in half-open") })
		assert.Error(t, err)
		assert.False(t, IsRejected(err))
		assert.Equal(t, gobreaker.StateOpen, cb.State())
	})

	t.Run("Closes After Success", func(t *testing.T) {
		cb, err := newCB()
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			assert.Error(t, cb.Execute(func() error { return errors.New("failure") }))
		}
		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

		assert.NoError(t, cb.Execute(func() error { return nil }))
		assert.Equal(t, gobreaker.StateClosed, cb.State())
	})

	t.Run("Maintains Failure Count", func(t *testing.T) {
		cb, err := newCB()
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_ = cb.Execute(func() error {
				if i%2 == 1 {
					return errors.New("failure")
				}
				return nil
			})
		}

		counts := cb.Counts()
		assert.Equal(t, uint32(3), counts.Requests)
		assert.Equal(t, uint32(1), counts.TotalFailures)
	})

	t.Run("Requires Name", func(t *testing.T) {
		_, err := NewCircuitBreaker(Config{}, logger, registry)
		assert.Error(t, err)
	})
}

func TestCircuitBreakerMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	cb, err := NewCircuitBreaker(Config{
		Name:             "gemini",
		MaxRequests:      1,
		Timeout:          time.Minute,
		FailureThreshold: 1,
	}, zaptest.NewLogger(t), registry)
	require.NoError(t, err)

	_ = cb.Execute(func() error { return errors.New("boom") })

	assert.Equal(t, float64(1), testutil.ToFloat64(cb.failuresCount))
	assert.Equal(t, float64(1), testutil.ToFloat64(cb.tripsTotal))
	assert.Equal(t, float64(gobreaker.StateOpen), testutil.ToFloat64(cb.stateGauge))

	// A second breaker with the same name cannot register the same series.
	_, err = NewCircuitBreaker(Config{Name: "gemini"}, zaptest.NewLogger(t), registry)
	assert.Error(t, err)
}

func TestExecuteContextIgnoresCallerCancellation(t *testing.T) {
	cb, err := NewCircuitBreaker(Config{
		Name:             "ctx",
		MaxRequests:      1,
		Timeout:          time.Minute,
		FailureThreshold: 2,
		TestMode:         true,
	}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		called := false
		err := cb.ExecuteContext(cancelled, func(context.Context) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called, "an ended context never reaches the service")
	}

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		err := cb.ExecuteContext(ctx, func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, IsRejected(err))
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().ConsecutiveFailures)
	assert.Equal(t, float64(0), testutil.ToFloat64(cb.failuresCount))

	// Real failures under a live context still trip it.
	for i := 0; i < 2; i++ {
		_ = cb.ExecuteContext(context.Background(), func(context.Context) error {
			return errors.New("upstream down")
		})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}
