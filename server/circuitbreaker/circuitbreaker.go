// Package circuitbreaker wraps sony/gobreaker with Prometheus metrics and
// structured logging for the per-provider breakers.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds configuration for the circuit breaker
type Config struct {
	Name             string
	MaxRequests      uint32        // Requests allowed through in half-open state
	Interval         time.Duration // Cyclic period of the closed state for clearing counts
	Timeout          time.Duration // Period of the open state before half-open
	FailureThreshold uint32        // Consecutive failures that trip the breaker
	TestMode         bool          // Skip metric registration in test mode
}

// CircuitBreaker guards calls to a single provider.
type CircuitBreaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger

	stateGauge    prometheus.Gauge
	failuresCount prometheus.Counter
	tripsTotal    prometheus.Counter
}

// NewCircuitBreaker creates a breaker and registers its metrics on registry
// unless TestMode is set or registry is nil.
func NewCircuitBreaker(config Config, logger *zap.Logger, registry *prometheus.Registry) (*CircuitBreaker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("circuit breaker name is required")
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}

	b := &CircuitBreaker{
		name:   config.Name,
		logger: logger,
	}

	labels := prometheus.Labels{"name": config.Name}
	b.stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "citegate_circuit_breaker_state",
		Help:        "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		ConstLabels: labels,
	})
	b.failuresCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "citegate_circuit_breaker_failures_total",
		Help:        "Total number of failures recorded by the circuit breaker",
		ConstLabels: labels,
	})
	b.tripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "citegate_circuit_breaker_trips_total",
		Help:        "Total number of times the circuit breaker has tripped",
		ConstLabels: labels,
	})

	if !config.TestMode && registry != nil {
		for _, c := range []prometheus.Collector{b.stateGauge, b.failuresCount, b.tripsTotal} {
			if err := registry.Register(c); err != nil {
				return nil, fmt.Errorf("register circuit breaker metrics: %w", err)
			}
		}
	}

	threshold := config.FailureThreshold
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful:  isSuccessful,
		OnStateChange: b.onStateChange,
	})

	return b, nil
}

func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	b.stateGauge.Set(float64(to))
	if to == gobreaker.StateOpen {
		b.tripsTotal.Inc()
		b.logger.Warn("Circuit breaker tripped",
			zap.String("name", name),
			zap.String("from", from.String()),
		)
		return
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Execute runs f if the breaker admits the request. When the breaker is open
// it returns gobreaker.ErrOpenState (or ErrTooManyRequests in half-open)
// without calling f.
func (b *CircuitBreaker) Execute(f func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		if err := f(); err != nil {
			b.failuresCount.Inc()
			return nil, err
		}
		return nil, nil
	})
	return err
}

// ExecuteContext runs f like Execute, passing ctx through. A failure that
// happens once ctx has ended belongs to the caller, not to the guarded
// service, and is not counted against the breaker. A ctx that has already
// ended is returned without consulting the breaker.
func (b *CircuitBreaker) ExecuteContext(ctx context.Context, f func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		err := f(ctx)
		if err == nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, &abandonedError{err: err}
		}
		b.failuresCount.Inc()
		return nil, err
	})

	var abandoned *abandonedError
	if errors.As(err, &abandoned) {
		return abandoned.err
	}
	return err
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the request counts of the current generation.
func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string {
	return b.name
}
