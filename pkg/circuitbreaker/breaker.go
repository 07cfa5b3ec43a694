// Package circuitbreaker wraps sony/gobreaker with observability for
// calls to the device notification gateway.
package circuitbreaker

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies this circuit breaker
	Name string
	// MaxRequests is the max requests allowed in half-open state
	MaxRequests uint32
	// Interval is the cyclic period in closed state to clear counts
	Interval time.Duration
	// Timeout is how long the breaker stays open before half-open
	Timeout time.Duration
	// FailureThreshold is the consecutive failures to trip the breaker
	FailureThreshold uint32
	// FailureRatio is the failure ratio to trip the breaker
	FailureRatio float64
	// MinRequests is the minimum requests before the ratio applies
	MinRequests uint32
}

// DefaultConfig returns settings tuned for the device gateway, which is
// slow to recover and cheap to retry on the next sweep.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// CircuitBreaker wraps gobreaker with logging and metrics
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger

	stateGauge     metric.Int64ObservableGauge
	requestCounter metric.Int64Counter
	failureCounter metric.Int64Counter
	tripCounter    metric.Int64Counter
}

// New creates a circuit breaker with the given configuration
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := &CircuitBreaker{
		name:   cfg.Name,
		logger: logger,
	}

	if err := breaker.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			if counts.Requests >= cfg.MinRequests {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: breaker.onStateChange,
	}

	breaker.cb = gobreaker.NewCircuitBreaker(settings)
	return breaker, nil
}

func (b *CircuitBreaker) initMetrics() error {
	meter := otel.Meter("circuitbreaker")

	var err error
	b.stateGauge, err = meter.Int64ObservableGauge(
		"circuit_breaker_state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=half-open, 2=open)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.cb.State()), metric.WithAttributes(attribute.String("breaker", b.name)))
			return nil
		}),
	)
	if err != nil {
		return err
	}

	b.requestCounter, err = meter.Int64Counter(
		"circuit_breaker_requests_total",
		metric.WithDescription("Total requests through the circuit breaker"),
	)
	if err != nil {
		return err
	}

	b.failureCounter, err = meter.Int64Counter(
		"circuit_breaker_failures_total",
		metric.WithDescription("Total failures through the circuit breaker"),
	)
	if err != nil {
		return err
	}

	b.tripCounter, err = meter.Int64Counter(
		"circuit_breaker_trips_total",
		metric.WithDescription("Total times the circuit breaker tripped open"),
	)
	return err
}

func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	b.logger.Warn("circuit breaker state change",
		zap.String("breaker", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))

	if to == gobreaker.StateOpen {
		b.tripCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("breaker", name)))
	}
}

// Execute runs the given function through the circuit breaker
func (b *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	attrs := metric.WithAttributes(attribute.String("breaker", b.name))
	b.requestCounter.Add(ctx, 1, attrs)

	result, err := b.cb.Execute(fn)
	if err != nil {
		b.failureCounter.Add(ctx, 1, attrs)
		return nil, err
	}
	return result, nil
}

// ExecuteWithFallback runs fn through the breaker, invoking fallback when
// the breaker is open or the call fails
func (b *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func() (interface{}, error), fallback func(error) (interface{}, error)) (interface{}, error) {
	result, err := b.Execute(ctx, fn)
	if err != nil && fallback != nil {
		return fallback(err)
	}
	return result, err
}

// GetState returns the current breaker state
func (b *CircuitBreaker) GetState() gobreaker.State {
	return b.cb.State()
}

// IsOpen reports whether the breaker is currently rejecting requests
func (b *CircuitBreaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Counts returns the current breaker counters
func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
