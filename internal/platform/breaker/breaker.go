// Package breaker wraps sony/gobreaker for calls to upstream systems.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var ErrOpen = errors.New("circuit open")

type Config struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	FailureRatio     float64
	MinRequests      uint32
}

// DefaultConfig suits the HIS endpoint: a nightly batch of a few hundred
// calls, so a handful of consecutive failures already means it is down.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// StateObserver receives state changes (0 closed, 1 open, 2 half-open).
type StateObserver interface {
	SetBreakerState(name string, state int)
}

type Breaker struct {
	cb       *gobreaker.CircuitBreaker
	name     string
	requests metric.Int64Counter
	rejected metric.Int64Counter
	failures metric.Int64Counter
}

func New(cfg Config, logger zerolog.Logger, obs StateObserver) (*Breaker, error) {
	meter := otel.Meter("casereview/breaker")
	b := &Breaker{name: cfg.Name}

	var err error
	if b.requests, err = meter.Int64Counter("circuit_breaker_requests_total",
		metric.WithDescription("Requests through the circuit breaker")); err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	if b.rejected, err = meter.Int64Counter("circuit_breaker_rejected_total",
		metric.WithDescription("Requests rejected while the circuit was open")); err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}
	if b.failures, err = meter.Int64Counter("circuit_breaker_failures_total",
		metric.WithDescription("Requests that failed upstream")); err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
			if obs != nil {
				obs.SetBreakerState(name, int(to))
			}
		},
		// Cancellation by the caller says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return b, nil
}

// Do runs fn through the breaker. An open circuit yields ErrOpen.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attrs := metric.WithAttributes(attribute.String("name", b.name))
	b.requests.Add(ctx, 1, attrs)

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.rejected.Add(ctx, 1, attrs)
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	default:
		b.failures.Add(ctx, 1, attrs)
		return err
	}
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
