// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soothill/currentcost-logger/monitoring"
	"github.com/soothill/currentcost-logger/pkg/errors"
	"github.com/soothill/currentcost-logger/pkg/logger"
	"github.com/soothill/currentcost-logger/pkg/metrics"
)

const (
	// DefaultFailureThreshold is the consecutive failures that open the breaker
	DefaultFailureThreshold = 3

	// DefaultResetTimeout is how long the breaker stays open before probing
	DefaultResetTimeout = 60 * time.Second
)

// BreakerSink wraps a sink with a circuit breaker. While the breaker is
// open Deliver fails immediately, so a drain cycle during an outage costs
// nothing and the reading stays at the head of the buffer.
type BreakerSink struct {
	sink Sink
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerSink wraps sink. One successful probe in the half-open state
// closes the breaker again.
func NewBreakerSink(sink Sink, failureThreshold uint32, resetTimeout time.Duration) *BreakerSink {
	if failureThreshold == 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}

	name := sink.Name()
	metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(gobreaker.StateClosed))

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			logger.Warn().
				Str("sink", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Delivery circuit breaker state changed")
		},
	}

	return &BreakerSink{
		sink: sink,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Name returns the wrapped sink's name
func (b *BreakerSink) Name() string {
	return b.sink.Name()
}

// State returns the breaker state as "closed", "half-open" or "open"
func (b *BreakerSink) State() string {
	return b.cb.State().String()
}

// Deliver forwards to the wrapped sink unless the breaker is open
func (b *BreakerSink) Deliver(ctx context.Context, r monitoring.Reading) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.sink.Deliver(ctx, r)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.NewDeliveryError(b.sink.Name(), 0,
			fmt.Errorf("%w: %s", errors.ErrCircuitBreakerOpen, err.Error()))
	}
	return err
}

// Health delegates to the wrapped sink when it can probe its backend
func (b *BreakerSink) Health(ctx context.Context) error {
	if hc, ok := b.sink.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	if b.cb.State() == gobreaker.StateOpen {
		return errors.ErrCircuitBreakerOpen
	}
	return nil
}

// Close closes the wrapped sink
func (b *BreakerSink) Close() error {
	return b.sink.Close()
}
