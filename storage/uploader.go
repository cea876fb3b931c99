// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"time"

	"github.com/soothill/currentcost-logger/pkg/logger"
	"github.com/soothill/currentcost-logger/pkg/metrics"
)

const (
	// DefaultDrainBudget bounds how long one drain cycle may hold the loop
	DefaultDrainBudget = 5 * time.Second

	alertTimeout = 5 * time.Second
)

// Uploader moves readings from the buffer to the sink in order
type Uploader struct {
	buffer   *ReadingBuffer
	sink     Sink
	budget   time.Duration
	notifier Notifier
	now      func() time.Time

	// failing is true between the first failed delivery and the next success
	failing bool
}

// NewUploader creates an uploader. notifier may be nil.
func NewUploader(buffer *ReadingBuffer, sink Sink, budget time.Duration, notifier Notifier) *Uploader {
	if budget <= 0 {
		budget = DefaultDrainBudget
	}
	return &Uploader{
		buffer:   buffer,
		sink:     sink,
		budget:   budget,
		notifier: notifier,
		now:      time.Now,
	}
}

// Drain delivers queued readings oldest first until the buffer is empty,
// a delivery fails, or the time budget runs out. A failed reading goes
// back to the head of the buffer and Drain returns the delivery error at
// once.
//
// ctx is checked between deliveries only; a delivery in flight is never
// cut short, it ends on the sink's own timeout.
func (u *Uploader) Drain(ctx context.Context) (delivered int, err error) {
	start := u.now()
	stopAt := start.Add(u.budget)
	deliverCtx := context.WithoutCancel(ctx)

	defer func() {
		metrics.DrainDuration.Observe(u.now().Sub(start).Seconds())
		metrics.BufferLength.Set(float64(u.buffer.Len()))
	}()

	for u.now().Before(stopAt) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return delivered, ctxErr
		}

		queued := u.buffer.Len()
		if queued > 1 {
			logger.Info().Int("queued", queued).Msg("Readings in queue")
		} else {
			logger.Debug().Int("queued", queued).Msg("Readings in queue")
		}

		reading, ok := u.buffer.PopFront()
		if !ok {
			return delivered, nil
		}

		attemptStart := time.Now()
		deliverErr := u.sink.Deliver(deliverCtx, reading)
		metrics.DeliveryDuration.Observe(time.Since(attemptStart).Seconds())

		if deliverErr != nil {
			u.buffer.PushFront(reading)
			metrics.DeliveryErrors.WithLabelValues(u.sink.Name()).Inc()
			logger.Error().Err(deliverErr).
				Str("sink", u.sink.Name()).
				Time("reading_time", reading.Timestamp).
				Int("watts", reading.Watts).
				Int("queued", u.buffer.Len()).
				Msg("Delivery failed, will retry next cycle")
			u.markFailing(deliverCtx, deliverErr)
			return delivered, deliverErr
		}

		delivered++
		metrics.DeliveriesTotal.WithLabelValues(u.sink.Name()).Inc()
		u.markRecovered(deliverCtx)
	}

	logger.Debug().Dur("budget", u.budget).Int("delivered", delivered).
		Int("queued", u.buffer.Len()).Msg("Drain budget exhausted")
	return delivered, nil
}

// Failing reports whether the most recent delivery attempt failed
func (u *Uploader) Failing() bool {
	return u.failing
}

func (u *Uploader) markFailing(ctx context.Context, err error) {
	if u.failing {
		return
	}
	u.failing = true

	if u.notifier == nil || !u.notifier.IsEnabled() {
		return
	}
	alertCtx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	if notifyErr := u.notifier.SendDeliveryFailure(alertCtx, u.sink.Name(), err); notifyErr != nil {
		logger.Error().Err(notifyErr).Msg("Failed to send delivery failure alert")
	}
}

func (u *Uploader) markRecovered(ctx context.Context) {
	if !u.failing {
		return
	}
	u.failing = false
	logger.Info().Str("sink", u.sink.Name()).Int("queued", u.buffer.Len()).Msg("Delivery recovered")

	if u.notifier == nil || !u.notifier.IsEnabled() {
		return
	}
	alertCtx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	if notifyErr := u.notifier.SendDeliveryRecovery(alertCtx, u.sink.Name(), u.buffer.Len()); notifyErr != nil {
		logger.Error().Err(notifyErr).Msg("Failed to send delivery recovery alert")
	}
}
