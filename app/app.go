// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app runs the CurrentCost read loop and the process around it.
//
// App is the loop itself: read a telegram, parse it, queue the reading and
// run one drain cycle, over and over on a single goroutine. Service wires
// an App to its configuration, sink, status server, mDNS advertisement,
// systemd notifications and config reloads.
package app

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/soothill/currentcost-logger/monitoring"
	"github.com/soothill/currentcost-logger/pkg/errors"
	"github.com/soothill/currentcost-logger/pkg/logger"
	"github.com/soothill/currentcost-logger/pkg/metrics"
	"github.com/soothill/currentcost-logger/storage"
)

const alertContextTimeout = 5 * time.Second

// Notifier is the alerting surface the loop uses
type Notifier interface {
	storage.Notifier
	SendBufferOverflow(ctx context.Context, capacity int) error
	SendDeviceFailure(ctx context.Context, err error) error
}

// Options configures an App
type Options struct {
	BufferCapacity int
	DrainBudget    time.Duration
	Notifier       Notifier // may be nil
}

// App owns the line source, the reading buffer and the sink. Only the
// goroutine calling Run touches the buffer; other goroutines observe the
// loop through Snapshot.
type App struct {
	source   monitoring.LineSource
	sink     storage.Sink
	buffer   *storage.ReadingBuffer
	uploader *storage.Uploader
	notifier Notifier
	now      func() time.Time

	overflowAlerted bool

	// Published for Snapshot
	state       atomic.Int32
	queued      atomic.Int64
	evicted     atomic.Uint64
	failing     atomic.Bool
	lastReading atomic.Pointer[monitoring.Reading]
	startedAt   time.Time
}

// New creates an App. Run closes source and sink when it returns.
func New(source monitoring.LineSource, sink storage.Sink, opts Options) *App {
	buffer := storage.NewReadingBuffer(opts.BufferCapacity)

	a := &App{
		source:    source,
		sink:      sink,
		buffer:    buffer,
		uploader:  storage.NewUploader(buffer, sink, opts.DrainBudget, opts.Notifier),
		notifier:  opts.Notifier,
		now:       time.Now,
		startedAt: time.Now().UTC(),
	}
	a.setState(StateRunning)
	return a
}

// Run reads telegrams until ctx is cancelled or a fatal condition occurs.
//
// Cancellation is a clean shutdown and returns nil; readings still queued
// are discarded. A device timeout, a malformed telegram or a device I/O
// error ends the loop and is returned. Either way the sink is closed
// before Run returns.
func (a *App) Run(ctx context.Context) error {
	defer a.stop()

	logger.Info().
		Str("sink", a.sink.Name()).
		Int("buffer_capacity", a.buffer.Cap()).
		Msg("Read loop started")

	for {
		err := a.step(ctx)
		if ctx.Err() != nil {
			logger.Info().Int("discarded", a.buffer.Len()).Msg("Shutdown requested, stopping read loop")
			return nil
		}
		if err != nil {
			logger.Error().Err(err).Msg("Read loop stopped on fatal error")
			a.alertDeviceFailure(err)
			return err
		}
	}
}

// step handles one line from the source
func (a *App) step(ctx context.Context) error {
	line, err := a.source.ReadLine(ctx)
	if err != nil {
		if ctx.Err() == nil {
			metrics.TelegramsTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	telegram, watts, ok, err := monitoring.Decode(line)
	if err != nil {
		if errors.Is(err, errors.ErrDeviceTimeout) {
			metrics.TelegramsTotal.WithLabelValues("timeout").Inc()
		} else {
			metrics.TelegramsTotal.WithLabelValues("malformed").Inc()
		}
		return err
	}

	if celsius, hasTemp := telegram.TemperatureCelsius(); hasTemp {
		metrics.DeviceTemperature.Set(celsius)
	}

	if !ok {
		metrics.TelegramsTotal.WithLabelValues("ignored").Inc()
		logger.Debug().Str("line", line).Msg("Ignoring telegram without a live power reading")
		return nil
	}

	metrics.TelegramsTotal.WithLabelValues("reading").Inc()
	a.enqueue(monitoring.NewReading(a.now(), watts))
	a.drain(ctx)
	return nil
}

func (a *App) enqueue(r monitoring.Reading) {
	if a.buffer.PushBack(r) {
		metrics.BufferEvictions.Inc()
		logger.Warn().
			Int("capacity", a.buffer.Cap()).
			Uint64("evicted_total", a.buffer.Evicted()).
			Msg("Reading buffer full, discarded the oldest reading")
		a.alertOverflow()
	}

	metrics.ReadingsQueued.Inc()
	metrics.CurrentPower.Set(float64(r.Watts))
	metrics.BufferLength.Set(float64(a.buffer.Len()))
	a.lastReading.Store(&r)

	logger.Debug().Int("watts", r.Watts).Time("timestamp", r.Timestamp).Msg("Reading queued")
	a.publish()
}

func (a *App) drain(ctx context.Context) {
	a.setState(StateDraining)
	defer a.setState(StateRunning)

	delivered, err := a.uploader.Drain(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Debug().Err(err).Int("delivered", delivered).Msg("Drain cycle ended early")
	}
	if a.buffer.Len() == 0 {
		a.overflowAlerted = false
	}
	a.publish()
}

// publish copies loop-owned counters into the atomics Snapshot reads
func (a *App) publish() {
	a.queued.Store(int64(a.buffer.Len()))
	a.evicted.Store(a.buffer.Evicted())
	a.failing.Store(a.uploader.Failing())
}

func (a *App) stop() {
	a.setState(StateStopping)

	if err := a.source.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close line source")
	}
	if err := a.sink.Close(); err != nil {
		logger.Error().Err(err).Str("sink", a.sink.Name()).Msg("Failed to close sink")
	}

	a.setState(StateStopped)
	logger.Info().Msg("Read loop stopped")
}

func (a *App) setState(s State) {
	a.state.Store(int32(s))
	metrics.LoopState.Set(float64(s))
}

// State returns the current lifecycle state
func (a *App) State() State {
	return State(a.state.Load())
}

// Snapshot returns the loop's current published state
func (a *App) Snapshot() Snapshot {
	state := a.State()
	snap := Snapshot{
		State:           state,
		StateName:       state.String(),
		Sink:            a.sink.Name(),
		Queued:          int(a.queued.Load()),
		Capacity:        a.buffer.Cap(),
		Evicted:         a.evicted.Load(),
		DeliveryFailing: a.failing.Load(),
		StartedAt:       a.startedAt,
	}
	if r := a.lastReading.Load(); r != nil {
		last := *r
		snap.LastReading = &last
	}
	return snap
}

// Health probes the sink when it supports it
func (a *App) Health(ctx context.Context) error {
	if hc, ok := a.sink.(storage.HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

func (a *App) alertOverflow() {
	if a.overflowAlerted || a.notifier == nil || !a.notifier.IsEnabled() {
		return
	}
	a.overflowAlerted = true

	ctx, cancel := context.WithTimeout(context.Background(), alertContextTimeout)
	defer cancel()
	if err := a.notifier.SendBufferOverflow(ctx, a.buffer.Cap()); err != nil {
		logger.Error().Err(err).Msg("Failed to send buffer overflow alert")
	}
}

func (a *App) alertDeviceFailure(err error) {
	if a.notifier == nil || !a.notifier.IsEnabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), alertContextTimeout)
	defer cancel()
	if notifyErr := a.notifier.SendDeviceFailure(ctx, err); notifyErr != nil {
		logger.Error().Err(notifyErr).Msg("Failed to send device failure alert")
	}
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	snap := a.Snapshot()
	event := logger.Info().
		Str("state", snap.StateName).
		Str("sink", snap.Sink).
		Int("queued", snap.Queued).
		Int("capacity", snap.Capacity).
		Uint64("evicted", snap.Evicted).
		Bool("delivery_failing", snap.DeliveryFailing).
		Time("started_at", snap.StartedAt)
	if snap.LastReading != nil {
		event = event.
			Time("last_reading_time", snap.LastReading.Timestamp).
			Int("last_reading_watts", snap.LastReading.Watts)
	}
	event.Msg("Read loop state")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024) // 1MB buffer
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}
