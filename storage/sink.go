// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage buffers power readings and delivers them to a sink.
//
// The ReadingBuffer queues readings in arrival order. The Uploader drains it
// into a Sink for a bounded time, stopping at the first failure so the
// failed reading can be retried on the next cycle without being reordered.
//
// Sinks:
//   - EmoncmsSink: emoncms input API over HTTP
//   - CSVLogSink: append-only local CSV file
//   - InfluxDBSink: InfluxDB v2 bucket
//   - MQTTSink: MQTT topic
//
// Any sink can be wrapped in a BreakerSink to fail fast during an outage.
package storage

import (
	"context"

	"github.com/soothill/currentcost-logger/monitoring"
)

// Sink delivers one reading at a time. A nil error means the reading is
// safely stored; any error means it was not and may be retried.
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// Deliver stores a single reading
	Deliver(ctx context.Context, reading monitoring.Reading) error

	// Close flushes and releases the sink
	Close() error
}

// HealthChecker is implemented by sinks that can probe their backend
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Notifier defines the alerts the uploader raises on outage transitions
type Notifier interface {
	SendDeliveryFailure(ctx context.Context, sink string, err error) error
	SendDeliveryRecovery(ctx context.Context, sink string, backlog int) error
	IsEnabled() bool
}
