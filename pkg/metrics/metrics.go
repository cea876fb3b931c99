// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the CurrentCost logger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TelegramsTotal tracks telegrams read from the device, by outcome
	// ("reading", "ignored", "malformed", "timeout", "error")
	TelegramsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "currentcost_telegrams_total",
		Help: "Total number of telegrams read from the device by parse outcome",
	}, []string{"outcome"})

	// ReadingsQueued tracks readings pushed into the buffer
	ReadingsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "currentcost_readings_queued_total",
		Help: "Total number of readings pushed into the delivery buffer",
	})

	// BufferLength tracks the number of readings waiting for delivery
	BufferLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "currentcost_buffer_length",
		Help: "Number of readings waiting in the delivery buffer",
	})

	// BufferEvictions tracks readings dropped because the buffer was full
	BufferEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "currentcost_buffer_evictions_total",
		Help: "Total number of oldest readings evicted from a full buffer",
	})

	// DeliveriesTotal tracks successful deliveries per sink
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "currentcost_deliveries_total",
		Help: "Total number of readings delivered",
	}, []string{"sink"})

	// DeliveryErrors tracks failed delivery attempts per sink
	DeliveryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "currentcost_delivery_errors_total",
		Help: "Total number of failed delivery attempts",
	}, []string{"sink"})

	// DeliveryDuration tracks how long a single delivery attempt takes
	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "currentcost_delivery_duration_seconds",
		Help:    "Duration of a single delivery attempt in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// DrainDuration tracks how long a drain cycle holds the loop
	DrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "currentcost_drain_duration_seconds",
		Help:    "Duration of a drain cycle in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BreakerState tracks the delivery circuit breaker per sink
	// (0=closed, 1=half-open, 2=open)
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "currentcost_breaker_state",
		Help: "Delivery circuit breaker state: 0=closed, 1=half-open, 2=open",
	}, []string{"sink"})

	// CurrentPower tracks the latest parsed wattage
	CurrentPower = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "currentcost_current_power_watts",
		Help: "Most recent power reading in watts",
	})

	// DeviceTemperature tracks the temperature reported by the monitor
	DeviceTemperature = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "currentcost_device_temperature_celsius",
		Help: "Temperature reported by the energy monitor",
	})

	// LoopState tracks the main loop lifecycle state (see app.State)
	LoopState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "currentcost_loop_state",
		Help: "Main loop state: 0=running, 1=draining, 2=stopping, 3=stopped",
	})
)
