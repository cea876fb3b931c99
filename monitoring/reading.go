// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package monitoring reads power telegrams from a CurrentCost energy monitor.
//
// A LineSource yields one raw telegram per sampling interval, either from
// the serial device or from a paced simulator. ParseWatts turns a line into
// a wattage, an "ignore" result for non-power messages, or a fatal error.
package monitoring

import (
	"time"
)

// Reading is a single power measurement. It is a value type and is never
// mutated after creation.
type Reading struct {
	Timestamp time.Time `json:"timestamp"` // UTC instant the telegram was parsed
	Watts     int       `json:"watts"`     // Power in watts, never negative
}

// NewReading creates a reading stamped in UTC
func NewReading(ts time.Time, watts int) Reading {
	return Reading{Timestamp: ts.UTC(), Watts: watts}
}
