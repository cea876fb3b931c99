// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"time"

	"github.com/soothill/currentcost-logger/monitoring"
)

// State is the lifecycle state of the read loop
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of the loop for the status endpoints
// and state dumps. It is safe to take from any goroutine.
type Snapshot struct {
	State           State               `json:"-"`
	StateName       string              `json:"state"`
	Sink            string              `json:"sink"`
	Queued          int                 `json:"queued"`
	Capacity        int                 `json:"capacity"`
	Evicted         uint64              `json:"evicted"`
	DeliveryFailing bool                `json:"delivery_failing"`
	LastReading     *monitoring.Reading `json:"last_reading,omitempty"`
	StartedAt       time.Time           `json:"started_at"`
}

// Accepting reports whether the loop is still taking readings
func (s Snapshot) Accepting() bool {
	return s.State == StateRunning || s.State == StateDraining
}
