// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package monitoring

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// ExampleLine is a real CC128 telegram reporting 500 watts
const ExampleLine = "<msg><src>CC128-v1.48</src><dsb>00789</dsb><time>22:20:42</time><tmpr>22.7</tmpr><sensor>0</sensor><id>02872</id><type>1</type><ch1><watts>00500</watts></ch1></msg>\r\n"

// SimulatedSource emits a fixed telegram on a steady cadence. The first
// line is available immediately.
type SimulatedSource struct {
	line    string
	limiter *rate.Limiter
}

// NewSimulatedSource creates a simulator that yields line every interval
func NewSimulatedSource(interval time.Duration, line string) *SimulatedSource {
	return &SimulatedSource{
		line:    line,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// ReadLine sleeps until the next reading is due. Cancelling ctx interrupts
// the sleep and returns ctx.Err().
func (s *SimulatedSource) ReadLine(ctx context.Context) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return s.line, nil
}

// Close is a no-op
func (s *SimulatedSource) Close() error {
	return nil
}
