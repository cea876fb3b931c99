// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package monitoring

import (
	"time"

	"github.com/tarm/serial"

	"github.com/soothill/currentcost-logger/pkg/errors"
	"github.com/soothill/currentcost-logger/pkg/logger"
)

// SerialSource reads telegrams from the monitor's serial cable
type SerialSource struct {
	*lineReader
}

// OpenSerialSource opens the serial port. readTimeout bounds each read; the
// port reports a timeout as EOF, which ReadLine surfaces as an empty line.
// Timeouts beyond MaxReadTimeout are clamped to it.
func OpenSerialSource(device string, baud int, readTimeout time.Duration) (*SerialSource, error) {
	if clamped := clampReadTimeout(readTimeout); clamped != readTimeout {
		logger.Warn().
			Dur("requested", readTimeout).
			Dur("effective", clamped).
			Msg("Serial read timeout exceeds what the port supports")
		readTimeout = clamped
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, errors.NewSourceError("open", device, err)
	}

	logger.Info().
		Str("device", device).
		Int("baud", baud).
		Dur("read_timeout", readTimeout).
		Msg("Opened CurrentCost serial device")

	return &SerialSource{lineReader: newLineReader(device, port)}, nil
}

func clampReadTimeout(d time.Duration) time.Duration {
	if d > MaxReadTimeout {
		return MaxReadTimeout
	}
	return d
}
