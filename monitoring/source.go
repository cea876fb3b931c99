// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package monitoring

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/soothill/currentcost-logger/pkg/errors"
	"github.com/soothill/currentcost-logger/pkg/logger"
)

const (
	// DefaultDevice is the serial port the CC128 USB cable enumerates as
	DefaultDevice = "/dev/ttyUSB0"
	// DefaultBaud is the CC128 line speed
	DefaultBaud = 57600
	// DefaultReadTimeout bounds a single blocking read
	DefaultReadTimeout = 25 * time.Second
	// MaxReadTimeout is the longest read timeout a POSIX serial port can
	// honour; VTIME is a single byte of deciseconds
	MaxReadTimeout = 25500 * time.Millisecond
	// DefaultInterval is the device sampling interval
	DefaultInterval = 6 * time.Second
)

// LineSource yields raw telegram lines, one per device sampling interval.
//
// ReadLine blocks until a line arrives or the source's own read timeout
// elapses. On timeout it returns an empty string and a nil error; the
// parser turns that into errors.ErrDeviceTimeout.
type LineSource interface {
	ReadLine(ctx context.Context) (string, error)
	Close() error
}

// SourceOptions selects and configures a LineSource
type SourceOptions struct {
	Simulated   bool
	Device      string
	Baud        int
	ReadTimeout time.Duration
	Interval    time.Duration // simulator only
}

// NewLineSource builds the serial adapter, or the simulator when
// opts.Simulated is set.
func NewLineSource(opts SourceOptions) (LineSource, error) {
	if opts.Simulated {
		interval := opts.Interval
		if interval <= 0 {
			interval = DefaultInterval
		}
		logger.Info().Dur("interval", interval).Msg("Using simulated CurrentCost device")
		return NewSimulatedSource(interval, ExampleLine), nil
	}

	if opts.Device == "" {
		opts.Device = DefaultDevice
	}
	if opts.Baud <= 0 {
		opts.Baud = DefaultBaud
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	return OpenSerialSource(opts.Device, opts.Baud, opts.ReadTimeout)
}

// lineReader splits a byte stream into CRLF-terminated lines
type lineReader struct {
	device string
	r      *bufio.Reader
	closer io.Closer
}

func newLineReader(device string, rc io.ReadCloser) *lineReader {
	return &lineReader{
		device: device,
		r:      bufio.NewReader(rc),
		closer: rc,
	}
}

// ReadLine returns the next line including its terminator. A read that
// ends in io.EOF is a timeout: whatever arrived so far (possibly nothing)
// is returned without error.
func (l *lineReader) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	line, err := l.r.ReadString('\n')
	if err == io.EOF {
		return line, nil
	}
	if err != nil {
		return "", errors.NewSourceError("read", l.device, err)
	}
	return line, nil
}

func (l *lineReader) Close() error {
	return l.closer.Close()
}
