// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/soothill/currentcost-logger/monitoring"
	"github.com/soothill/currentcost-logger/pkg/errors"
	"github.com/soothill/currentcost-logger/pkg/logger"
	"github.com/soothill/currentcost-logger/pkg/util"
)

const (
	csvSinkName = "csv"

	// CSVTimeFormat is the row timestamp layout, always in UTC
	CSVTimeFormat = "2006-01-02T15:04:05Z"
)

// CSVLogSink appends one "timestamp,watts" row per reading to a file.
// Each row is flushed and synced before Deliver returns.
type CSVLogSink struct {
	path string
	file *os.File
	w    *csv.Writer
	mu   sync.Mutex
}

// NewCSVLogSink opens (or creates) the log file for appending
func NewCSVLogSink(path string) (*CSVLogSink, error) {
	f, size, err := util.OpenAppend(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV log: %w", err)
	}

	logger.Info().Str("path", path).Int64("size_bytes", size).Msg("Appending readings to CSV log")

	return &CSVLogSink{
		path: path,
		file: f,
		w:    csv.NewWriter(f),
	}, nil
}

// Name returns the sink identifier
func (s *CSVLogSink) Name() string {
	return csvSinkName
}

// FormatRow renders a reading as a CSV record
func FormatRow(r monitoring.Reading) []string {
	return []string{
		r.Timestamp.UTC().Format(CSVTimeFormat),
		strconv.Itoa(r.Watts),
	}
}

// Deliver appends one row and syncs it to disk
func (s *CSVLogSink) Deliver(_ context.Context, r monitoring.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.NewDeliveryError(csvSinkName, 0, errors.ErrSinkClosed)
	}

	if err := s.w.Write(FormatRow(r)); err != nil {
		return errors.NewDeliveryError(csvSinkName, 0, fmt.Errorf("failed to write row: %w", err))
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return errors.NewDeliveryError(csvSinkName, 0, fmt.Errorf("failed to flush row: %w", err))
	}
	if err := s.file.Sync(); err != nil {
		return errors.NewDeliveryError(csvSinkName, 0, fmt.Errorf("failed to sync %s: %w", s.path, err))
	}
	return nil
}

// Close flushes buffered rows and closes the file
func (s *CSVLogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	s.w.Flush()
	flushErr := s.w.Error()
	closeErr := s.file.Close()
	s.file = nil

	logger.Info().Str("path", s.path).Msg("CSV log closed")

	if flushErr != nil {
		return fmt.Errorf("failed to flush CSV log: %w", flushErr)
	}
	return closeErr
}
