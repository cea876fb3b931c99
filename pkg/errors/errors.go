// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the CurrentCost logger.
//
// The read loop decides what to do with a failure by its kind rather than by
// its message. Two kinds exist:
//
//   - Fatal: the device is presumed gone or is sending garbage. The loop ends
//     and the process exits non-zero. See IsFatal.
//   - Recoverable: a reading could not be delivered. The reading stays at the
//     head of the buffer and is retried on the next drain cycle.
//
// # Example Usage
//
//	watts, ok, err := monitoring.ParseWatts(line)
//	if errors.IsFatal(err) {
//	    return err
//	}
//
//	var deliveryErr *errors.DeliveryError
//	if errors.As(err, &deliveryErr) {
//	    log.Printf("sink %s failed", deliveryErr.Sink)
//	}
package errors

import (
	"errors"
	"fmt"
)

// TelegramError represents a telegram that could not be parsed.
type TelegramError struct {
	Line string // Raw line as received (may be truncated for logging)
	Err  error  // Underlying error
}

func (e *TelegramError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed telegram %q: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("malformed telegram %q", e.Line)
}

func (e *TelegramError) Unwrap() error {
	return e.Err
}

// NewTelegramError creates a new telegram error. Long lines are truncated.
func NewTelegramError(line string, err error) *TelegramError {
	const maxLine = 256
	if len(line) > maxLine {
		line = line[:maxLine] + "..."
	}
	return &TelegramError{Line: line, Err: err}
}

// IsTelegramError checks if an error is a TelegramError.
func IsTelegramError(err error) bool {
	var te *TelegramError
	return errors.As(err, &te)
}

// SourceError represents an I/O failure of the line source.
type SourceError struct {
	Op     string // Operation being performed (e.g., "open", "read")
	Device string // Device path, or "simulated"
	Err    error  // Underlying error
}

func (e *SourceError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("source %s (%s): %v", e.Op, e.Device, e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a new source error.
func NewSourceError(op string, device string, err error) *SourceError {
	return &SourceError{Op: op, Device: device, Err: err}
}

// IsSourceError checks if an error is a SourceError.
func IsSourceError(err error) bool {
	var se *SourceError
	return errors.As(err, &se)
}

// DeliveryError represents a failed attempt to hand a reading to a sink.
type DeliveryError struct {
	Sink   string // Sink name (e.g., "emoncms", "csv")
	Status int    // HTTP status code, 0 when not applicable
	Err    error  // Underlying error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("delivery to %s (status=%d): %v", e.Sink, e.Status, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("delivery to %s: %v", e.Sink, e.Err)
	}
	return fmt.Sprintf("delivery to %s failed", e.Sink)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError creates a new delivery error.
func NewDeliveryError(sink string, status int, err error) *DeliveryError {
	return &DeliveryError{Sink: sink, Status: status, Err: err}
}

// IsDeliveryError checks if an error is a DeliveryError.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Sentinel errors for common conditions
var (
	// ErrDeviceTimeout indicates the device produced no data within its read timeout
	ErrDeviceTimeout = errors.New("device read timed out")

	// ErrUnexpectedResponse indicates the ingestion endpoint answered with something other than "ok"
	ErrUnexpectedResponse = errors.New("unexpected response body")

	// ErrCircuitBreakerOpen indicates the circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrSinkClosed indicates a delivery was attempted after Close
	ErrSinkClosed = errors.New("sink closed")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)

// IsFatal reports whether err must end the read loop.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDeviceTimeout) || IsTelegramError(err) || IsSourceError(err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
