// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// current holds the global logger. Level and output changes replace it as a
// whole, so they may run concurrently with logging.
var current atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	current.Store(&l)
}

func store(l zerolog.Logger) {
	current.Store(&l)
}

// Initialize sets up the global logger with the specified level and console output
func Initialize(level string) {
	InitializeWithFormat(level, "console")
}

// InitializeWithFormat sets up the global logger. Format "json" writes raw
// JSON lines, anything else uses the human-readable console writer.
func InitializeWithFormat(level, format string) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if strings.EqualFold(format, "json") {
		output = os.Stdout
	}

	store(zerolog.New(output).
		Level(logLevel).
		With().
		Timestamp().
		Caller().
		Logger())
}

// SetLevel changes the level of the global logger in place
func SetLevel(level string) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		return
	}
	store(current.Load().Level(logLevel))
}

// parseLogLevel converts string log level to zerolog.Level
func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	case "panic":
		return zerolog.PanicLevel, nil
	default:
		return zerolog.InfoLevel, nil
	}
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return current.Load()
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return current.Load().Debug()
}

// Info logs an info message
func Info() *zerolog.Event {
	return current.Load().Info()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return current.Load().Warn()
}

// Error logs an error message
func Error() *zerolog.Event {
	return current.Load().Error()
}

// Fatal logs a fatal message and exits
func Fatal() *zerolog.Event {
	return current.Load().Fatal()
}

// With creates a child logger with additional fields
func With() zerolog.Context {
	return current.Load().With()
}

// SetOutput sets the output writer for the logger
func SetOutput(w io.Writer) {
	store(current.Load().Output(w))
}
