// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/soothill/currentcost-logger/pkg/logger"
)

const (
	readinessCheckTimeout = 2 * time.Second
	readHeaderTimeout     = 5 * time.Second
)

// StatusSource is what the status endpoints report on
type StatusSource interface {
	Snapshot() Snapshot
	Health(ctx context.Context) error
}

// StatusServer exposes /metrics, /health, /ready and /status
type StatusServer struct {
	server *http.Server
}

// NewStatusServer creates the HTTP server. It does not listen until Start.
func NewStatusServer(address string, port int, source StatusSource) *StatusServer {
	return &StatusServer{
		server: &http.Server{
			Addr:              net.JoinHostPort(address, strconv.Itoa(port)),
			Handler:           newStatusMux(source),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

func newStatusMux(source StatusSource) *http.ServeMux {
	// Create rate limiters for health endpoints
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)
	statusLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("/ready", rateLimitMiddleware(readyLimiter, func(w http.ResponseWriter, r *http.Request) {
		readinessCheckHandler(w, r, source)
	}))
	mux.HandleFunc("/status", rateLimitMiddleware(statusLimiter, func(w http.ResponseWriter, r *http.Request) {
		statusHandler(w, r, source)
	}))
	return mux
}

// Addr returns the listen address
func (s *StatusServer) Addr() string {
	return s.server.Addr
}

// Start serves in the background. Listen errors are logged; the read loop
// keeps running without its status endpoints.
func (s *StatusServer) Start() {
	go func() {
		logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics and health check server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Shutdown stops the server gracefully
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded for status endpoint")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// healthCheckHandler handles liveness requests
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

// readinessCheckHandler reports ready while the loop is accepting readings
// and the sink, if it can be probed, is healthy
func readinessCheckHandler(w http.ResponseWriter, r *http.Request, source StatusSource) {
	if snap := source.Snapshot(); !snap.Accepting() {
		writeNotReady(w, "NOT READY: read loop "+snap.StateName)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessCheckTimeout)
	defer cancel()

	if err := source.Health(ctx); err != nil {
		logger.Warn().Err(err).Msg("Readiness check failed: sink unhealthy")
		writeNotReady(w, "NOT READY: sink unhealthy")
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}

func writeNotReady(w http.ResponseWriter, body string) {
	w.WriteHeader(http.StatusServiceUnavailable)
	if _, writeErr := w.Write([]byte(body)); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}

// statusHandler returns the loop snapshot as JSON
func statusHandler(w http.ResponseWriter, _ *http.Request, source StatusSource) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(source.Snapshot()); err != nil {
		logger.Error().Err(err).Msg("Failed to write status response")
	}
}
