// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/soothill/currentcost-logger/monitoring"
	"github.com/soothill/currentcost-logger/pkg/errors"
	"github.com/soothill/currentcost-logger/pkg/logger"
)

const (
	// DefaultEmoncmsTimeout bounds a single ingestion request
	DefaultEmoncmsTimeout = 4 * time.Second

	emoncmsSinkName   = "emoncms"
	emoncmsOKBody     = "ok"
	maxResponseLength = 1024
)

// EmoncmsOptions configures the emoncms input API sink
type EmoncmsOptions struct {
	BaseURL   string
	Node      string
	InputName string
	APIKey    string
	Timeout   time.Duration
}

// EmoncmsSink posts readings to the emoncms input API
type EmoncmsSink struct {
	opts   EmoncmsOptions
	client *http.Client
}

// NewEmoncmsSink creates an emoncms sink
func NewEmoncmsSink(opts EmoncmsOptions) *EmoncmsSink {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultEmoncmsTimeout
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &EmoncmsSink{
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// Name returns the sink identifier
func (s *EmoncmsSink) Name() string {
	return emoncmsSinkName
}

// RequestURL builds the ingestion URL for a reading. The result depends
// only on the reading and the options.
func (s *EmoncmsSink) RequestURL(r monitoring.Reading) string {
	return s.requestURL(r, s.opts.APIKey)
}

func (s *EmoncmsSink) requestURL(r monitoring.Reading, apiKey string) string {
	payload := "{" + s.opts.InputName + ":" + strconv.Itoa(r.Watts) + "}"

	var b strings.Builder
	b.WriteString(s.opts.BaseURL)
	b.WriteString("/input/post.json?time=")
	b.WriteString(epochSeconds(r.Timestamp))
	b.WriteString("&node=")
	b.WriteString(url.QueryEscape(s.opts.Node))
	b.WriteString("&json=")
	b.WriteString(escapeJSONParam(payload))
	b.WriteString("&apikey=")
	b.WriteString(url.QueryEscape(apiKey))
	return b.String()
}

// escapeJSONParam query-escapes the json value but leaves ':' literal, so
// {power:500} goes out as %7Bpower:500%7D.
func escapeJSONParam(payload string) string {
	return strings.ReplaceAll(url.QueryEscape(payload), "%3A", ":")
}

// Deliver posts one reading. Only a 2xx response whose body is exactly
// "ok" counts as success.
func (s *EmoncmsSink) Deliver(ctx context.Context, r monitoring.Reading) error {
	logger.Debug().Str("url", s.requestURL(r, "REDACTED")).Msg("Posting reading to emoncms")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.RequestURL(r), nil)
	if err != nil {
		return errors.NewDeliveryError(emoncmsSinkName, 0, fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.NewDeliveryError(emoncmsSinkName, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLength))
	if err != nil {
		return errors.NewDeliveryError(emoncmsSinkName, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewDeliveryError(emoncmsSinkName, resp.StatusCode,
			fmt.Errorf("emoncms returned status %d", resp.StatusCode))
	}

	if string(body) != emoncmsOKBody {
		return errors.NewDeliveryError(emoncmsSinkName, resp.StatusCode,
			fmt.Errorf("%w: %q", errors.ErrUnexpectedResponse, string(body)))
	}

	return nil
}

// Close releases idle connections
func (s *EmoncmsSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// epochSeconds formats t as seconds since 1970-01-01T00:00:00Z with
// microsecond precision, always including a fractional part
// (1400000000.0, 1400000000.25).
func epochSeconds(t time.Time) string {
	seconds := float64(t.UnixMicro()) / 1e6
	s := strconv.FormatFloat(seconds, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
