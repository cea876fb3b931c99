// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/soothill/currentcost-logger/monitoring"
	"github.com/soothill/currentcost-logger/pkg/errors"
	"github.com/soothill/currentcost-logger/pkg/logger"
)

const (
	influxSinkName = "influxdb"

	// PowerMeasurement is the measurement readings are written under
	PowerMeasurement = "power"

	// DefaultInfluxDBTimeout bounds a single point write
	DefaultInfluxDBTimeout = 4 * time.Second

	influxConnectTimeout = 5 * time.Second

	maxFluxStringLength = 1000
)

var fluxEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\x00", "",
)

// sanitizeFluxString escapes a value for use inside a Flux string literal
func sanitizeFluxString(s string) string {
	if len(s) > maxFluxStringLength {
		s = s[:maxFluxStringLength]
	}
	return fluxEscaper.Replace(s)
}

// InfluxDBOptions configures the InfluxDB sink
type InfluxDBOptions struct {
	URL    string
	Token  string
	Org    string
	Bucket  string
	Node    string
	Timeout time.Duration
}

// InfluxDBSink writes each reading as a single point using the blocking
// write API, so a returned nil means the server accepted it.
type InfluxDBSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
	node     string
	timeout  time.Duration
}

// NewInfluxDBSink connects to InfluxDB and verifies the server is healthy
func NewInfluxDBSink(opts InfluxDBOptions) (*InfluxDBSink, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultInfluxDBTimeout
	}
	client := influxdb2.NewClient(opts.URL, opts.Token)

	ctx, cancel := context.WithTimeout(context.Background(), influxConnectTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", message)
	}

	logger.Info().
		Str("url", opts.URL).
		Str("bucket", opts.Bucket).
		Str("status", string(health.Status)).
		Msg("Connected to InfluxDB")

	return &InfluxDBSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(opts.Org, opts.Bucket),
		bucket:   opts.Bucket,
		org:      opts.Org,
		node:     opts.Node,
		timeout:  opts.Timeout,
	}, nil
}

// Name returns the sink identifier
func (s *InfluxDBSink) Name() string {
	return influxSinkName
}

// NewPowerPoint builds the point written for a reading
func NewPowerPoint(node string, r monitoring.Reading) *write.Point {
	return influxdb2.NewPoint(
		PowerMeasurement,
		map[string]string{"node": node},
		map[string]interface{}{"watts": r.Watts},
		r.Timestamp,
	)
}

// Deliver writes one reading and waits at most the configured timeout for
// the server to accept it
func (s *InfluxDBSink) Deliver(ctx context.Context, r monitoring.Reading) error {
	if r.Timestamp.IsZero() {
		return errors.NewDeliveryError(influxSinkName, 0, fmt.Errorf("timestamp cannot be zero"))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.writeAPI.WritePoint(ctx, NewPowerPoint(s.node, r)); err != nil {
		status := 0
		var herr *influxhttp.Error
		if errors.As(err, &herr) {
			status = herr.StatusCode
		}
		return errors.NewDeliveryError(influxSinkName, status, err)
	}
	return nil
}

// Health checks if InfluxDB is reachable and healthy
func (s *InfluxDBSink) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("InfluxDB status: %s", health.Status)
	}
	return nil
}

// Close closes the InfluxDB client
func (s *InfluxDBSink) Close() error {
	logger.Info().Msg("Closing InfluxDB connection")
	s.client.Close()
	return nil
}

// QueryLatestReading retrieves the most recent reading for the sink's node
// written in the last hour.
func (s *InfluxDBSink) QueryLatestReading(ctx context.Context) (monitoring.Reading, error) {
	queryAPI := s.client.QueryAPI(s.org)

	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -1h)
			|> filter(fn: (r) => r._measurement == "%s")
			|> filter(fn: (r) => r.node == "%s")
			|> filter(fn: (r) => r._field == "watts")
			|> last()
	`, sanitizeFluxString(s.bucket), PowerMeasurement, sanitizeFluxString(s.node))

	result, err := queryAPI.Query(ctx, query)
	if err != nil {
		return monitoring.Reading{}, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var reading monitoring.Reading
	for result.Next() {
		record := result.Record()
		switch v := record.Value().(type) {
		case int64:
			reading = monitoring.NewReading(record.Time(), int(v))
		case float64:
			reading = monitoring.NewReading(record.Time(), int(v))
		}
	}

	if result.Err() != nil {
		return monitoring.Reading{}, fmt.Errorf("query parsing failed: %w", result.Err())
	}

	return reading, nil
}
