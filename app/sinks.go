// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"fmt"

	"github.com/soothill/currentcost-logger/config"
	"github.com/soothill/currentcost-logger/pkg/logger"
	"github.com/soothill/currentcost-logger/storage"
)

// NewSink builds the sink selected by cfg.Sink.Type, wrapped in a circuit
// breaker when cfg.Breaker.Enabled is set.
func NewSink(cfg *config.Config) (storage.Sink, error) {
	var (
		sink storage.Sink
		err  error
	)

	switch cfg.Sink.Type {
	case config.SinkEmoncms:
		sink = storage.NewEmoncmsSink(storage.EmoncmsOptions{
			BaseURL:   cfg.Emoncms.URL,
			Node:      cfg.Emoncms.Node,
			InputName: cfg.Emoncms.InputName,
			APIKey:    cfg.Emoncms.APIKey,
			Timeout:   cfg.Emoncms.Timeout,
		})
	case config.SinkCSV:
		sink, err = storage.NewCSVLogSink(cfg.CSV.Path)
	case config.SinkInfluxDB:
		sink, err = storage.NewInfluxDBSink(storage.InfluxDBOptions{
			URL:     cfg.InfluxDB.URL,
			Token:   cfg.InfluxDB.Token,
			Org:     cfg.InfluxDB.Organization,
			Bucket:  cfg.InfluxDB.Bucket,
			Node:    cfg.Emoncms.Node,
			Timeout: cfg.InfluxDB.Timeout,
		})
	case config.SinkMQTT:
		sink, err = storage.NewMQTTSink(storage.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Timeout:  cfg.MQTT.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s sink: %w", cfg.Sink.Type, err)
	}

	logger.Info().Str("sink", sink.Name()).Msg("Delivery sink initialized")

	if cfg.Breaker.Enabled {
		logger.Info().
			Uint32("failure_threshold", cfg.Breaker.FailureThreshold).
			Dur("reset_timeout", cfg.Breaker.ResetTimeout).
			Msg("Delivery circuit breaker enabled")
		return storage.NewBreakerSink(sink, cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout), nil
	}
	return sink, nil
}
