// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/soothill/currentcost-logger/monitoring"
	"github.com/soothill/currentcost-logger/pkg/errors"
	"github.com/soothill/currentcost-logger/pkg/logger"
)

const (
	mqttSinkName = "mqtt"

	// DefaultMQTTTopic is used when no topic is configured
	DefaultMQTTTopic = "currentcost/power"

	// DefaultMQTTTimeout bounds connect and publish round trips
	DefaultMQTTTimeout = 4 * time.Second

	// readings are published at-least-once
	mqttQoS byte = 1
)

// MQTTOptions configures the MQTT sink
type MQTTOptions struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	Timeout  time.Duration
}

// MQTTPayload is the JSON body published for each reading
type MQTTPayload struct {
	Timestamp string `json:"timestamp"`
	Watts     int    `json:"watts"`
}

// FormatMQTTPayload renders a reading as the published JSON body
func FormatMQTTPayload(r monitoring.Reading) ([]byte, error) {
	return json.Marshal(MQTTPayload{
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
		Watts:     r.Watts,
	})
}

// mqttPublisher is the subset of paho.Client the sink uses
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// MQTTSink publishes each reading to a topic and waits for the broker to
// acknowledge it.
type MQTTSink struct {
	client  mqttPublisher
	topic   string
	timeout time.Duration
}

// NewMQTTSink connects to the broker
func NewMQTTSink(opts MQTTOptions) (*MQTTSink, error) {
	if opts.Topic == "" {
		opts.Topic = DefaultMQTTTopic
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultMQTTTimeout
	}
	if opts.ClientID == "" {
		opts.ClientID = "currentcost-logger"
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetConnectTimeout(opts.Timeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	client := paho.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		// ConnectRetry keeps trying in the background; publishes fail until then
		logger.Warn().Str("broker", opts.Broker).Msg("MQTT broker not reachable yet, will keep retrying")
	} else if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	logger.Info().Str("broker", opts.Broker).Str("topic", opts.Topic).Msg("MQTT sink configured")

	return newMQTTSink(client, opts.Topic, opts.Timeout), nil
}

func newMQTTSink(client mqttPublisher, topic string, timeout time.Duration) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, timeout: timeout}
}

// Name returns the sink identifier
func (s *MQTTSink) Name() string {
	return mqttSinkName
}

// Deliver publishes one reading at QoS 1
func (s *MQTTSink) Deliver(_ context.Context, r monitoring.Reading) error {
	if !s.client.IsConnectionOpen() {
		return errors.NewDeliveryError(mqttSinkName, 0, fmt.Errorf("not connected to broker"))
	}

	payload, err := FormatMQTTPayload(r)
	if err != nil {
		return errors.NewDeliveryError(mqttSinkName, 0, fmt.Errorf("format payload: %w", err))
	}

	token := s.client.Publish(s.topic, mqttQoS, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return errors.NewDeliveryError(mqttSinkName, 0, fmt.Errorf("publish timeout after %s", s.timeout))
	}
	if err := token.Error(); err != nil {
		return errors.NewDeliveryError(mqttSinkName, 0, fmt.Errorf("publish: %w", err))
	}
	return nil
}

// Health reports whether the broker connection is up
func (s *MQTTSink) Health(_ context.Context) error {
	if !s.client.IsConnectionOpen() {
		return fmt.Errorf("MQTT connection is down")
	}
	return nil
}

// Close disconnects from the broker
func (s *MQTTSink) Close() error {
	s.client.Disconnect(1000)
	return nil
}
