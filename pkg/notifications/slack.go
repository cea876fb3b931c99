// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package notifications provides alerting via Slack incoming webhooks.
//
// The logger raises an alert when delivery to the configured sink starts
// failing, when it recovers, when the reading buffer overflows and starts
// discarding the oldest readings, and when the device stops responding.
//
// A notifier with no webhook URL is disabled and every Send call is a
// no-op. Notification failures are returned to the caller, which logs them;
// they never affect reading collection.
//
// # Severity Levels
//
//   - danger/error: red
//   - warning/warn: yellow
//   - good/success: green
//
// # Example Usage
//
//	notifier := notifications.NewSlackNotifier("https://hooks.slack.com/...")
//	if err := notifier.SendDeliveryFailure(ctx, "emoncms", err); err != nil {
//	    logger.Error().Err(err).Msg("Failed to send alert")
//	}
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/soothill/currentcost-logger/pkg/logger"
)

const footer = "CurrentCost Logger"

// SlackNotifier sends notifications to Slack via webhook. It is safe for
// concurrent use; the webhook URL can be swapped on config reload.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	mu         sync.RWMutex
}

// SlackMessage represents a Slack webhook message payload
type SlackMessage struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a Slack attachment
type Attachment struct {
	Color  string `json:"color,omitempty"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Footer string `json:"footer,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns whether Slack notifications are enabled
func (s *SlackNotifier) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webhookURL != ""
}

// UpdateWebhookURL replaces the webhook URL; an empty URL disables the notifier
func (s *SlackNotifier) UpdateWebhookURL(webhookURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhookURL = webhookURL
}

// SendMessage sends a simple text message to Slack
func (s *SlackNotifier) SendMessage(ctx context.Context, message string) error {
	if !s.IsEnabled() {
		logger.Debug().Msg("Slack notifications disabled, skipping message")
		return nil
	}

	return s.sendPayload(ctx, SlackMessage{Text: message})
}

// SendAlert sends a formatted alert to Slack
func (s *SlackNotifier) SendAlert(ctx context.Context, severity, title, message string) error {
	if !s.IsEnabled() {
		logger.Debug().Str("title", title).Msg("Slack notifications disabled, skipping alert")
		return nil
	}

	payload := SlackMessage{
		Attachments: []Attachment{
			{
				Color:  severityToColor(severity),
				Title:  title,
				Text:   message,
				Footer: footer,
				Ts:     time.Now().Unix(),
			},
		},
	}

	return s.sendPayload(ctx, payload)
}

// SendDeliveryFailure alerts that readings can no longer be delivered
func (s *SlackNotifier) SendDeliveryFailure(ctx context.Context, sink string, err error) error {
	return s.SendAlert(ctx, "danger", "⚠️ Delivery Failure",
		fmt.Sprintf("Failed to deliver readings to %s: %v\nReadings are being buffered in memory and will be retried.", sink, err))
}

// SendDeliveryRecovery alerts that delivery works again
func (s *SlackNotifier) SendDeliveryRecovery(ctx context.Context, sink string, backlog int) error {
	return s.SendAlert(ctx, "good", "✅ Delivery Restored",
		fmt.Sprintf("Delivery to %s has recovered. %d buffered reading(s) still queued.", sink, backlog))
}

// SendBufferOverflow alerts that the buffer is full and dropping the oldest readings
func (s *SlackNotifier) SendBufferOverflow(ctx context.Context, capacity int) error {
	return s.SendAlert(ctx, "warning", "⚠️ Reading Buffer Full",
		fmt.Sprintf("The buffer holds its maximum of %d readings. The oldest readings are now being discarded.", capacity))
}

// SendDeviceFailure alerts that the read loop stopped on a device error
func (s *SlackNotifier) SendDeviceFailure(ctx context.Context, err error) error {
	return s.SendAlert(ctx, "danger", "🛑 Energy Monitor Stopped",
		fmt.Sprintf("The logger stopped reading from the device: %v", err))
}

// sendPayload sends a payload to the Slack webhook
func (s *SlackNotifier) sendPayload(ctx context.Context, payload SlackMessage) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	s.mu.RLock()
	webhookURL := s.webhookURL
	s.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	if len(payload.Attachments) > 0 {
		logger.Debug().Str("title", payload.Attachments[0].Title).Msg("Slack notification sent successfully")
	} else {
		logger.Debug().Str("text", payload.Text).Msg("Slack notification sent successfully")
	}
	return nil
}

// severityToColor maps severity levels to Slack colors
func severityToColor(severity string) string {
	switch severity {
	case "danger", "error":
		return "danger"
	case "warning", "warn":
		return "warning"
	case "good", "success":
		return "good"
	default:
		return "#808080"
	}
}
