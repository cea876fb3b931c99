// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/daemon"

	"github.com/soothill/currentcost-logger/config"
	"github.com/soothill/currentcost-logger/discovery"
	"github.com/soothill/currentcost-logger/monitoring"
	"github.com/soothill/currentcost-logger/pkg/logger"
	"github.com/soothill/currentcost-logger/pkg/notifications"
	"github.com/soothill/currentcost-logger/storage"
)

// Version is stamped at build time with
// -ldflags "-X github.com/soothill/currentcost-logger/app.Version=..."
var Version = "dev"

const shutdownTimeout = 5 * time.Second

// Service runs the read loop together with its auxiliaries
type Service struct {
	cfg      *config.Config
	notifier *notifications.SlackNotifier
	app      *App
	status   *StatusServer
	watcher  *config.Watcher
}

// NewService opens the line source and the sink described by cfg. When
// configPath is set, SIGHUP reloads the log level and the Slack webhook
// from that file.
func NewService(cfg *config.Config, configPath string) (*Service, error) {
	sink, err := NewSink(cfg)
	if err != nil {
		return nil, err
	}

	source, err := monitoring.NewLineSource(monitoring.SourceOptions{
		Simulated:   cfg.FakeMode,
		Device:      cfg.Device.Port,
		Baud:        cfg.Device.Baud,
		ReadTimeout: cfg.Device.ReadTimeout,
		Interval:    cfg.Device.FakeInterval,
	})
	if err != nil {
		if closeErr := sink.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("Failed to close sink")
		}
		return nil, fmt.Errorf("failed to open line source: %w", err)
	}

	return newService(cfg, configPath, source, sink), nil
}

func newService(cfg *config.Config, configPath string, source monitoring.LineSource, sink storage.Sink) *Service {
	notifier := notifications.NewSlackNotifier(cfg.Notifications.SlackWebhookURL)
	if notifier.IsEnabled() {
		logger.Info().Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack notifications disabled (no webhook URL configured)")
	}

	s := &Service{
		cfg:      cfg,
		notifier: notifier,
		app: New(source, sink, Options{
			BufferCapacity: cfg.Buffer.Capacity,
			DrainBudget:    cfg.Upload.Budget,
			Notifier:       notifier,
		}),
	}

	if cfg.Status.Enabled {
		s.status = NewStatusServer(cfg.Status.Address, cfg.Status.Port, s.app)
	}
	if configPath != "" {
		s.watcher = config.NewWatcher(configPath, s.applyConfig)
	}
	return s
}

// App returns the read loop
func (s *Service) App() *App {
	return s.app
}

// Run blocks until the read loop ends. It returns nil after ctx is
// cancelled and the loop's fatal error otherwise.
func (s *Service) Run(ctx context.Context) error {
	if s.status != nil {
		s.status.Start()
		defer s.shutdownStatusServer()

		if s.cfg.Status.MDNS {
			if adv := s.advertise(); adv != nil {
				defer adv.Shutdown()
			}
		}
	}

	if s.watcher != nil {
		s.watcher.Start(ctx)
		defer s.watcher.Stop()
	}

	watchdogCtx, stopWatchdog := context.WithCancel(ctx)
	defer stopWatchdog()
	go runWatchdog(watchdogCtx, func() bool { return s.app.Snapshot().Accepting() })

	sdNotify(daemon.SdNotifyReady)
	err := s.app.Run(ctx)
	sdNotify(daemon.SdNotifyStopping)
	return err
}

func (s *Service) advertise() *discovery.Advertiser {
	if s.cfg.Status.Address == "localhost" || s.cfg.Status.Address == "127.0.0.1" {
		logger.Warn().Str("address", s.cfg.Status.Address).
			Msg("Status server listens on loopback only; other hosts cannot reach the advertised endpoint")
	}

	adv, err := discovery.Advertise(discovery.Announcement{
		Instance: s.cfg.Status.ServiceName,
		Port:     s.cfg.Status.Port,
		Sink:     s.cfg.Sink.Type,
		Node:     s.cfg.Emoncms.Node,
		Version:  Version,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("mDNS advertisement failed, continuing without it")
		return nil
	}
	return adv
}

func (s *Service) shutdownStatusServer() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.status.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}
}

// applyConfig takes the settings that can change without a restart from a
// reloaded configuration
func (s *Service) applyConfig(newCfg *config.Config) {
	logger.SetLevel(newCfg.Logging.Level)
	s.notifier.UpdateWebhookURL(newCfg.Notifications.SlackWebhookURL)

	logger.Info().
		Str("log_level", newCfg.Logging.Level).
		Bool("slack_enabled", s.notifier.IsEnabled()).
		Msg("Application configuration updated")

	if newCfg.Sink.Type != s.cfg.Sink.Type ||
		newCfg.Device.Port != s.cfg.Device.Port ||
		newCfg.FakeMode != s.cfg.FakeMode {
		logger.Warn().Msg("Sink and device changes take effect after a restart")
	}
}
