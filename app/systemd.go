// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/daemon"

	"github.com/soothill/currentcost-logger/pkg/logger"
)

// sdNotify reports a state change to systemd. Outside a Type=notify unit
// it does nothing.
func sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn().Err(err).Str("state", state).Msg("sd_notify failed")
		return
	}
	if sent {
		logger.Debug().Str("state", state).Msg("sd_notify sent")
	}
}

// runWatchdog pings the systemd watchdog at half its interval while alive
// reports true. It returns when ctx ends or the unit has no watchdog.
func runWatchdog(ctx context.Context, alive func() bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read systemd watchdog settings")
		return
	}
	if interval <= 0 {
		return
	}

	logger.Info().Dur("interval", interval).Msg("systemd watchdog enabled")
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !alive() {
				logger.Warn().Msg("Read loop not accepting readings, withholding watchdog ping")
				continue
			}
			sdNotify(daemon.SdNotifyWatchdog)
		}
	}
}
