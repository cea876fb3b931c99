// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build windows

package main

import (
	"github.com/soothill/currentcost-logger/app"
	"github.com/soothill/currentcost-logger/pkg/logger"
)

// setupDebugSignalHandlers is a no-op on Windows as SIGUSR1/SIGUSR2 don't exist.
// The /status endpoint reports the same state.
func setupDebugSignalHandlers(_ *app.App) {
	logger.Debug().Msg("Debug signal handlers not available on Windows")
}
