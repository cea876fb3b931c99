// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/soothill/currentcost-logger/app"
	"github.com/soothill/currentcost-logger/pkg/logger"
)

// setupDebugSignalHandlers installs the operator signals:
//
//	kill -USR1 <pid>  # queue depth, last reading and runtime stats
//	kill -USR2 <pid>  # goroutine stack traces
func setupDebugSignalHandlers(loop *app.App) {
	debugSigChan := make(chan os.Signal, 2)
	signal.Notify(debugSigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range debugSigChan {
			handleDebugSignal(loop, sig)
		}
	}()
}

// handleDebugSignal reports whether sig was one of the debug signals
func handleDebugSignal(loop *app.App, sig os.Signal) bool {
	switch sig {
	case syscall.SIGUSR1:
		snap := loop.Snapshot()
		logger.Info().
			Str("state", snap.StateName).
			Int("queued", snap.Queued).
			Int("capacity", snap.Capacity).
			Bool("delivery_failing", snap.DeliveryFailing).
			Msg("SIGUSR1 received, dumping read loop state")
		loop.DumpApplicationState()
		return true
	case syscall.SIGUSR2:
		logger.Info().Msg("SIGUSR2 received, dumping goroutine stacks")
		app.DumpGoroutineStackTraces()
		return true
	default:
		return false
	}
}
