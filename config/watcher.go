// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/soothill/currentcost-logger/pkg/logger"
)

// Watcher reloads the configuration file on SIGHUP and hands the result to
// a callback. A file that fails to load or validate is logged and skipped.
type Watcher struct {
	path       string
	onReload   func(*Config)
	reloadChan chan os.Signal
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(path string, onReload func(*Config)) *Watcher {
	return &Watcher{
		path:       path,
		onReload:   onReload,
		reloadChan: make(chan os.Signal, 1),
	}
}

// Start begins watching for SIGHUP signals to trigger a configuration reload.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancelFunc = context.WithCancel(ctx)
	signal.Notify(w.reloadChan, syscall.SIGHUP)

	w.wg.Add(1)
	go w.watch(ctx)
}

// Stop stops the configuration watcher and waits for it to exit.
func (w *Watcher) Stop() {
	signal.Stop(w.reloadChan)
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()
}

// Reload loads the file once and invokes the callback on success
func (w *Watcher) Reload() bool {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Error().Err(err).Str("path", w.path).Msg("failed to reload configuration")
		return false
	}
	w.onReload(cfg)
	logger.Info().Str("path", w.path).Msg("configuration reloaded successfully")
	return true
}

// watch listens for reload signals and reloads the configuration.
func (w *Watcher) watch(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.reloadChan:
			logger.Info().Msg("SIGHUP received, reloading configuration")
			w.Reload()
		}
	}
}
