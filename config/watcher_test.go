// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"context"
	"os"
	"testing"
)

func TestWatcher_Reload(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", "emoncms:\n  node: '1'\n  api_key: k\nlogging:\n  level: warn\n")

	var got *Config
	w := NewWatcher(path, func(cfg *Config) { got = cfg })

	if !w.Reload() {
		t.Fatal("Reload() should succeed for a valid file")
	}
	if got == nil || got.Logging.Level != "warn" {
		t.Fatalf("callback got %+v, want level warn", got)
	}
}

func TestWatcher_ReloadInvalidKeepsPrevious(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", "emoncms:\n  node: '1'\n  api_key: k\n")

	calls := 0
	w := NewWatcher(path, func(*Config) { calls++ })

	if err := os.WriteFile(path, []byte("logging:\n  level: verbose\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if w.Reload() {
		t.Error("Reload() should fail for an invalid file")
	}
	if calls != 0 {
		t.Errorf("callback called %d times, want 0", calls)
	}
}

func TestWatcher_StartStop(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", "emoncms:\n  node: '1'\n  api_key: k\n")
	w := NewWatcher(path, func(*Config) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	w.Stop()
	// A second Stop must not block or panic
	w.Stop()
}
