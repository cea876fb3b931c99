// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/soothill/currentcost-logger/app"
	"github.com/soothill/currentcost-logger/config"
	"github.com/soothill/currentcost-logger/discovery"
	"github.com/soothill/currentcost-logger/pkg/logger"
)

const (
	signalChannelSize  = 1
	healthCheckTimeout = 5 * time.Second
	discoverTimeout    = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	fake := flag.Bool("fake", false, "Use a simulated CurrentCost device instead of the serial port")
	metricsPort := flag.Int("metrics-port", 0, "Port for the metrics and health endpoints (overrides config)")
	healthCheck := flag.Bool("health-check", false, "Query the running logger's readiness endpoint and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	discover := flag.Bool("discover", false, "List CurrentCost loggers advertised on the local network and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.Version)
		return
	}

	if *healthCheck {
		os.Exit(performHealthCheck(*configPath))
	}

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	if *discover {
		os.Exit(performDiscovery(os.Stdout))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := applyFlags(cfg, *fake, *metricsPort); err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Invalid command line")
	}

	logger.InitializeWithFormat(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info().Str("version", app.Version).Msg("Starting CurrentCost power logger")
	logger.Info().
		Bool("fake_mode", cfg.FakeMode).
		Str("device", cfg.Device.Port).
		Str("sink", cfg.Sink.Type).
		Int("buffer_capacity", cfg.Buffer.Capacity).
		Dur("upload_budget", cfg.Upload.Budget).
		Msg("Configuration loaded")

	svc, err := app.NewService(cfg, *configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)
	setupDebugSignalHandlers(svc.App())

	if err := svc.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Logger stopped")
		cancel()
		os.Exit(1)
	}
	logger.Info().Msg("Shutdown complete")
}

// applyFlags lets command-line switches override the loaded configuration
func applyFlags(cfg *config.Config, fake bool, metricsPort int) error {
	if fake {
		cfg.FakeMode = true
	}
	if metricsPort != 0 {
		if metricsPort < 1 || metricsPort > 65535 {
			return fmt.Errorf("metrics port %d out of range", metricsPort)
		}
		cfg.Status.Port = metricsPort
	}
	return nil
}

// setupSignalHandler cancels the read loop on SIGINT or SIGTERM. Both end
// the process with status 0.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()
}

// performHealthCheck asks a running logger whether it is ready and returns
// the exit code
func performHealthCheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
		return 1
	}
	if !cfg.Status.Enabled {
		fmt.Fprintln(os.Stderr, "Health check failed: status endpoints are disabled in the configuration")
		return 1
	}

	url := "http://" + net.JoinHostPort(cfg.Status.Address, strconv.Itoa(cfg.Status.Port)) + "/ready"
	return checkReady(url, os.Stdout, os.Stderr)
}

func checkReady(url string, stdout, stderr io.Writer) int {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: logger unreachable: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Health check failed: %s (status %d)\n", body, resp.StatusCode)
		return 1
	}

	fmt.Fprintln(stdout, "Health check passed: logger is ready")
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	fmt.Println("\n✅ Configuration validation PASSED")
	printConfigSummary(os.Stdout, cfg)
	fmt.Println("\nAll validation checks passed. Configuration is ready for use.")
	return 0
}

func printConfigSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "\nConfiguration summary:")
	if cfg.FakeMode {
		fmt.Fprintf(w, "  Device: simulated (every %s)\n", cfg.Device.FakeInterval)
	} else {
		fmt.Fprintf(w, "  Device: %s at %d baud (read timeout %s)\n", cfg.Device.Port, cfg.Device.Baud, cfg.Device.ReadTimeout)
	}
	fmt.Fprintf(w, "  Sink: %s\n", cfg.Sink.Type)
	switch cfg.Sink.Type {
	case config.SinkEmoncms:
		fmt.Fprintf(w, "  Emoncms URL: %s\n", cfg.Emoncms.URL)
		fmt.Fprintf(w, "  Emoncms Node: %s\n", cfg.Emoncms.Node)
		fmt.Fprintf(w, "  Emoncms Input: %s\n", cfg.Emoncms.InputName)
	case config.SinkCSV:
		fmt.Fprintf(w, "  CSV Path: %s\n", cfg.CSV.Path)
	case config.SinkInfluxDB:
		fmt.Fprintf(w, "  InfluxDB URL: %s\n", cfg.InfluxDB.URL)
		fmt.Fprintf(w, "  InfluxDB Organization: %s\n", cfg.InfluxDB.Organization)
		fmt.Fprintf(w, "  InfluxDB Bucket: %s\n", cfg.InfluxDB.Bucket)
	case config.SinkMQTT:
		fmt.Fprintf(w, "  MQTT Broker: %s\n", cfg.MQTT.Broker)
		fmt.Fprintf(w, "  MQTT Topic: %s\n", cfg.MQTT.Topic)
	}
	fmt.Fprintf(w, "  Buffer Capacity: %d readings\n", cfg.Buffer.Capacity)
	fmt.Fprintf(w, "  Upload Budget: %s\n", cfg.Upload.Budget)
	if cfg.Breaker.Enabled {
		fmt.Fprintf(w, "  Circuit Breaker: after %d failures, for %s\n", cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout)
	} else {
		fmt.Fprintln(w, "  Circuit Breaker: Disabled")
	}
	fmt.Fprintf(w, "  Log Level: %s\n", cfg.Logging.Level)
	if cfg.Status.Enabled {
		fmt.Fprintf(w, "  Status Endpoints: %s\n", net.JoinHostPort(cfg.Status.Address, strconv.Itoa(cfg.Status.Port)))
	} else {
		fmt.Fprintln(w, "  Status Endpoints: Disabled")
	}

	if cfg.Notifications.SlackWebhookURL != "" {
		fmt.Fprintln(w, "  Slack Notifications: Enabled")
	} else {
		fmt.Fprintln(w, "  Slack Notifications: Disabled")
	}
}

// performDiscovery browses mDNS for other loggers and prints them
func performDiscovery(w io.Writer) int {
	logger.Initialize("warn")

	scanner := discovery.NewScanner(discovery.ServiceType, discovery.Domain)
	instances, err := scanner.Discover(context.Background(), discoverTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
		return 1
	}

	printInstances(w, instances)
	return 0
}

func printInstances(w io.Writer, instances []*discovery.Instance) {
	if len(instances) == 0 {
		fmt.Fprintln(w, "No CurrentCost loggers found")
		return
	}
	for _, inst := range instances {
		sink := inst.Sink()
		if sink == "" {
			sink = "unknown"
		}
		fmt.Fprintf(w, "%s\t%s\tsink=%s\n", inst.Name, inst.MetricsURL(), sink)
	}
}
