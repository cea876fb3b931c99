// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/soothill/currentcost-logger/pkg/errors"
)

// validConfig returns a complete emoncms configuration
func validConfig() Config {
	cfg := Default()
	cfg.Emoncms.Node = "10"
	cfg.Emoncms.APIKey = "abc123"
	return *cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid emoncms config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing emoncms node",
			mutate:  func(c *Config) { c.Emoncms.Node = "" },
			wantErr: "emoncms.node",
		},
		{
			name:    "missing emoncms api key",
			mutate:  func(c *Config) { c.Emoncms.APIKey = "" },
			wantErr: "emoncms.api_key",
		},
		{
			name:    "plain http to remote emoncms",
			mutate:  func(c *Config) { c.Emoncms.URL = "http://emoncms.org" },
			wantErr: "HTTPS",
		},
		{
			name:   "plain http to local emoncms",
			mutate: func(c *Config) { c.Emoncms.URL = "http://192.168.1.20/emoncms" },
		},
		{
			name:    "invalid emoncms url",
			mutate:  func(c *Config) { c.Emoncms.URL = "not a url" },
			wantErr: "emoncms.url",
		},
		{
			name:    "unknown sink type",
			mutate:  func(c *Config) { c.Sink.Type = "postgres" },
			wantErr: "sink.type",
		},
		{
			name: "csv sink needs only a path",
			mutate: func(c *Config) {
				c.Sink.Type = SinkCSV
				c.Emoncms.APIKey = ""
			},
		},
		{
			name: "csv sink without path",
			mutate: func(c *Config) {
				c.Sink.Type = SinkCSV
				c.CSV.Path = ""
			},
			wantErr: "csv.path",
		},
		{
			name: "influxdb sink",
			mutate: func(c *Config) {
				c.Sink.Type = SinkInfluxDB
				c.InfluxDB = InfluxDBConfig{
					URL:          "http://localhost:8086",
					Token:        "test-token",
					Organization: "test-org",
					Bucket:       "test-bucket",
				}
			},
		},
		{
			name: "influxdb sink with short token",
			mutate: func(c *Config) {
				c.Sink.Type = SinkInfluxDB
				c.InfluxDB = InfluxDBConfig{
					URL:          "http://localhost:8086",
					Token:        "short",
					Organization: "test-org",
					Bucket:       "test-bucket",
				}
			},
			wantErr: "influxdb.token",
		},
		{
			name: "influxdb sink without bucket",
			mutate: func(c *Config) {
				c.Sink.Type = SinkInfluxDB
				c.InfluxDB = InfluxDBConfig{
					URL:          "http://localhost:8086",
					Token:        "test-token",
					Organization: "test-org",
				}
			},
			wantErr: "influxdb.bucket",
		},
		{
			name: "mqtt sink",
			mutate: func(c *Config) {
				c.Sink.Type = SinkMQTT
				c.MQTT.Broker = "tcp://localhost:1883"
			},
		},
		{
			name: "mqtt sink with wildcard topic",
			mutate: func(c *Config) {
				c.Sink.Type = SinkMQTT
				c.MQTT.Broker = "tcp://localhost:1883"
				c.MQTT.Topic = "home/+/power"
			},
			wantErr: "mqtt.topic",
		},
		{
			name:    "zero buffer capacity",
			mutate:  func(c *Config) { c.Buffer.Capacity = 0 },
			wantErr: "buffer.capacity",
		},
		{
			name:    "drain budget too short",
			mutate:  func(c *Config) { c.Upload.Budget = 10 * time.Millisecond },
			wantErr: "upload.budget",
		},
		{
			name:    "read timeout too short",
			mutate:  func(c *Config) { c.Device.ReadTimeout = 500 * time.Millisecond },
			wantErr: "device.read_timeout",
		},
		{
			name:    "read timeout beyond the serial port limit",
			mutate:  func(c *Config) { c.Device.ReadTimeout = 30 * time.Second },
			wantErr: "device.read_timeout",
		},
		{
			name: "influxdb write timeout too long",
			mutate: func(c *Config) {
				c.Sink.Type = SinkInfluxDB
				c.InfluxDB = InfluxDBConfig{
					URL:          "http://localhost:8086",
					Token:        "test-token",
					Organization: "test-org",
					Bucket:       "test-bucket",
					Timeout:      5 * time.Minute,
				}
			},
			wantErr: "influxdb.timeout",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "invalid slack webhook",
			mutate:  func(c *Config) { c.Notifications.SlackWebhookURL = "hooks" },
			wantErr: "notifications.slack_webhook_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() should fail with %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to mention %q", err.Error(), tt.wantErr)
			}
			if !errors.IsConfigError(err) {
				t.Errorf("Validate() error should be a ConfigError, got %T", err)
			}
			if !errors.Is(err, errors.ErrInvalidConfig) && !strings.Contains(tt.wantErr, "url") {
				t.Errorf("Validate() error should wrap ErrInvalidConfig")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("nonexistent-config.yaml")
	if err == nil {
		t.Error("Load() should fail when file doesn't exist")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "invalid.yaml", "invalid: yaml: content:\n  - missing\n  closing")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() should fail with invalid YAML")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", `emoncms:
  url: "https://emoncms.example.org/"
  node: 10
  input_name: cc128
  api_key: "abc123"
  timeout: 2s
buffer:
  capacity: 100
upload:
  budget: 3s
logging:
  level: warn
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Emoncms.URL != "https://emoncms.example.org/" {
		t.Errorf("Emoncms.URL = %v", cfg.Emoncms.URL)
	}
	if cfg.Emoncms.Node != "10" {
		t.Errorf("Emoncms.Node = %v, want 10", cfg.Emoncms.Node)
	}
	if cfg.Emoncms.InputName != "cc128" {
		t.Errorf("Emoncms.InputName = %v, want cc128", cfg.Emoncms.InputName)
	}
	if cfg.Emoncms.Timeout != 2*time.Second {
		t.Errorf("Emoncms.Timeout = %v, want 2s", cfg.Emoncms.Timeout)
	}
	if cfg.Buffer.Capacity != 100 {
		t.Errorf("Buffer.Capacity = %v, want 100", cfg.Buffer.Capacity)
	}
	if cfg.Upload.Budget != 3*time.Second {
		t.Errorf("Upload.Budget = %v, want 3s", cfg.Upload.Budget)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want warn/json", cfg.Logging)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", `emoncms:
  node: file-node
  api_key: file-key
logging:
  level: info
`)

	t.Setenv("EMONCMS_URL", "https://env.example.org")
	t.Setenv("EMONCMS_NODE", "env-node")
	t.Setenv("EMONCMS_INPUT_NAME", "env-input")
	t.Setenv("EMONCMS_API_KEY", "env-key")
	t.Setenv("FAKE_MODE", "true")
	t.Setenv("SERIAL_DEVICE", "/dev/ttyACM0")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("UPLOAD_BUDGET", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Emoncms.URL != "https://env.example.org" {
		t.Errorf("Emoncms.URL = %v, want https://env.example.org", cfg.Emoncms.URL)
	}
	if cfg.Emoncms.Node != "env-node" {
		t.Errorf("Emoncms.Node = %v, want env-node", cfg.Emoncms.Node)
	}
	if cfg.Emoncms.InputName != "env-input" {
		t.Errorf("Emoncms.InputName = %v, want env-input", cfg.Emoncms.InputName)
	}
	if cfg.Emoncms.APIKey != "env-key" {
		t.Errorf("Emoncms.APIKey = %v, want env-key", cfg.Emoncms.APIKey)
	}
	if !cfg.FakeMode {
		t.Error("FakeMode should be set from FAKE_MODE")
	}
	if cfg.Device.Port != "/dev/ttyACM0" {
		t.Errorf("Device.Port = %v, want /dev/ttyACM0", cfg.Device.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %v, want error", cfg.Logging.Level)
	}
	if cfg.Upload.Budget != 2*time.Second {
		t.Errorf("Upload.Budget = %v, want 2s", cfg.Upload.Budget)
	}
}

func TestLoad_InvalidEnvironmentValueIgnored(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", "emoncms:\n  node: '1'\n  api_key: k\n")

	t.Setenv("DEBUG", "sometimes")
	t.Setenv("UPLOAD_BUDGET", "soon")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Debug {
		t.Error("unparsable DEBUG should be ignored")
	}
	if cfg.Upload.Budget != 5*time.Second {
		t.Errorf("Upload.Budget = %v, want default 5s", cfg.Upload.Budget)
	}
}

func TestLoad_DebugForcesDebugLevel(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", `debug: true
emoncms:
  node: '1'
  api_key: k
logging:
  level: error
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", "emoncms:\n  node: '1'\n  api_key: k\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"device.port", cfg.Device.Port, "/dev/ttyUSB0"},
		{"device.baud", cfg.Device.Baud, 57600},
		{"device.read_timeout", cfg.Device.ReadTimeout, 25 * time.Second},
		{"device.fake_interval", cfg.Device.FakeInterval, 6 * time.Second},
		{"sink.type", cfg.Sink.Type, SinkEmoncms},
		{"emoncms.url", cfg.Emoncms.URL, "https://emoncms.org"},
		{"emoncms.input_name", cfg.Emoncms.InputName, "power"},
		{"emoncms.timeout", cfg.Emoncms.Timeout, 4 * time.Second},
		{"influxdb.timeout", cfg.InfluxDB.Timeout, 4 * time.Second},
		{"buffer.capacity", cfg.Buffer.Capacity, 14400},
		{"upload.budget", cfg.Upload.Budget, 5 * time.Second},
		{"breaker.enabled", cfg.Breaker.Enabled, false},
		{"breaker.failure_threshold", cfg.Breaker.FailureThreshold, uint32(3)},
		{"breaker.reset_timeout", cfg.Breaker.ResetTimeout, time.Minute},
		{"logging.level", cfg.Logging.Level, "info"},
		{"logging.format", cfg.Logging.Format, "console"},
		{"status.enabled", cfg.Status.Enabled, true},
		{"status.address", cfg.Status.Address, "localhost"},
		{"status.port", cfg.Status.Port, 9090},
		{"fake_mode", cfg.FakeMode, false},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("default %s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_StatusCanBeDisabled(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", `emoncms:
  node: '1'
  api_key: k
status:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Status.Enabled {
		t.Error("status.enabled: false should be honoured")
	}
}
