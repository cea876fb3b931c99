// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the CurrentCost logger.
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/soothill/currentcost-logger/pkg/errors"
	"github.com/soothill/currentcost-logger/pkg/util"
)

// Sink types
const (
	SinkEmoncms  = "emoncms"
	SinkCSV      = "csv"
	SinkInfluxDB = "influxdb"
	SinkMQTT     = "mqtt"
)

// Config represents the application configuration
type Config struct {
	// Debug forces the debug log level
	Debug bool `yaml:"debug"`
	// FakeMode replaces the serial device with a simulated monitor
	FakeMode bool `yaml:"fake_mode"`

	Device        DeviceConfig        `yaml:"device"`
	Sink          SinkConfig          `yaml:"sink"`
	Emoncms       EmoncmsConfig       `yaml:"emoncms"`
	CSV           CSVConfig           `yaml:"csv"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Buffer        BufferConfig        `yaml:"buffer"`
	Upload        UploadConfig        `yaml:"upload"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Status        StatusConfig        `yaml:"status"`
}

// DeviceConfig holds serial port settings
type DeviceConfig struct {
	Port         string        `yaml:"port" validate:"required"`
	Baud         int           `yaml:"baud" validate:"min=1200,max=921600"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"min=1s,max=25s"`
	FakeInterval time.Duration `yaml:"fake_interval" validate:"min=100ms,max=1h"`
}

// SinkConfig selects where readings are delivered
type SinkConfig struct {
	Type string `yaml:"type" validate:"oneof=emoncms csv influxdb mqtt"`
}

// EmoncmsConfig holds emoncms input API settings
type EmoncmsConfig struct {
	URL       string        `yaml:"url" validate:"omitempty,url"`
	Node      string        `yaml:"node"`
	InputName string        `yaml:"input_name"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout" validate:"min=100ms,max=1m"`
}

// CSVConfig holds local log settings
type CSVConfig struct {
	Path string `yaml:"path"`
}

// InfluxDBConfig holds InfluxDB connection settings
type InfluxDBConfig struct {
	URL          string        `yaml:"url" validate:"omitempty,url"`
	Token        string        `yaml:"token"`
	Organization string        `yaml:"organization"`
	Bucket       string        `yaml:"bucket"`
	Timeout      time.Duration `yaml:"timeout" validate:"omitempty,min=100ms,max=1m"`
}

// MQTTConfig holds MQTT broker settings
type MQTTConfig struct {
	Broker   string        `yaml:"broker" validate:"omitempty,uri"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout" validate:"min=100ms,max=1m"`
}

// BufferConfig holds reading buffer settings
type BufferConfig struct {
	Capacity int `yaml:"capacity" validate:"min=1,max=1000000"`
}

// UploadConfig holds drain cycle settings
type UploadConfig struct {
	Budget time.Duration `yaml:"budget" validate:"min=100ms,max=5m"`
}

// BreakerConfig holds delivery circuit breaker settings
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold" validate:"min=1,max=1000"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" validate:"min=1s"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// NotificationsConfig holds alerting settings
type NotificationsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url" validate:"omitempty,url"`
}

// StatusConfig holds the metrics and health endpoint settings
type StatusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Address     string `yaml:"address"`
	Port        int    `yaml:"port" validate:"min=1,max=65535"`
	MDNS        bool   `yaml:"mdns"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	data, err := util.ReadFileSafely(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes, applying environment
// overrides and defaults before validating.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Status: StatusConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and no file
func Default() *Config {
	cfg := Config{Status: StatusConfig{Enabled: true}}
	cfg.setDefaults()
	return &cfg
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, parseErr := strconv.ParseBool(v)
			if parseErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: Failed to parse %s '%s': %v\n", key, v, parseErr)
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, parseErr := time.ParseDuration(v)
			if parseErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: Failed to parse %s '%s': %v\n", key, v, parseErr)
				return
			}
			*dst = d
		}
	}

	setBool("DEBUG", &c.Debug)
	setBool("FAKE_MODE", &c.FakeMode)
	setString("SERIAL_DEVICE", &c.Device.Port)
	setString("SINK_TYPE", &c.Sink.Type)

	setString("EMONCMS_URL", &c.Emoncms.URL)
	setString("EMONCMS_NODE", &c.Emoncms.Node)
	setString("EMONCMS_INPUT_NAME", &c.Emoncms.InputName)
	setString("EMONCMS_API_KEY", &c.Emoncms.APIKey)

	setString("CSV_PATH", &c.CSV.Path)

	setString("INFLUXDB_URL", &c.InfluxDB.URL)
	setString("INFLUXDB_TOKEN", &c.InfluxDB.Token)
	setString("INFLUXDB_ORG", &c.InfluxDB.Organization)
	setString("INFLUXDB_BUCKET", &c.InfluxDB.Bucket)

	setString("MQTT_BROKER", &c.MQTT.Broker)
	setString("MQTT_TOPIC", &c.MQTT.Topic)
	setString("MQTT_USERNAME", &c.MQTT.Username)
	setString("MQTT_PASSWORD", &c.MQTT.Password)

	setString("LOG_LEVEL", &c.Logging.Level)
	setString("SLACK_WEBHOOK_URL", &c.Notifications.SlackWebhookURL)
	setDuration("UPLOAD_BUDGET", &c.Upload.Budget)
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.Device.Port == "" {
		c.Device.Port = "/dev/ttyUSB0"
	}
	if c.Device.Baud == 0 {
		c.Device.Baud = 57600
	}
	if c.Device.ReadTimeout == 0 {
		c.Device.ReadTimeout = 25 * time.Second
	}
	if c.Device.FakeInterval == 0 {
		c.Device.FakeInterval = 6 * time.Second
	}
	if c.Sink.Type == "" {
		c.Sink.Type = SinkEmoncms
	}
	if c.Emoncms.URL == "" {
		c.Emoncms.URL = "https://emoncms.org"
	}
	if c.Emoncms.InputName == "" {
		c.Emoncms.InputName = "power"
	}
	if c.Emoncms.Timeout == 0 {
		c.Emoncms.Timeout = 4 * time.Second
	}
	if c.CSV.Path == "" {
		c.CSV.Path = "currentcost.csv"
	}
	if c.InfluxDB.Timeout == 0 {
		c.InfluxDB.Timeout = 4 * time.Second
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "currentcost-logger"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "currentcost/power"
	}
	if c.MQTT.Timeout == 0 {
		c.MQTT.Timeout = 4 * time.Second
	}
	if c.Buffer.Capacity == 0 {
		c.Buffer.Capacity = 14400
	}
	if c.Upload.Budget == 0 {
		c.Upload.Budget = 5 * time.Second
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 3
	}
	if c.Breaker.ResetTimeout == 0 {
		c.Breaker.ResetTimeout = 60 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Debug {
		c.Logging.Level = "debug"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Status.Address == "" {
		c.Status.Address = "localhost"
	}
	if c.Status.Port == 0 {
		c.Status.Port = 9090
	}
	if c.Status.ServiceName == "" {
		c.Status.ServiceName = "currentcost-logger"
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML key
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return translateValidationError(err)
	}

	switch c.Sink.Type {
	case SinkEmoncms:
		return c.validateEmoncms()
	case SinkCSV:
		return c.validateCSV()
	case SinkInfluxDB:
		return c.validateInfluxDB()
	case SinkMQTT:
		return c.validateMQTT()
	}
	return nil
}

// translateValidationError turns the first validator failure into a ConfigError
func translateValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	reason := fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return errors.NewConfigError(field, fmt.Sprintf("%v", fe.Value()),
		fmt.Errorf("%w: failed %q check", errors.ErrInvalidConfig, reason))
}

func required(field, value string) error {
	if value == "" {
		return errors.NewConfigError(field, "", fmt.Errorf("%w: %s is required", errors.ErrInvalidConfig, field))
	}
	return nil
}

// validateEmoncms validates the emoncms settings
func (c *Config) validateEmoncms() error {
	for _, f := range []struct{ name, value string }{
		{"emoncms.url", c.Emoncms.URL},
		{"emoncms.node", c.Emoncms.Node},
		{"emoncms.input_name", c.Emoncms.InputName},
		{"emoncms.api_key", c.Emoncms.APIKey},
	} {
		if err := required(f.name, f.value); err != nil {
			return err
		}
	}

	parsedURL, parseErr := url.Parse(c.Emoncms.URL)
	if parseErr != nil {
		return errors.NewConfigError("emoncms.url", c.Emoncms.URL, parseErr)
	}
	return validateURLSecurity("emoncms.url", parsedURL)
}

// validateCSV validates the local log settings
func (c *Config) validateCSV() error {
	return required("csv.path", c.CSV.Path)
}

// validateInfluxDB validates the InfluxDB configuration
func (c *Config) validateInfluxDB() error {
	if err := required("influxdb.url", c.InfluxDB.URL); err != nil {
		return err
	}

	parsedURL, parseErr := url.Parse(c.InfluxDB.URL)
	if parseErr != nil {
		return errors.NewConfigError("influxdb.url", c.InfluxDB.URL, parseErr)
	}
	if securityErr := validateURLSecurity("influxdb.url", parsedURL); securityErr != nil {
		return securityErr
	}

	if err := required("influxdb.token", c.InfluxDB.Token); err != nil {
		return err
	}
	if len(c.InfluxDB.Token) < 8 {
		return errors.NewConfigError("influxdb.token", "",
			fmt.Errorf("%w: influxdb.token must be at least 8 characters long", errors.ErrInvalidConfig))
	}
	if err := required("influxdb.organization", c.InfluxDB.Organization); err != nil {
		return err
	}
	return required("influxdb.bucket", c.InfluxDB.Bucket)
}

// validateMQTT validates the MQTT configuration
func (c *Config) validateMQTT() error {
	if err := required("mqtt.broker", c.MQTT.Broker); err != nil {
		return err
	}
	if strings.ContainsAny(c.MQTT.Topic, "+#") {
		return errors.NewConfigError("mqtt.topic", c.MQTT.Topic,
			fmt.Errorf("%w: mqtt.topic must not contain wildcards", errors.ErrInvalidConfig))
	}
	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections
func validateURLSecurity(field string, parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return errors.NewConfigError(field, parsedURL.Redacted(),
			fmt.Errorf("%w: %s must use HTTPS for non-local connections (got %s)", errors.ErrInvalidConfig, field, parsedURL.Scheme))
	}

	return nil
}
