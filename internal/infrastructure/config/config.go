package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the NMR lab core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Lab          LabConfig          `yaml:"lab"`
	Output       OutputConfig       `yaml:"output"`
	Spectrometer SpectrometerConfig `yaml:"spectrometer"`
	Environment  EnvironmentConfig  `yaml:"environment"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// LabConfig identifies the instrument station.
type LabConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// OutputConfig contains run output settings.
type OutputConfig struct {
	// BaseDir is the directory under which one directory per run is created.
	BaseDir string `yaml:"base_dir"`
}

// Spectrometer drivers.
const (
	DriverSimulated = "simulated"
	DriverADQ       = "adq"
	DriverGPIB      = "gpib"
	DriverSerial    = "serial"
)

// SpectrometerConfig contains digitizer and acquisition settings.
type SpectrometerConfig struct {
	// Driver selects the device implementation: "simulated" or "adq".
	Driver string `yaml:"driver"`

	// Gateway is the digitizer gateway URL used by the "adq" driver.
	// Format: "unix:///run/adqd.sock" or "tcp://host:6740"
	Gateway string `yaml:"gateway"`

	// ConnectTimeout bounds the initial gateway handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RecordLength is the number of samples per channel in one record.
	RecordLength int `yaml:"record_length"`

	// SampleRateHz is the fixed digitizer sample clock.
	SampleRateHz int `yaml:"sample_rate_hz"`

	// Window is the minimum enable hold time per repeat. The engine holds
	// for the longer of Window and the sequence receive window.
	Window time.Duration `yaml:"window"`

	// Settle is the fixed recovery interval between repeats.
	Settle time.Duration `yaml:"settle"`

	// MaxAttempts bounds attempts per repeat. 1 means log and move on.
	MaxAttempts int `yaml:"max_attempts"`

	// FallbackToSimulated builds the simulated device when the driver
	// cannot be opened, instead of failing startup.
	FallbackToSimulated bool `yaml:"fallback_to_simulated"`

	// Daemon optionally runs the gateway daemon as a child process.
	Daemon GatewayDaemonConfig `yaml:"daemon"`
}

// GatewayDaemonConfig describes a gateway daemon started and supervised by
// nmrlab. Used only with the "adq" driver.
type GatewayDaemonConfig struct {
	// Managed starts Binary before connecting and stops it on exit.
	Managed bool     `yaml:"managed"`
	Binary  string   `yaml:"binary"`
	Args    []string `yaml:"args"`

	// RestartOnFailure restarts the daemon when it exits during a run.
	RestartOnFailure bool          `yaml:"restart_on_failure"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	MaxRestarts      int           `yaml:"max_restarts"`

	// ReadyTimeout bounds the wait for the gateway socket to accept connections.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// EnvironmentConfig contains PPMS controller settings.
type EnvironmentConfig struct {
	// Driver selects the instrument transport: "simulated", "gpib" or "serial".
	Driver string `yaml:"driver"`

	// Port is the serial device (Prologix adapter or RS-232 line).
	Port string `yaml:"port"`

	// Baud is used by the "serial" driver.
	Baud int `yaml:"baud"`

	// GPIBAddress is the instrument primary address behind the Prologix adapter.
	GPIBAddress int `yaml:"gpib_address"`

	// PollInterval is the fixed delay between status polls while a
	// set-point is settling.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReadTimeout bounds a single query response.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// SetpointTimeout bounds the wait for a set-point to stabilise.
	// 0 waits indefinitely.
	SetpointTimeout time.Duration `yaml:"setpoint_timeout"`

	// SimulatedSpeedup scales the simulated instrument's clock so ramps
	// finish faster than real time. 1 is real time.
	SimulatedSpeedup float64 `yaml:"simulated_speedup"`

	// FallbackToSimulated builds the simulated instrument when the
	// transport cannot be opened.
	FallbackToSimulated bool `yaml:"fallback_to_simulated"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // stdout, stderr or file

	// File is the logbook path used when Output is "file".
	File string `yaml:"file"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NMRLAB_SECTION_KEY
// For example: NMRLAB_OUTPUT_DIR, NMRLAB_SPECTROMETER_DRIVER
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
// Environment overrides are still applied.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Lab: LabConfig{
			ID:   "nmr-lab-01",
			Name: "NMR Lab",
		},
		Output: OutputConfig{
			BaseDir: "./data",
		},
		Spectrometer: SpectrometerConfig{
			Driver:              DriverSimulated,
			Gateway:             "unix:///run/adqd.sock",
			ConnectTimeout:      10 * time.Second,
			RecordLength:        65536,
			SampleRateHz:        800_000_000,
			Window:              time.Millisecond,
			Settle:              500 * time.Millisecond,
			MaxAttempts:         1,
			FallbackToSimulated: true,
			Daemon: GatewayDaemonConfig{
				Binary:           "/usr/local/bin/adqd",
				RestartOnFailure: true,
				RestartDelay:     2 * time.Second,
				MaxRestarts:      5,
				ReadyTimeout:     10 * time.Second,
			},
		},
		Environment: EnvironmentConfig{
			Driver:              DriverSimulated,
			Port:                "/dev/ttyUSB0",
			Baud:                9600,
			GPIBAddress:         15,
			PollInterval:        2 * time.Second,
			ReadTimeout:         5 * time.Second,
			SimulatedSpeedup:    1,
			FallbackToSimulated: true,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nmrlab-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "nmrlab",
			Bucket:        "conditions",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NMRLAB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Output
	if v := os.Getenv("NMRLAB_OUTPUT_DIR"); v != "" {
		cfg.Output.BaseDir = v
	}

	// Instruments
	if v := os.Getenv("NMRLAB_SPECTROMETER_DRIVER"); v != "" {
		cfg.Spectrometer.Driver = v
	}
	if v := os.Getenv("NMRLAB_SPECTROMETER_GATEWAY"); v != "" {
		cfg.Spectrometer.Gateway = v
	}
	if v := os.Getenv("NMRLAB_ENVIRONMENT_DRIVER"); v != "" {
		cfg.Environment.Driver = v
	}
	if v := os.Getenv("NMRLAB_ENVIRONMENT_PORT"); v != "" {
		cfg.Environment.Port = v
	}

	// MQTT
	if v := os.Getenv("NMRLAB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NMRLAB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NMRLAB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("NMRLAB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("NMRLAB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NMRLAB_LOG_FILE"); v != "" {
		cfg.Logging.Output = "file"
		cfg.Logging.File = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Lab.ID == "" {
		errs = append(errs, "lab.id is required")
	}

	// Spectrometer
	switch c.Spectrometer.Driver {
	case DriverSimulated:
	case DriverADQ:
		if c.Spectrometer.Gateway == "" {
			errs = append(errs, "spectrometer.gateway is required for the adq driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("spectrometer.driver %q must be simulated or adq", c.Spectrometer.Driver))
	}
	if c.Spectrometer.RecordLength <= 0 {
		errs = append(errs, "spectrometer.record_length must be positive")
	}
	if c.Spectrometer.SampleRateHz <= 0 {
		errs = append(errs, "spectrometer.sample_rate_hz must be positive")
	}
	if c.Spectrometer.MaxAttempts < 1 {
		errs = append(errs, "spectrometer.max_attempts must be at least 1")
	}
	if c.Spectrometer.Settle < 0 || c.Spectrometer.Window < 0 {
		errs = append(errs, "spectrometer.window and spectrometer.settle must not be negative")
	}
	if d := c.Spectrometer.Daemon; d.Managed && c.Spectrometer.Driver == DriverADQ {
		if d.Binary == "" {
			errs = append(errs, "spectrometer.daemon.binary is required when the daemon is managed")
		}
		if d.MaxRestarts < 0 {
			errs = append(errs, "spectrometer.daemon.max_restarts must not be negative")
		}
	}

	// Environment
	switch c.Environment.Driver {
	case DriverSimulated:
	case DriverGPIB, DriverSerial:
		if c.Environment.Port == "" {
			errs = append(errs, "environment.port is required for the "+c.Environment.Driver+" driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("environment.driver %q must be simulated, gpib or serial", c.Environment.Driver))
	}
	if c.Environment.Driver == DriverGPIB && (c.Environment.GPIBAddress < 0 || c.Environment.GPIBAddress > 30) {
		errs = append(errs, "environment.gpib_address must be between 0 and 30")
	}
	if c.Environment.Driver == DriverSerial && c.Environment.Baud <= 0 {
		errs = append(errs, "environment.baud must be positive")
	}
	if c.Environment.PollInterval <= 0 {
		errs = append(errs, "environment.poll_interval must be positive")
	}
	if c.Environment.SetpointTimeout < 0 {
		errs = append(errs, "environment.setpoint_timeout must not be negative")
	}
	if c.Environment.Driver == DriverSimulated && c.Environment.SimulatedSpeedup <= 0 {
		errs = append(errs, "environment.simulated_speedup must be positive")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && (c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535) {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Logging
	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "stderr", "":
	case "file":
		if c.Logging.File == "" {
			errs = append(errs, "logging.file is required when logging.output is file")
		}
	default:
		errs = append(errs, fmt.Sprintf("logging.output %q must be stdout, stderr or file", c.Logging.Output))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
