package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "MIIO_BRIDGE_"

// Config is the root configuration structure for the miio bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge      BridgeConfig   `yaml:"bridge"`
	Library     LibraryConfig  `yaml:"library"`
	DevicesFile string         `yaml:"devices_file"`
	Database    DatabaseConfig `yaml:"database"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig `yaml:"influxdb"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// BridgeConfig contains command service settings.
type BridgeConfig struct {
	// ID identifies this bridge in health messages.
	ID string `yaml:"id"`

	// HealthInterval is the health publish interval in seconds.
	HealthInterval int `yaml:"health_interval"`

	// Workers is the number of commands waited on concurrently.
	Workers int `yaml:"workers"`

	// QueueSize bounds commands waiting for a worker.
	QueueSize int `yaml:"queue_size"`

	// CommandTimeout is the default wait for a result, in seconds.
	CommandTimeout int `yaml:"command_timeout"`
}

// LibraryConfig contains python-miio helper settings.
type LibraryConfig struct {
	// Python is the interpreter used to run the helper.
	// Default: "python3"
	Python string `yaml:"python"`

	// HelperPath overrides the embedded helper script.
	HelperPath string `yaml:"helper_path,omitempty"`

	// PythonPath entries are prepended to PYTHONPATH, e.g. a python-miio
	// source checkout.
	PythonPath []string `yaml:"python_path,omitempty"`

	// Serialize forces one call at a time even if the library allows more.
	Serialize bool `yaml:"serialize"`

	// StartupTimeout is how long to wait for the helper's first answer, in seconds.
	// Default: 30
	StartupTimeout int `yaml:"startup_timeout"`

	// RestartDelaySeconds is the base delay before restarting a crashed helper.
	// Default: 5
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	// Default: 10
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// HealthCheckInterval is how often to ping an idle helper.
	// Default: 30s
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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
	MaxAttempts  int `yaml:"max_attempts"` // consecutive failures before exit; 0 = never
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
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MIIO_BRIDGE_SECTION_KEY
// For example: MIIO_BRIDGE_DATABASE_PATH, MIIO_BRIDGE_MQTT_HOST
//
// A relative devices_file is resolved against the config file's directory.
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

	if cfg.DevicesFile != "" && !filepath.IsAbs(cfg.DevicesFile) {
		cfg.DevicesFile = filepath.Join(filepath.Dir(path), cfg.DevicesFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "miio",
			HealthInterval: 30,
			Workers:        4,
			QueueSize:      64,
			CommandTimeout: 30,
		},
		Library: LibraryConfig{
			Python:              "python3",
			StartupTimeout:      30,
			RestartDelaySeconds: 5,
			MaxRestartAttempts:  10,
			HealthCheckInterval: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/miio-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-miio",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket: "miio",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv(EnvPrefix + "DEVICES_FILE"); v != "" {
		cfg.DevicesFile = v
	}

	// Library
	if v := os.Getenv(EnvPrefix + "PYTHON"); v != "" {
		cfg.Library.Python = v
	}
	if v := os.Getenv(EnvPrefix + "PYTHONPATH"); v != "" {
		cfg.Library.PythonPath = filepath.SplitList(v)
	}

	// Database
	if v := os.Getenv(EnvPrefix + "DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv(EnvPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv(EnvPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.Workers < 1 {
		errs = append(errs, "bridge.workers must be at least 1")
	}
	if c.Bridge.QueueSize < 1 {
		errs = append(errs, "bridge.queue_size must be at least 1")
	}
	if c.Bridge.CommandTimeout < 1 {
		errs = append(errs, "bridge.command_timeout must be at least 1 second")
	}

	if c.Library.Python == "" && c.Library.HelperPath == "" {
		errs = append(errs, "library.python is required")
	}
	if c.Library.StartupTimeout < 1 {
		errs = append(errs, "library.startup_timeout must be at least 1 second")
	}
	if c.Library.MaxRestartAttempts < 0 {
		errs = append(errs, "library.max_restart_attempts must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "mqtt.reconnect.max_attempts must not be negative")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetCommandTimeout returns the default command wait as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Bridge.CommandTimeout) * time.Second
}

// GetStartupTimeout returns the helper startup timeout as a Duration.
func (c *Config) GetStartupTimeout() time.Duration {
	return time.Duration(c.Library.StartupTimeout) * time.Second
}

// GetRestartDelay returns the helper restart delay as a Duration.
func (c *Config) GetRestartDelay() time.Duration {
	return time.Duration(c.Library.RestartDelaySeconds) * time.Second
}
