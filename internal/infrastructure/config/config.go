package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "NGBS_CONFIG"

// DefaultPath is used when neither --config nor NGBS_CONFIG is set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the NGBS Icon bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge      BridgeConfig      `yaml:"bridge"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Controllers ControllersConfig `yaml:"controllers"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Locale      string            `yaml:"locale"`
}

// BridgeConfig contains bridge identity and timing settings.
type BridgeConfig struct {
	ID string `yaml:"id"`

	// HealthInterval is how often bridge health is published.
	// Default: 30s
	HealthInterval time.Duration `yaml:"health_interval"`

	// PollInterval is the refresh cadence for every polled controller.
	// Default: 60s
	PollInterval time.Duration `yaml:"poll_interval"`

	// SettleDelay is the wait between a target change and the re-read of
	// controller state. Zero disables the re-read.
	// Default: 2s
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// TopicPrefix is the first level of every bridge topic, e.g. "ngbs" or
	// "site/heating". It must not contain wildcards.
	TopicPrefix string `yaml:"topic_prefix"`

	// KeepAlive is the broker keepalive interval in seconds.
	KeepAlive int `yaml:"keep_alive"`

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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Sizes are megabytes, ages are days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// ControllersConfig contains transport settings for NGBS Icon controllers.
type ControllersConfig struct {
	Modbus  ModbusConfig  `yaml:"modbus"`
	Service ServiceConfig `yaml:"service"`

	// Timeout bounds every request to a controller.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`
}

// ModbusConfig contains Modbus-TCP defaults.
type ModbusConfig struct {
	Port   int `yaml:"port"`
	UnitID int `yaml:"unit_id"`
}

// ServiceConfig contains vendor service protocol defaults.
type ServiceConfig struct {
	Port int `yaml:"port"`
}

// DiscoveryConfig contains subnet scan settings.
type DiscoveryConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	BatchSize    int           `yaml:"batch_size"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NGBS_SECTION_KEY
// For example: NGBS_DATABASE_PATH, NGBS_MQTT_HOST
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

// ResolvePath returns the config path to load: the flag value when set,
// then NGBS_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultPath
}

// Default returns the built-in configuration, used when no file exists
// (e.g. one-shot CLI commands).
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "ngbs-bridge-01",
			HealthInterval: 30 * time.Second,
			PollInterval:   60 * time.Second,
			SettleDelay:    2 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/ngbsicon.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ngbs-icon-bridge",
			},
			QoS:         1,
			TopicPrefix: "ngbs",
			KeepAlive:   60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 120,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/ngbsicon.log",
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
		Controllers: ControllersConfig{
			Modbus: ModbusConfig{
				Port:   502,
				UnitID: 1,
			},
			Service: ServiceConfig{
				Port: 7992,
			},
			Timeout: 5 * time.Second,
		},
		Discovery: DiscoveryConfig{
			ProbeTimeout: 2 * time.Second,
			BatchSize:    10,
		},
		Locale: "en",
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NGBS_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("NGBS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bridge.PollInterval = d
		}
	}

	if v := os.Getenv("NGBS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("NGBS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NGBS_MQTT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = p
		}
	}
	if v := os.Getenv("NGBS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NGBS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("NGBS_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}

	if v := os.Getenv("NGBS_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("NGBS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("NGBS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NGBS_LOCALE"); v != "" {
		cfg.Locale = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.PollInterval <= 0 {
		errs = append(errs, "bridge.poll_interval must be positive")
	}
	if c.Bridge.HealthInterval <= 0 {
		errs = append(errs, "bridge.health_interval must be positive")
	}
	if c.Bridge.SettleDelay < 0 {
		errs = append(errs, "bridge.settle_delay must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if p := c.MQTT.TopicPrefix; p == "" || strings.ContainsAny(p, "+#") ||
		strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") || strings.Contains(p, "//") {
		errs = append(errs, "mqtt.topic_prefix must be non-empty without wildcards or empty levels")
	}
	if c.MQTT.KeepAlive < 1 {
		errs = append(errs, "mqtt.keep_alive must be positive")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if c.Controllers.Modbus.Port < 1 || c.Controllers.Modbus.Port > 65535 {
		errs = append(errs, "controllers.modbus.port must be between 1 and 65535")
	}
	if c.Controllers.Modbus.UnitID < 0 || c.Controllers.Modbus.UnitID > 247 {
		errs = append(errs, "controllers.modbus.unit_id must be between 0 and 247")
	}
	if c.Controllers.Service.Port < 1 || c.Controllers.Service.Port > 65535 {
		errs = append(errs, "controllers.service.port must be between 1 and 65535")
	}
	if c.Controllers.Timeout <= 0 {
		errs = append(errs, "controllers.timeout must be positive")
	}

	if c.Discovery.BatchSize < 1 {
		errs = append(errs, "discovery.batch_size must be at least 1")
	}
	if c.Discovery.ProbeTimeout <= 0 {
		errs = append(errs, "discovery.probe_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
