package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the caphost runtime.
//
// It holds the static runtime settings loaded from YAML at boot. The
// provisioned settings (Wi-Fi credentials, broker address, device id)
// are NOT here - they live in the persistent store because they are
// written at runtime by the provisioning portal and erased on factory
// reset.
type Config struct {
	Device       DeviceConfig       `yaml:"device"`
	HTTP         HTTPConfig         `yaml:"http"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Store        StoreConfig        `yaml:"store"`
	Network      NetworkConfig      `yaml:"network"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Tools        ToolsConfig        `yaml:"tools"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DeviceConfig contains device identity defaults.
//
// The provisioned device id (from the store) takes precedence; these
// values only seed identity when nothing has been provisioned yet.
type DeviceConfig struct {
	// IDPrefix is prepended to the MAC-derived fallback device id.
	IDPrefix string `yaml:"id_prefix"`

	// Firmware is the firmware/build identity string reported in announce.
	Firmware string `yaml:"firmware"`
}

// HTTPConfig contains the local status HTTP server settings.
type HTTPConfig struct {
	Port     int               `yaml:"port"`
	Timeouts HTTPTimeoutConfig `yaml:"timeouts"`
}

// HTTPTimeoutConfig contains HTTP timeout settings in seconds.
type HTTPTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// MQTTConfig contains MQTT session behaviour settings.
//
// The broker host and port come from the provisioned store, not from
// this file.
type MQTTConfig struct {
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Intervals MQTTIntervalConfig  `yaml:"intervals"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// MQTTIntervalConfig contains periodic publish intervals in seconds.
type MQTTIntervalConfig struct {
	// Status is the heartbeat publish interval.
	Status int `yaml:"status"`

	// Announce is the retained announce republish interval.
	Announce int `yaml:"announce"`
}

// DispatchConfig contains command dispatch settings.
type DispatchConfig struct {
	// QueueCapacity is the bounded job queue size. Jobs arriving while
	// the queue is full are dropped (drop-newest).
	QueueCapacity int `yaml:"queue_capacity"`

	// MaxPayloadBytes is the largest accepted inbound command payload.
	MaxPayloadBytes int `yaml:"max_payload_bytes"`

	// SlowWarnSeconds logs a warning when a capability invocation runs
	// longer than this. 0 disables the check. The invocation is never
	// interrupted.
	SlowWarnSeconds int `yaml:"slow_warn_seconds"`
}

// StoreConfig contains persistent key/value store settings.
type StoreConfig struct {
	Path string `yaml:"path"`

	// BusyTimeout is how long a locked write waits, in seconds.
	BusyTimeout int `yaml:"busy_timeout"`
}

// NetworkConfig contains network manager settings.
type NetworkConfig struct {
	// Backend selects the network manager implementation: "nmcli" shells
	// out to NetworkManager, "null" assumes the link is already up
	// (wired or externally managed deployments).
	Backend string `yaml:"backend"`

	// Interface is the wireless interface name for the nmcli backend.
	Interface string `yaml:"interface"`

	// ConnectTimeout is the bounded station-join timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// RetryInterval is how often to retry the link after loss, in seconds.
	RetryInterval int `yaml:"retry_interval"`
}

// ProvisioningConfig contains captive-portal settings.
type ProvisioningConfig struct {
	// APPassword is the WPA2 password for the setup access point.
	APPassword string `yaml:"ap_password"`

	// APPrefix is prepended to the MAC-derived access point SSID.
	APPrefix string `yaml:"ap_prefix"`

	// Port is the portal HTTP port (80 so captive-portal probes land).
	Port int `yaml:"port"`
}

// ToolsConfig wires the built-in capabilities to host resources.
type ToolsConfig struct {
	// CameraCommand is the external capture command producing a JPEG
	// on stdout. Empty disables the capture_image capability.
	CameraCommand string `yaml:"camera_command"`

	// CameraTimeout bounds one capture, in seconds.
	CameraTimeout int `yaml:"camera_timeout"`

	// LEDPixels is the light strip length for pattern rendering.
	LEDPixels int `yaml:"led_pixels"`

	// ImpactThreshold arms the impact monitor when positive.
	ImpactThreshold float64 `yaml:"impact_threshold"`
}

// InfluxDBConfig contains the optional port-sample sink settings.
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

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CAPHOST_SECTION_KEY
// For example: CAPHOST_STORE_PATH, CAPHOST_HTTP_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config with sensible defaults.
//
// A queue of 4, status every 30s and announce every 5min suit a small
// single-device deployment.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			IDPrefix: "dev-",
			Firmware: "caphost/dev",
		},
		HTTP: HTTPConfig{
			Port: 8266,
			Timeouts: HTTPTimeoutConfig{
				Read:  15,
				Write: 30,
				Idle:  60,
			},
		},
		MQTT: MQTTConfig{
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 3,
				MaxDelay:     60,
			},
			Intervals: MQTTIntervalConfig{
				Status:   30,
				Announce: 300,
			},
		},
		Dispatch: DispatchConfig{
			QueueCapacity:   4,
			MaxPayloadBytes: 64 * 1024,
			SlowWarnSeconds: 0,
		},
		Store: StoreConfig{
			Path:        "./data/caphost.db",
			BusyTimeout: 5,
		},
		Network: NetworkConfig{
			Backend:        "null",
			Interface:      "wlan0",
			ConnectTimeout: 20,
			RetryInterval:  5,
		},
		Provisioning: ProvisioningConfig{
			APPassword: "12345678",
			APPrefix:   "MCP-SETUP-",
			Port:       80,
		},
		Tools: ToolsConfig{
			CameraTimeout: 10,
			LEDPixels:     12,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
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

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern:
// CAPHOST_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CAPHOST_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CAPHOST_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = port
		}
	}
	if v := os.Getenv("CAPHOST_NETWORK_BACKEND"); v != "" {
		cfg.Network.Backend = v
	}
	if v := os.Getenv("CAPHOST_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("CAPHOST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 1 and 65535")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Dispatch.QueueCapacity < 1 {
		errs = append(errs, "dispatch.queue_capacity must be at least 1")
	}
	if c.Dispatch.MaxPayloadBytes < 1 {
		errs = append(errs, "dispatch.max_payload_bytes must be positive")
	}

	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	switch c.Network.Backend {
	case "nmcli", "null":
	default:
		errs = append(errs, "network.backend must be \"nmcli\" or \"null\"")
	}

	if c.Tools.LEDPixels < 1 {
		errs = append(errs, "tools.led_pixels must be at least 1")
	}

	// WPA2 requires an 8 character minimum; shorter values make the
	// setup access point fail to start.
	const minAPPasswordLength = 8
	if len(c.Provisioning.APPassword) < minAPPasswordLength {
		errs = append(errs, "provisioning.ap_password must be at least 8 characters")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set CAPHOST_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Idle) * time.Second
}

// StatusInterval returns the heartbeat publish interval as a Duration.
func (c MQTTIntervalConfig) StatusInterval() time.Duration {
	return time.Duration(c.Status) * time.Second
}

// AnnounceInterval returns the announce republish interval as a Duration.
func (c MQTTIntervalConfig) AnnounceInterval() time.Duration {
	return time.Duration(c.Announce) * time.Second
}

// GetConnectTimeout returns the station-join timeout as a Duration.
func (c *NetworkConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetRetryInterval returns the link retry interval as a Duration.
func (c *NetworkConfig) GetRetryInterval() time.Duration {
	return time.Duration(c.RetryInterval) * time.Second
}

// SlowWarnThreshold returns the slow-invocation warning threshold.
// Zero means the check is disabled.
func (c *DispatchConfig) SlowWarnThreshold() time.Duration {
	return time.Duration(c.SlowWarnSeconds) * time.Second
}
