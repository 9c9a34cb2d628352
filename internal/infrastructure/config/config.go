package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds accepted in device.transport.
const (
	TransportSerial = "serial"
	TransportMQTT   = "mqtt"
)

// Config is the root configuration structure for the SSCMA host daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Health    HealthConfig    `yaml:"health"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig selects the edge device and the byte stream used to reach it.
type DeviceConfig struct {
	// Transport is either "serial" or "mqtt".
	Transport string `yaml:"transport"`

	Serial SerialConfig `yaml:"serial"`

	// ClientID is the device's MQTT client id. The device listens on
	// <topic_prefix>/<client_id>/rx and publishes on <topic_prefix>/<client_id>/tx.
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// SerialConfig contains serial port settings.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ProtocolConfig contains AT command engine settings.
type ProtocolConfig struct {
	// Timeout is the per-attempt reply deadline.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// TryCount is the number of attempts before a command is reported as unanswered.
	// Default: 3
	TryCount int `yaml:"try_count"`

	// IdentityTimeout bounds identity probes during initialization and keepalive.
	// Default: 500ms
	IdentityTimeout time.Duration `yaml:"identity_timeout"`

	// MaxFrameSize bounds the receive buffer while waiting for a frame terminator.
	// Default: 4 MiB
	MaxFrameSize int `yaml:"max_frame_size"`

	// EventQueueSize bounds events and log lines waiting for dispatch.
	// Default: 256
	EventQueueSize int `yaml:"event_queue_size"`
}

// HealthConfig contains device supervision settings.
type HealthConfig struct {
	Heartbeat  time.Duration `yaml:"heartbeat"`
	Keepalive  time.Duration `yaml:"keepalive"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls what the event history keeps.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// StoreImages keeps base64 frames attached to events. They are large.
	StoreImages bool `yaml:"store_images"`

	// RetentionDays prunes rows older than this at startup. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
// Write must exceed protocol.timeout * protocol.try_count or slow
// device commands are cut off mid-response.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// Load builds the configuration in three layers: built-in defaults, then
// the YAML file at path, then SSCMA_* environment variables (see
// envOverrides). The result is validated before it is returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Transport: TransportSerial,
			Serial: SerialConfig{
				Port:        "/dev/ttyACM0",
				BaudRate:    921600,
				ReadTimeout: 100 * time.Millisecond,
			},
			TopicPrefix: "sscma/v0",
		},
		Protocol: ProtocolConfig{
			Timeout:         10 * time.Second,
			TryCount:        3,
			IdentityTimeout: 500 * time.Millisecond,
			MaxFrameSize:    4 << 20,
			EventQueueSize:  256,
		},
		Health: HealthConfig{
			Heartbeat:  time.Second,
			Keepalive:  60 * time.Second,
			RetryDelay: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/sscma.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sscma-host",
			},
			QoS: 0,
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
				Write: 60,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
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

// envOverride binds one environment variable to a config field.
type envOverride struct {
	name  string
	apply func(cfg *Config, value string)
}

func setString(field func(*Config) *string) func(*Config, string) {
	return func(cfg *Config, v string) { *field(cfg) = v }
}

// setInt ignores values that do not parse; Validate then sees the file value.
func setInt(field func(*Config) *int) func(*Config, string) {
	return func(cfg *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*field(cfg) = n
		}
	}
}

// envOverrides lists the settings that deployments commonly inject,
// secrets included, so they need not live in the YAML file.
var envOverrides = []envOverride{
	{"SSCMA_DEVICE_TRANSPORT", setString(func(c *Config) *string { return &c.Device.Transport })},
	{"SSCMA_DEVICE_CLIENT_ID", setString(func(c *Config) *string { return &c.Device.ClientID })},
	{"SSCMA_SERIAL_PORT", setString(func(c *Config) *string { return &c.Device.Serial.Port })},
	{"SSCMA_SERIAL_BAUD_RATE", setInt(func(c *Config) *int { return &c.Device.Serial.BaudRate })},
	{"SSCMA_DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"SSCMA_MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"SSCMA_MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"SSCMA_MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"SSCMA_API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"SSCMA_API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},
	{"SSCMA_INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"SSCMA_LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate reports every invalid setting at once, joined by "; ".
func (c *Config) Validate() error {
	var errs []string

	switch c.Device.Transport {
	case TransportSerial:
		if c.Device.Serial.Port == "" {
			errs = append(errs, "device.serial.port is required for serial transport")
		}
		if c.Device.Serial.BaudRate <= 0 {
			errs = append(errs, "device.serial.baud_rate must be positive")
		}
	case TransportMQTT:
		if c.Device.ClientID == "" {
			errs = append(errs, "device.client_id is required for mqtt transport")
		}
		if c.Device.TopicPrefix == "" {
			errs = append(errs, "device.topic_prefix is required for mqtt transport")
		}
	default:
		errs = append(errs, fmt.Sprintf("device.transport must be %q or %q", TransportSerial, TransportMQTT))
	}

	if c.Protocol.Timeout <= 0 {
		errs = append(errs, "protocol.timeout must be positive")
	}
	if c.Protocol.TryCount < 1 {
		errs = append(errs, "protocol.try_count must be at least 1")
	}
	if c.Protocol.IdentityTimeout <= 0 {
		errs = append(errs, "protocol.identity_timeout must be positive")
	}

	if c.Health.Heartbeat <= 0 {
		errs = append(errs, "health.heartbeat must be positive")
	}
	if c.Health.Keepalive < c.Health.Heartbeat {
		errs = append(errs, "health.keepalive must not be shorter than health.heartbeat")
	}
	if c.Health.RetryDelay <= 0 {
		errs = append(errs, "health.retry_delay must be positive")
	}

	if c.History.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadTimeout is the HTTP server read timeout.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return time.Duration(t.Read) * time.Second }

// WriteTimeout is the HTTP server write timeout.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return time.Duration(t.Write) * time.Second }

// IdleTimeout is the HTTP keep-alive idle timeout.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return time.Duration(t.Idle) * time.Second }
