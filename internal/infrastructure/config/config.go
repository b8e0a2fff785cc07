package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for sensecraft-core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Ingress   IngressConfig   `yaml:"ingress"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Transport TransportConfig `yaml:"transport"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Cloud     CloudConfig     `yaml:"cloud"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`

	// Entries are seed config entries upserted into the store at startup.
	Entries []EntryConfig `yaml:"entries"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// IngressConfig contains the shared device push listener settings.
type IngressConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MaxBodySize int64  `yaml:"max_body_size"`
	ReadTimeout int    `yaml:"read_timeout"`
}

// APIConfig contains status and control HTTP API settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
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

// APIAuthConfig toggles bearer token auth on control routes.
type APIAuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WebSocketConfig contains settings for the UI event stream hub.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// TransportConfig contains device transport tunables.
type TransportConfig struct {
	MQTT           MQTTTransportConfig      `yaml:"mqtt"`
	WebSocket      WebSocketTransportConfig `yaml:"websocket"`
	ControlTimeout int                      `yaml:"control_timeout"`
}

// MQTTTransportConfig contains per-device MQTT client settings in seconds.
type MQTTTransportConfig struct {
	ConnectTimeout int `yaml:"connect_timeout"`
	KeepAlive      int `yaml:"keep_alive"`
}

// WebSocketTransportConfig contains per-device WebSocket client settings in seconds.
type WebSocketTransportConfig struct {
	Heartbeat        int `yaml:"heartbeat"`
	HandshakeTimeout int `yaml:"handshake_timeout"`
	ReceiveTimeout   int `yaml:"receive_timeout"`
	RetryInterval    int `yaml:"retry_interval"`
}

// WatcherConfig contains alert image storage settings.
type WatcherConfig struct {
	ImageDir      string `yaml:"image_dir"`
	MaxImages     int    `yaml:"max_images"`
	RetentionDays int    `yaml:"retention_days"`
}

// CloudConfig contains SenseCraft cloud session settings.
type CloudConfig struct {
	// RefreshSchedule is a cron spec for re-reading the selected device list.
	// Empty disables the refresh.
	RefreshSchedule string `yaml:"refresh_schedule"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// EntryConfig is a config entry declared in YAML.
type EntryConfig struct {
	ID    string         `yaml:"id"`
	Kind  string         `yaml:"kind"`
	Title string         `yaml:"title"`
	Data  map[string]any `yaml:"data"`
}

// knownKinds lists the session kinds the entry manager can build.
var knownKinds = map[string]bool{
	"cloud":        true,
	"sensecraft":   true,
	"sscma":        true,
	"watcher":      true,
	"watcher_http": true,
	"recamera":     true,
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SENSECRAFT_SECTION_KEY
// For example: SENSECRAFT_DATABASE_PATH, SENSECRAFT_INGRESS_PORT
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
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/sensecraft.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Ingress: IngressConfig{
			Host:        "0.0.0.0",
			Port:        8887,
			MaxBodySize: 16 << 20,
			ReadTimeout: 30,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Transport: TransportConfig{
			MQTT: MQTTTransportConfig{
				ConnectTimeout: 10,
				KeepAlive:      120,
			},
			WebSocket: WebSocketTransportConfig{
				Heartbeat:        30,
				HandshakeTimeout: 10,
				ReceiveTimeout:   30,
				RetryInterval:    5,
			},
			ControlTimeout: 5,
		},
		Watcher: WatcherConfig{
			ImageDir:      "www/images",
			MaxImages:     10000,
			RetentionDays: 30,
		},
		Cloud: CloudConfig{
			RefreshSchedule: "@every 1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENSECRAFT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("SENSECRAFT_INGRESS_HOST"); v != "" {
		cfg.Ingress.Host = v
	}
	if v := os.Getenv("SENSECRAFT_INGRESS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Ingress.Port = port
		}
	}

	if v := os.Getenv("SENSECRAFT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SENSECRAFT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("SENSECRAFT_WATCHER_IMAGE_DIR"); v != "" {
		cfg.Watcher.ImageDir = v
	}

	if v := os.Getenv("SENSECRAFT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("SENSECRAFT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("SENSECRAFT_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Ingress.Port < 1 || c.Ingress.Port > 65535 {
		errs = append(errs, "ingress.port must be between 1 and 65535")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Port == c.Ingress.Port && c.API.Host == c.Ingress.Host {
		errs = append(errs, "api.port must differ from ingress.port")
	}

	if c.Transport.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "transport.mqtt.connect_timeout must be positive")
	}
	if c.Transport.WebSocket.RetryInterval <= 0 {
		errs = append(errs, "transport.websocket.retry_interval must be positive")
	}

	if c.Watcher.ImageDir == "" {
		errs = append(errs, "watcher.image_dir is required")
	}
	if c.Watcher.MaxImages <= 0 {
		errs = append(errs, "watcher.max_images must be positive")
	}
	if c.Watcher.RetentionDays <= 0 {
		errs = append(errs, "watcher.retention_days must be positive")
	}

	// Control routes can move physical motors, so a weak secret is rejected.
	const minJWTSecretLength = 32
	if c.API.Auth.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when api.auth.enabled (set SENSECRAFT_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	seen := make(map[string]bool, len(c.Entries))
	for i, e := range c.Entries {
		if e.ID == "" {
			errs = append(errs, fmt.Sprintf("entries[%d].id is required", i))
		} else if seen[e.ID] {
			errs = append(errs, fmt.Sprintf("entries[%d].id %q is duplicated", i, e.ID))
		}
		seen[e.ID] = true
		if !knownKinds[e.Kind] {
			errs = append(errs, fmt.Sprintf("entries[%d].kind %q is not supported", i, e.Kind))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// seconds converts a whole-second config value to a Duration.
func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration { return seconds(c.API.Timeouts.Read) }

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration { return seconds(c.API.Timeouts.Write) }

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration { return seconds(c.API.Timeouts.Idle) }

// Retention returns the watcher image retention window.
func (w WatcherConfig) Retention() time.Duration {
	return time.Duration(w.RetentionDays) * 24 * time.Hour
}

// ControlTimeoutDuration returns how long a control command waits for an ack.
func (t TransportConfig) ControlTimeoutDuration() time.Duration { return seconds(t.ControlTimeout) }

// ConnectTimeoutDuration returns the MQTT CONNACK wait.
func (m MQTTTransportConfig) ConnectTimeoutDuration() time.Duration { return seconds(m.ConnectTimeout) }

// KeepAliveDuration returns the MQTT keepalive interval.
func (m MQTTTransportConfig) KeepAliveDuration() time.Duration { return seconds(m.KeepAlive) }

// HeartbeatDuration returns the WebSocket ping interval.
func (w WebSocketTransportConfig) HeartbeatDuration() time.Duration { return seconds(w.Heartbeat) }

// HandshakeTimeoutDuration returns the WebSocket dial timeout.
func (w WebSocketTransportConfig) HandshakeTimeoutDuration() time.Duration {
	return seconds(w.HandshakeTimeout)
}

// ReceiveTimeoutDuration returns the WebSocket receive timeout.
func (w WebSocketTransportConfig) ReceiveTimeoutDuration() time.Duration {
	return seconds(w.ReceiveTimeout)
}

// RetryIntervalDuration returns the fixed WebSocket reconnect backoff.
func (w WebSocketTransportConfig) RetryIntervalDuration() time.Duration {
	return seconds(w.RetryInterval)
}
