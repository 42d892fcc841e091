package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for SmartAuth.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	API          APIConfig          `yaml:"api"`
	Directory    DirectoryConfig    `yaml:"directory"`
	Mail         MailConfig         `yaml:"mail"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Registration RegistrationConfig `yaml:"registration"`
}

// ServiceConfig identifies this instance to callers of the ping endpoint.
type ServiceConfig struct {
	Name       string `yaml:"name"`
	APIVersion string `yaml:"api_version"`
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

	// CleanSession false keeps the broker-side session so un-acked
	// registration events are redelivered after a restart.
	CleanSession bool `yaml:"clean_session"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// BridgeConfig configures the citizen onboarding event consumer.
type BridgeConfig struct {
	Enabled         bool   `yaml:"enabled"`
	QueueTopic      string `yaml:"queue_topic"`
	DeadLetterTopic string `yaml:"dead_letter_topic"`
	RetryInterval   int    `yaml:"retry_interval"` // seconds
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host         string           `yaml:"host"`
	Port         int              `yaml:"port"`
	TLS          TLSConfig        `yaml:"tls"`
	Timeouts     APITimeoutConfig `yaml:"timeouts"`
	CORS         CORSConfig       `yaml:"cors"`
	CookieDomain string           `yaml:"cookie_domain"`
	Portal       PortalConfig     `yaml:"portal"`

	// RedirectOrigins lists scheme://host values that redirect_success and
	// redirect_error may point at. Relative paths are always allowed.
	RedirectOrigins []string `yaml:"redirect_origins"`
}

// PortalConfig controls the static sign-in pages served under /portal.
type PortalConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir serves the pages from disk instead of the embedded copy.
	Dir string `yaml:"dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// DirectoryConfig points at the external citizen registry.
type DirectoryConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// MailConfig contains outbound SMTP settings and the registration mail template values.
type MailConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	From        string `yaml:"from"`
	Subject     string `yaml:"subject"`
	RegisterURL string `yaml:"register_url"`
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

	// Instance tags every point so several SmartAuth replicas can share a bucket.
	Instance string `yaml:"instance"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RegistrationConfig holds policy knobs for account registration and session housekeeping.
type RegistrationConfig struct {
	// AllowRootBootstrap enables the literal "ROOT" authorisation code for
	// employee registration.
	AllowRootBootstrap bool `yaml:"allow_root_bootstrap"`

	// RootBootstrapAlways keeps "ROOT" valid after the first employee exists.
	// Only meant for development databases.
	RootBootstrapAlways bool `yaml:"root_bootstrap_always"`

	// PendingCodeTTLHours expires unused registration codes. 0 disables expiry.
	PendingCodeTTLHours int `yaml:"pending_code_ttl_hours"`

	// SessionSweepInterval is how often expired sessions are purged (minutes).
	// 0 disables the sweeper.
	SessionSweepInterval int `yaml:"session_sweep_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SMARTAUTH_SECTION_KEY
// For example: SMARTAUTH_DATABASE_PATH, SMARTAUTH_MAIL_PASSWORD
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
		Service: ServiceConfig{
			Name:       "SmartAuth",
			APIVersion: "1",
		},
		Database: DatabaseConfig{
			Path:        "./data/smartauth.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "smartauth",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Bridge: BridgeConfig{
			Enabled:         true,
			QueueTopic:      "smartauth",
			DeadLetterTopic: "smartauth/deadletter",
			RetryInterval:   5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 9760,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Portal: PortalConfig{Enabled: true},
		},
		Directory: DirectoryConfig{
			BaseURL: "http://localhost:9710",
			Timeout: 10,
		},
		Mail: MailConfig{
			Host:        "localhost",
			Port:        25,
			From:        "support@mail.smartcityproject.net",
			Subject:     "SmartCity: Ihr Registrierungscode",
			RegisterURL: "http://www.supersmartcity.de:9760",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Registration: RegistrationConfig{
			AllowRootBootstrap:   true,
			SessionSweepInterval: 60,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SMARTAUTH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SMARTAUTH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SMARTAUTH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SMARTAUTH_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SMARTAUTH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SMARTAUTH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SMARTAUTH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SMARTAUTH_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Citizen directory
	if v := os.Getenv("SMARTAUTH_DIRECTORY_URL"); v != "" {
		cfg.Directory.BaseURL = v
	}

	// Mail
	if v := os.Getenv("SMARTAUTH_MAIL_HOST"); v != "" {
		cfg.Mail.Host = v
	}
	if v := os.Getenv("SMARTAUTH_MAIL_USERNAME"); v != "" {
		cfg.Mail.Username = v
	}
	if v := os.Getenv("SMARTAUTH_MAIL_PASSWORD"); v != "" {
		cfg.Mail.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SMARTAUTH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Bridge.Enabled {
		if c.Bridge.QueueTopic == "" {
			errs = append(errs, "bridge.queue_topic is required when the bridge is enabled")
		}
		if c.Bridge.DeadLetterTopic == "" {
			errs = append(errs, "bridge.dead_letter_topic is required when the bridge is enabled")
		}
		if c.Bridge.DeadLetterTopic != "" && c.Bridge.DeadLetterTopic == c.Bridge.QueueTopic {
			errs = append(errs, "bridge.dead_letter_topic must differ from bridge.queue_topic")
		}
		if c.Bridge.RetryInterval <= 0 {
			errs = append(errs, "bridge.retry_interval must be positive")
		}
		if c.Mail.From == "" {
			errs = append(errs, "mail.from is required when the bridge is enabled")
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if u, err := url.Parse(c.Directory.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "directory.base_url must be an absolute URL")
	}

	if c.Registration.PendingCodeTTLHours < 0 {
		errs = append(errs, "registration.pending_code_ttl_hours must not be negative")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
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

// RetryDelay returns the bridge reconnect delay as a Duration.
func (b BridgeConfig) RetryDelay() time.Duration {
	return time.Duration(b.RetryInterval) * time.Second
}

// RequestTimeout returns the directory HTTP timeout as a Duration.
func (d DirectoryConfig) RequestTimeout() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// PendingCodeTTL returns the pending code lifetime, or zero when codes never expire.
func (r RegistrationConfig) PendingCodeTTL() time.Duration {
	return time.Duration(r.PendingCodeTTLHours) * time.Hour
}

// SweepInterval returns the session sweeper period, or zero when disabled.
func (r RegistrationConfig) SweepInterval() time.Duration {
	return time.Duration(r.SessionSweepInterval) * time.Minute
}
