package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to environment variable overrides, e.g. BCHYDRO_USERNAME
const EnvPrefix = "BCHYDRO_"

// Config holds the application configuration
type Config struct {
	BCHydro  BCHydroConfig  `yaml:"bchydro" toml:"bchydro"`
	MQTT     MQTTConfig     `yaml:"mqtt,omitempty" toml:"mqtt,omitempty"`
	NATS     NATSConfig     `yaml:"nats,omitempty" toml:"nats,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty" toml:"metrics,omitempty"`
	Database DatabaseConfig `yaml:"database,omitempty" toml:"database,omitempty"`
	Log      LogConfig      `yaml:"log,omitempty" toml:"log,omitempty"`
}

// BCHydroConfig holds the portal credentials
type BCHydroConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	BaseURL  string `yaml:"base_url,omitempty" toml:"base_url,omitempty"` // Override for testing against a mock portal
}

// MQTTConfig holds MQTT broker settings for Home Assistant discovery
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled" toml:"enabled"`
	Broker          string `yaml:"broker" toml:"broker"` // e.g., "homeassistant.local:1883"
	Username        string `yaml:"username,omitempty" toml:"username,omitempty"`
	Password        string `yaml:"password,omitempty" toml:"password,omitempty"`
	ClientID        string `yaml:"client_id,omitempty" toml:"client_id,omitempty"`
	TopicPrefix     string `yaml:"topic_prefix,omitempty" toml:"topic_prefix,omitempty"`         // State topics (default: "bchydro")
	DiscoveryPrefix string `yaml:"discovery_prefix,omitempty" toml:"discovery_prefix,omitempty"` // Default: "homeassistant"
}

// NATSConfig publishes the same topics over NATS (e.g., with the NATS MQTT bridge)
type NATSConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	URL     string `yaml:"url" toml:"url"` // e.g., "nats://localhost:4222"
}

// MetricsConfig holds the Prometheus listener
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Listen  string `yaml:"listen,omitempty" toml:"listen,omitempty"` // Default: ":9477"
}

// DatabaseConfig holds the history recorder settings
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty" toml:"path,omitempty"` // Default: "data.db"
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level,omitempty" toml:"level,omitempty"`   // debug, info, warn, error
	Format string `yaml:"format,omitempty" toml:"format,omitempty"` // text or json
}

// Load reads the config file, picking the decoder by extension, then applies env overrides
func Load(configPath string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// Empty config if file doesn't exist; env may still provide everything
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := decode(configPath, data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	return &cfg, nil
}

func decode(configPath string, data []byte, cfg *Config) error {
	if isTOML(configPath) {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func isTOML(configPath string) bool {
	return strings.EqualFold(filepath.Ext(configPath), ".toml")
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
	}

	// Credentials live in here
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// applyEnv overrides file values with BCHYDRO_* environment variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"USERNAME", &c.BCHydro.Username},
		{"PASSWORD", &c.BCHydro.Password},
		{"BASE_URL", &c.BCHydro.BaseURL},
		{"MQTT_BROKER", &c.MQTT.Broker},
		{"MQTT_USERNAME", &c.MQTT.Username},
		{"MQTT_PASSWORD", &c.MQTT.Password},
		{"NATS_URL", &c.NATS.URL},
		{"METRICS_LISTEN", &c.Metrics.Listen},
		{"DB", &c.Database.Path},
		{"LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v, ok := lookup(EnvPrefix + o.key); ok && v != "" {
			*o.dst = v
		}
	}

	// Setting a broker or url through the environment implies enabling it
	if v, ok := lookup(EnvPrefix + "MQTT_BROKER"); ok && v != "" {
		c.MQTT.Enabled = true
	}
	if v, ok := lookup(EnvPrefix + "NATS_URL"); ok && v != "" {
		c.NATS.Enabled = true
	}
}

// Validate checks the credentials and the enabled outputs
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.BCHydro.Username) == "" {
		errs = append(errs, errors.New("bchydro.username is required"))
	}
	if c.BCHydro.Password == "" {
		errs = append(errs, errors.New("bchydro.password is required"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// GetTopicPrefix returns the state topic prefix with a default of "bchydro"
func (c *Config) GetTopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return "bchydro"
	}
	return strings.TrimSuffix(c.MQTT.TopicPrefix, "/")
}

// GetDiscoveryPrefix returns the Home Assistant discovery prefix with a default of "homeassistant"
func (c *Config) GetDiscoveryPrefix() string {
	if c.MQTT.DiscoveryPrefix == "" {
		return "homeassistant"
	}
	return strings.TrimSuffix(c.MQTT.DiscoveryPrefix, "/")
}

// GetMetricsListen returns the Prometheus listen address with a default of ":9477"
func (c *Config) GetMetricsListen() string {
	if c.Metrics.Listen == "" {
		return ":9477"
	}
	return c.Metrics.Listen
}

// GetDatabasePath returns the history database path with a default of "data.db"
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "data.db"
	}
	return c.Database.Path
}

// GetLogLevel returns the log level with a default of "info"
func (c *Config) GetLogLevel() string {
	if c.Log.Level == "" {
		return "info"
	}
	return c.Log.Level
}
