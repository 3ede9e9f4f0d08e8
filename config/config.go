// Package config provides YAML configuration parsing for Airboard.
//
// This package enables running Airboard as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	ingest_port: 2442
//	viewer_port: 2443
//	poll_interval: 5s
//	liveness_threshold: 10s
//
//	database_url: ${DATABASE_URL:-postgres://airboard@localhost:5432/airboard}
//
//	redis:
//	  addr: localhost:6379
//	  ttl: 24h
//
//	mqtt:
//	  broker: tcp://localhost:1883
//	  client_id: airboard
//	  topic_prefix: office
//
//	allowed_origins:
//	  - https://dashboard.example.com
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/airboard"
)

// minPollInterval keeps the liveness monitor from hammering the database.
const minPollInterval = 1 * time.Second

// MemoryURL selects the in-process storage backend.
const MemoryURL = "memory://"

// Config is the root configuration structure for Airboard.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "Airboard" if not set.
	Title string `yaml:"title"`

	// IngestPort is the TCP port devices connect to. Defaults to 2442.
	IngestPort int `yaml:"ingest_port"`

	// ViewerPort serves WebSocket sessions, the query API and the dashboard.
	// Defaults to 2443.
	ViewerPort int `yaml:"viewer_port"`

	// PollInterval is the time between liveness passes. Defaults to 5s.
	PollInterval Duration `yaml:"poll_interval"`

	// LivenessThreshold is the silence after which a device is offline.
	// Must be greater than poll_interval and at most twice it. Defaults to 10s.
	LivenessThreshold Duration `yaml:"liveness_threshold"`

	// RetryDelay is the liveness monitor's pause after a storage failure.
	// Defaults to 10s.
	RetryDelay Duration `yaml:"retry_delay"`

	// ReadTimeout bounds a device connection. Defaults to 5s.
	ReadTimeout Duration `yaml:"read_timeout"`

	// KeepAlive is the viewer keep_alive period. Defaults to 5s.
	KeepAlive Duration `yaml:"keepalive"`

	// IdentifyTimeout bounds the viewer handshake. Defaults to 30s.
	IdentifyTimeout Duration `yaml:"identify_timeout"`

	// MaxConnections caps concurrent device connections. Defaults to 256.
	MaxConnections int `yaml:"max_connections"`

	// DatabaseURL is a postgres:// URL, or "memory://" for in-process storage.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	DatabaseURL string `yaml:"database_url"`

	Redis RedisConfig `yaml:"redis"`
	MQTT  MQTTConfig  `yaml:"mqtt"`

	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Devices are provisioned at startup when missing. Required for
	// memory:// storage, where nothing survives a restart.
	Devices []DeviceConfig `yaml:"devices"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// RedisConfig enables the latest-reading cache when Addr is set.
type RedisConfig struct {
	// Addr is host:port. Supports environment variable substitution.
	Addr string `yaml:"addr"`

	// TTL expires cached readings. Defaults to 24h.
	TTL Duration `yaml:"ttl"`
}

// MQTTConfig enables the event relay when Broker is set.
type MQTTConfig struct {
	// Broker is e.g. tcp://localhost:1883. Supports environment variable
	// substitution.
	Broker string `yaml:"broker"`

	// ClientID defaults to "airboard".
	ClientID string `yaml:"client_id"`

	// TopicPrefix defaults to "airboard".
	TopicPrefix string `yaml:"topic_prefix"`
}

// DeviceConfig declares a device to provision.
type DeviceConfig struct {
	ID   string  `yaml:"id"`
	Name string  `yaml:"name"`
	Box  string  `yaml:"box"`
	Lat  float32 `yaml:"lat"`
	Long float32 `yaml:"long"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults and validates.
//
// Environment variables are expanded in database_url, redis.addr,
// mqtt.broker, mqtt.client_id and allowed_origins.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.IngestPort == 0 {
		c.IngestPort = airboard.DefaultIngestPort
	}
	if c.ViewerPort == 0 {
		c.ViewerPort = airboard.DefaultViewerPort
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(airboard.DefaultPollInterval)
	}
	if c.LivenessThreshold == 0 {
		c.LivenessThreshold = Duration(airboard.DefaultLivenessThreshold)
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = Duration(airboard.DefaultRetryDelay)
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = Duration(airboard.DefaultReadTimeout)
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = Duration(airboard.DefaultKeepAlive)
	}
	if c.IdentifyTimeout == 0 {
		c.IdentifyTimeout = Duration(airboard.DefaultIdentifyTimeout)
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = airboard.DefaultMaxConnections
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = Duration(24 * time.Hour)
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "airboard"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if err := validatePort("ingest_port", c.IngestPort); err != nil {
		return err
	}
	if err := validatePort("viewer_port", c.ViewerPort); err != nil {
		return err
	}
	if c.IngestPort == c.ViewerPort {
		return fmt.Errorf("ingest_port and viewer_port must differ, both are %d", c.IngestPort)
	}

	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if err := airboard.ValidateLiveness(c.PollInterval.Duration(), c.LivenessThreshold.Duration()); err != nil {
		return fmt.Errorf("liveness_threshold: %w", err)
	}

	durations := []struct {
		name string
		d    Duration
	}{
		{"retry_delay", c.RetryDelay},
		{"read_timeout", c.ReadTimeout},
		{"keepalive", c.KeepAlive},
		{"identify_timeout", c.IdentifyTimeout},
		{"redis.ttl", c.Redis.TTL},
	}
	for _, d := range durations {
		if d.d.Duration() <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.d.Duration())
		}
	}

	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}

	if err := c.validateDatabaseURL(); err != nil {
		return err
	}

	if c.Redis.Addr != "" {
		expanded, err := expandEnvVars(c.Redis.Addr)
		if err != nil {
			return fmt.Errorf("redis.addr: %w", err)
		}
		c.Redis.Addr = expanded
	}

	if err := c.validateMQTT(); err != nil {
		return err
	}

	for i, origin := range c.AllowedOrigins {
		expanded, err := expandEnvVars(origin)
		if err != nil {
			return fmt.Errorf("allowed_origins[%d]: %w", i, err)
		}
		u, err := url.Parse(expanded)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("allowed_origins[%d]: %q must be scheme://host", i, expanded)
		}
		c.AllowedOrigins[i] = expanded
	}

	seen := make(map[string]struct{}, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d]: id is required", i)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("devices[%d] (%s): duplicate id", i, d.ID)
		}
		seen[d.ID] = struct{}{}
		if d.Name == "" {
			return fmt.Errorf("devices[%d] (%s): name is required", i, d.ID)
		}
		if d.Lat < -90 || d.Lat > 90 {
			return fmt.Errorf("devices[%d] (%s): lat must be between -90 and 90, got %v", i, d.ID, d.Lat)
		}
		if d.Long < -180 || d.Long > 180 {
			return fmt.Errorf("devices[%d] (%s): long must be between -180 and 180, got %v", i, d.ID, d.Long)
		}
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

func (c *Config) validateDatabaseURL() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (use memory:// for in-process storage)")
	}
	expanded, err := expandEnvVars(c.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database_url: %w", err)
	}
	c.DatabaseURL = expanded

	if c.UsesMemory() {
		return nil
	}

	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database_url: invalid url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("database_url scheme must be postgres, postgresql or memory, got %q", u.Scheme)
	}
	return nil
}

func (c *Config) validateMQTT() error {
	if c.MQTT.Broker == "" {
		return nil
	}

	expanded, err := expandEnvVars(c.MQTT.Broker)
	if err != nil {
		return fmt.Errorf("mqtt.broker: %w", err)
	}
	c.MQTT.Broker = expanded

	u, err := url.Parse(c.MQTT.Broker)
	if err != nil {
		return fmt.Errorf("mqtt.broker: invalid url: %w", err)
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "ws", "wss":
	default:
		return fmt.Errorf("mqtt.broker scheme must be tcp, mqtt, ssl, tls, ws or wss, got %q", u.Scheme)
	}

	expanded, err = expandEnvVars(c.MQTT.ClientID)
	if err != nil {
		return fmt.Errorf("mqtt.client_id: %w", err)
	}
	c.MQTT.ClientID = expanded

	if strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		return fmt.Errorf("mqtt.topic_prefix must not contain wildcards, got %q", c.MQTT.TopicPrefix)
	}
	return nil
}

// UsesMemory reports whether database_url selects in-process storage.
func (c *Config) UsesMemory() bool {
	return c.DatabaseURL == MemoryURL
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
	}
}
