package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
)

const (
	// DefaultConfigPath is read when no explicit path is given.
	DefaultConfigPath = "config.yaml"
	// DefaultPoolSize is the capacity of a pooled connection when pool_size is unset.
	DefaultPoolSize = 64
)

// Config holds all configuration for minidb.
// Configuration comes from a YAML file with environment variable overrides.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Database DatabaseConfig `yaml:"database"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Encoding    string `yaml:"encoding" env:"LOG_ENCODING" env-default:"json"` // json or console
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
}

// ServerConfig holds the operational HTTP endpoint settings used by `minidb serve`.
type ServerConfig struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"9464"`
}

// TracingConfig enables OpenTelemetry query spans.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" env:"TRACING_ENABLED" env-default:"false"`
	ServiceName string `yaml:"service_name" env:"TRACING_SERVICE_NAME" env-default:"minidb"`
}

// DatabaseConfig is the named-connection configuration source.
type DatabaseConfig struct {
	// Default is the connection used when a caller passes an empty name.
	Default string `yaml:"default" env:"DB_CONNECTION" env-default:"main"`

	// StrictScopes makes pooled lookups outside an active scope fail instead of
	// falling back to a process-wide singleton.
	StrictScopes bool `yaml:"strict_scopes" env:"DB_STRICT_SCOPES" env-default:"false"`

	Connections map[string]ConnectionConfig `yaml:"connections"`
}

// ConnectionConfig describes one named connection. It is never mutated after Load.
type ConnectionConfig struct {
	Name   string `yaml:"-"`
	Driver string `yaml:"driver"`

	EndpointConfig `yaml:",inline"`

	// Read and Write override the base endpoint for replica splitting.
	Read  *EndpointConfig `yaml:"read,omitempty"`
	Write *EndpointConfig `yaml:"write,omitempty"`

	// Sticky forces reads onto the write handle once this connection has written.
	Sticky bool `yaml:"sticky"`

	Pooled   bool `yaml:"pooled"`
	PoolSize int  `yaml:"pool_size"`

	// ConnectRetries is how many extra attempts are made when opening a handle.
	ConnectRetries int `yaml:"connect_retries"`
}

// Load reads DefaultConfigPath with environment variable overrides.
// The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	return LoadFile(DefaultConfigPath, version)
}

// LoadFile reads the given YAML file with environment variable overrides,
// resolves password_env secrets, and validates every named connection.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Database.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	return cfg, nil
}

// Normalize fills defaults, resolves secrets from the environment and
// validates the connection set. It is idempotent.
func (d *DatabaseConfig) Normalize() error {
	if len(d.Connections) == 0 {
		return &apperrors.ConfigurationError{Reason: "no connections configured"}
	}

	for name, conn := range d.Connections {
		if strings.Contains(name, "::") {
			return &apperrors.ConfigurationError{Connection: name, Reason: "connection names must not contain \"::\""}
		}

		conn.Name = name
		conn.Driver = strings.ToLower(strings.TrimSpace(conn.Driver))
		if conn.Driver == "" {
			return &apperrors.ConfigurationError{Connection: name, Reason: "driver is required"}
		}
		if conn.PoolSize < 0 {
			return &apperrors.ConfigurationError{Connection: name, Reason: fmt.Sprintf("pool_size must be positive, got %d", conn.PoolSize)}
		}
		if conn.PoolSize == 0 {
			conn.PoolSize = DefaultPoolSize
		}
		if conn.ConnectRetries < 0 {
			conn.ConnectRetries = 0
		}

		conn.EndpointConfig.resolveSecret()
		if conn.Read != nil {
			conn.Read.resolveSecret()
		}
		if conn.Write != nil {
			conn.Write.resolveSecret()
		}

		d.Connections[name] = conn
	}

	if d.Default == "" {
		return &apperrors.ConfigurationError{Reason: "default connection name is empty"}
	}
	if _, ok := d.Connections[d.Default]; !ok {
		return &apperrors.ConfigurationError{Connection: d.Default, Reason: "default connection is not configured"}
	}

	return nil
}

// Lookup returns the named connection configuration.
func (d *DatabaseConfig) Lookup(name string) (ConnectionConfig, error) {
	conn, ok := d.Connections[name]
	if !ok {
		return ConnectionConfig{}, &apperrors.ConfigurationError{Connection: name, Reason: "connection is not configured"}
	}
	return conn, nil
}

// Names returns the configured connection names, sorted.
func (d *DatabaseConfig) Names() []string {
	names := make([]string, 0, len(d.Connections))
	for name := range d.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasReadWriteSplit reports whether a separate read endpoint is configured.
func (c ConnectionConfig) HasReadWriteSplit() bool {
	return c.Read != nil
}

// WriteEndpoint returns the base endpoint with the write overrides applied.
func (c ConnectionConfig) WriteEndpoint() EndpointConfig {
	return c.EndpointConfig.merge(c.Write)
}

// ReadEndpoint returns the base endpoint with the read overrides applied.
// The boolean is false when no read replica is configured.
func (c ConnectionConfig) ReadEndpoint() (EndpointConfig, bool) {
	if c.Read == nil {
		return EndpointConfig{}, false
	}
	return c.EndpointConfig.merge(c.Read), true
}

// Redacted returns a copy with every password replaced, for display.
func (c *Config) Redacted() Config {
	out := *c
	out.Database.Connections = make(map[string]ConnectionConfig, len(c.Database.Connections))
	for name, conn := range c.Database.Connections {
		conn.EndpointConfig = conn.EndpointConfig.redacted()
		if conn.Read != nil {
			r := conn.Read.redacted()
			conn.Read = &r
		}
		if conn.Write != nil {
			w := conn.Write.redacted()
			conn.Write = &w
		}
		out.Database.Connections[name] = conn
	}
	return out
}

func lookupEnv(key string) string {
	if key == "" {
		return ""
	}
	return os.Getenv(key)
}
