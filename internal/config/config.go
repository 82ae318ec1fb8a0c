// Package config loads and validates application configuration from a YAML
// file via koanf. All durations are expressed in seconds in the file.
package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the application
type Config struct {
	// DatabasePath is the sqlite database file path
	DatabasePath string `koanf:"database_path"`

	// LogLevel is the logging level (debug, info, warn, error)
	LogLevel string `koanf:"log_level"`

	// ProbeTimeoutSeconds bounds each probe stage against a tenant cluster
	ProbeTimeoutSeconds int `koanf:"probe_timeout_seconds"`

	// LiveCallTimeoutSeconds bounds every live read/remediation call
	LiveCallTimeoutSeconds int `koanf:"live_call_timeout_seconds"`

	// PricingCatalogPath is an optional YAML file seeding the node cost catalog
	PricingCatalogPath string `koanf:"pricing_catalog_path"`

	// HubBufferSize is the per-subscriber channel buffer in the broadcast hub
	HubBufferSize int `koanf:"hub_buffer_size"`

	// TracingEnabled indicates whether OpenTelemetry tracing is enabled
	TracingEnabled bool `koanf:"tracing_enabled"`

	// TracingEndpoint is the OTLP gRPC endpoint for trace export
	TracingEndpoint string `koanf:"tracing_endpoint"`

	// TracingTLSCAPath is the path to the CA certificate for TLS verification
	TracingTLSCAPath string `koanf:"tracing_tls_ca_path"`
}

// Default returns a Config populated with default values
func Default() *Config {
	return &Config{
		DatabasePath:           "clusterdeck.db",
		LogLevel:               "info",
		ProbeTimeoutSeconds:    10,
		LiveCallTimeoutSeconds: 15,
		HubBufferSize:          16,
	}
}

// Load reads configuration from the YAML file at path, layered over defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return NewConfigError("database_path must not be empty")
	}
	if c.ProbeTimeoutSeconds < 1 {
		return NewConfigError("probe_timeout_seconds must be at least 1")
	}
	if c.LiveCallTimeoutSeconds < 1 {
		return NewConfigError("live_call_timeout_seconds must be at least 1")
	}
	if c.HubBufferSize < 1 {
		return NewConfigError("hub_buffer_size must be at least 1")
	}
	if c.TracingEnabled && c.TracingEndpoint == "" {
		return NewConfigError("tracing_endpoint must be set when tracing is enabled")
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
