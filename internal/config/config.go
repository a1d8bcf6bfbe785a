// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback, and the provider configuration documents
// that select a delivery backend per send.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultSendTimeout bounds a whole send, attachment downloads included.
const defaultSendTimeout = 30 * time.Second

// Config holds the process configuration of the dispatcher.
type Config struct {
	Send    SendConfig    `yaml:"send"`
	Gateway GatewayConfig `yaml:"gateway"`
	Logging LoggingConfig `yaml:"logging"`
}

// SendConfig holds per-send limits.
type SendConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// GatewayConfig holds defaults for the HTTP gateway, used when a provider
// document leaves them out.
type GatewayConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Endpoint string `yaml:"endpoint"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvVars()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Send.Timeout = defaultSendTimeout
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty, well-formed values override existing ones.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("SEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Send.Timeout = d
		}
	}

	if v := os.Getenv("GATEWAY_HOST"); v != "" {
		c.Gateway.Host = v
	}
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("GATEWAY_ENDPOINT"); v != "" {
		c.Gateway.Endpoint = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
