package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnvVars = []string{
	"SEND_TIMEOUT",
	"GATEWAY_HOST", "GATEWAY_PORT", "GATEWAY_ENDPOINT",
	"LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range configEnvVars {
		t.Setenv(env, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Send.Timeout != 30*time.Second {
		t.Errorf("Send.Timeout: got %v, want %v", cfg.Send.Timeout, 30*time.Second)
	}
	if cfg.Gateway.Host != "" {
		t.Errorf("Gateway.Host: got %q, want empty", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 0 {
		t.Errorf("Gateway.Port: got %d, want 0", cfg.Gateway.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("SEND_TIMEOUT", "5s")
	t.Setenv("GATEWAY_HOST", "gw.example.com")
	t.Setenv("GATEWAY_PORT", "8443")
	t.Setenv("GATEWAY_ENDPOINT", "/api/mail/")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Send.Timeout != 5*time.Second {
		t.Errorf("Send.Timeout: got %v, want %v", cfg.Send.Timeout, 5*time.Second)
	}
	if cfg.Gateway.Host != "gw.example.com" {
		t.Errorf("Gateway.Host: got %q, want %q", cfg.Gateway.Host, "gw.example.com")
	}
	if cfg.Gateway.Port != 8443 {
		t.Errorf("Gateway.Port: got %d, want %d", cfg.Gateway.Port, 8443)
	}
	if cfg.Gateway.Endpoint != "/api/mail/" {
		t.Errorf("Gateway.Endpoint: got %q, want %q", cfg.Gateway.Endpoint, "/api/mail/")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_InvalidValuesIgnored(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{name: "timeout not a duration", env: "SEND_TIMEOUT", value: "soon"},
		{name: "negative timeout", env: "SEND_TIMEOUT", value: "-3s"},
		{name: "port not a number", env: "GATEWAY_PORT", value: "https"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.value)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Send.Timeout != defaultSendTimeout {
				t.Errorf("Send.Timeout: got %v, want default", cfg.Send.Timeout)
			}
			if cfg.Gateway.Port != 0 {
				t.Errorf("Gateway.Port: got %d, want 0", cfg.Gateway.Port)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	yamlContent := `
send:
  timeout: 12s
gateway:
  host: "yaml.example.com"
  port: 443
  endpoint: "/v2/mail/"
logging:
  level: "warn"
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	clearEnv(t)

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Send.Timeout != 12*time.Second {
		t.Errorf("Send.Timeout: got %v, want %v", cfg.Send.Timeout, 12*time.Second)
	}
	if cfg.Gateway.Host != "yaml.example.com" {
		t.Errorf("Gateway.Host: got %q, want %q", cfg.Gateway.Host, "yaml.example.com")
	}
	if cfg.Gateway.Port != 443 {
		t.Errorf("Gateway.Port: got %d, want %d", cfg.Gateway.Port, 443)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	yamlContent := `
gateway:
  host: "yaml.example.com"
  endpoint: "/v2/mail/"
logging:
  level: "warn"
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	clearEnv(t)
	t.Setenv("GATEWAY_HOST", "env.example.com")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Env var should override YAML
	if cfg.Gateway.Host != "env.example.com" {
		t.Errorf("Gateway.Host: got %q, want %q (env should override YAML)", cfg.Gateway.Host, "env.example.com")
	}
	// Empty env var should NOT override YAML value
	if cfg.Gateway.Endpoint != "/v2/mail/" {
		t.Errorf("Gateway.Endpoint: got %q, want %q (empty env should not override YAML)", cfg.Gateway.Endpoint, "/v2/mail/")
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level: got %q, want %q (env should override YAML)", cfg.Logging.Level, "error")
	}
	// Defaults survive a file that does not mention them
	if cfg.Send.Timeout != defaultSendTimeout {
		t.Errorf("Send.Timeout: got %v, want default", cfg.Send.Timeout)
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}
