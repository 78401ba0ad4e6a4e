// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:3000"

database:
  path: "./emails.db"

backend:
  api_key: "sk-test"
  model: "claude-sonnet-4-5"
  max_tokens: 2048

failover:
  enabled: true
  url: "ws://127.0.0.1:3001/ws"
  dial_timeout: "10s"
  retry_delay: "5s"

inbox:
  limit: 50
  snapshot_interval: "5s"

sessions:
  reclamation_grace: "60s"

profile:
  path: "./profile.md"
  debounce: "500ms"

logging:
  level: "debug"
  format: "json"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:3000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:3000")
	}
	if cfg.Database.Path != "./emails.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./emails.db")
	}

	if cfg.Backend.APIKey != "sk-test" {
		t.Errorf("Backend.APIKey = %q, want %q", cfg.Backend.APIKey, "sk-test")
	}
	if cfg.Backend.Model != "claude-sonnet-4-5" {
		t.Errorf("Backend.Model = %q, want %q", cfg.Backend.Model, "claude-sonnet-4-5")
	}
	if cfg.Backend.MaxTokens != 2048 {
		t.Errorf("Backend.MaxTokens = %d, want 2048", cfg.Backend.MaxTokens)
	}

	if !cfg.Failover.Enabled {
		t.Error("Failover.Enabled = false, want true")
	}
	if cfg.Failover.URL != "ws://127.0.0.1:3001/ws" {
		t.Errorf("Failover.URL = %q, want %q", cfg.Failover.URL, "ws://127.0.0.1:3001/ws")
	}
	if cfg.Failover.DialTimeout != 10*time.Second {
		t.Errorf("Failover.DialTimeout = %v, want %v", cfg.Failover.DialTimeout, 10*time.Second)
	}
	if cfg.Failover.RetryDelay != 5*time.Second {
		t.Errorf("Failover.RetryDelay = %v, want %v", cfg.Failover.RetryDelay, 5*time.Second)
	}

	if cfg.Inbox.Limit != 50 {
		t.Errorf("Inbox.Limit = %d, want 50", cfg.Inbox.Limit)
	}
	if cfg.Inbox.SnapshotInterval != 5*time.Second {
		t.Errorf("Inbox.SnapshotInterval = %v, want %v", cfg.Inbox.SnapshotInterval, 5*time.Second)
	}

	if cfg.Sessions.ReclamationGrace != 60*time.Second {
		t.Errorf("Sessions.ReclamationGrace = %v, want %v", cfg.Sessions.ReclamationGrace, 60*time.Second)
	}

	if cfg.Profile.Path != "./profile.md" {
		t.Errorf("Profile.Path = %q, want %q", cfg.Profile.Path, "./profile.md")
	}
	if cfg.Profile.Debounce != 500*time.Millisecond {
		t.Errorf("Profile.Debounce = %v, want %v", cfg.Profile.Debounce, 500*time.Millisecond)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-from-env")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:3000"

database:
  path: "./emails.db"

backend:
  api_key: "${TEST_ANTHROPIC_KEY}"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.APIKey != "sk-from-env" {
		t.Errorf("Backend.APIKey = %q, want %q", cfg.Backend.APIKey, "sk-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	// Ensure the env var is NOT set
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:3000"

database:
  path: "./emails.db"

backend:
  api_key: "${UNSET_VAR_FOR_TEST}"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Unset env vars should expand to empty string
	if cfg.Backend.APIKey != "" {
		t.Errorf("Backend.APIKey = %q, want empty string for unset env var", cfg.Backend.APIKey)
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:3000"

database:
  path: "./emails.db"

failover:
  enabled: false
  dial_timeout: "1m30s"
  retry_delay: "250ms"

sessions:
  reclamation_grace: "2m"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expectedTimeout := 1*time.Minute + 30*time.Second
	if cfg.Failover.DialTimeout != expectedTimeout {
		t.Errorf("Failover.DialTimeout = %v, want %v", cfg.Failover.DialTimeout, expectedTimeout)
	}
	if cfg.Failover.RetryDelay != 250*time.Millisecond {
		t.Errorf("Failover.RetryDelay = %v, want %v", cfg.Failover.RetryDelay, 250*time.Millisecond)
	}
	if cfg.Sessions.ReclamationGrace != 2*time.Minute {
		t.Errorf("Sessions.ReclamationGrace = %v, want %v", cfg.Sessions.ReclamationGrace, 2*time.Minute)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Invalid YAML content
	configContent := `
server:
  http_addr "missing colon"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:3000"

database:
  path: "./emails.db"

inbox:
  snapshot_interval: "invalid-duration"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
server:
  http_addr: ""
database:
  path: "./emails.db"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing database path",
			configContent: `
server:
  http_addr: "0.0.0.0:3000"
database:
  path: ""
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "failover enabled without url",
			configContent: `
server:
  http_addr: "0.0.0.0:3000"
database:
  path: "./emails.db"
failover:
  enabled: true
  url: ""
`,
			wantErrSubstr: "failover.url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")

			err := os.WriteFile(configPath, []byte(tt.configContent), 0644)
			if err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			_, err = Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
