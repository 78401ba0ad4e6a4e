// ABOUTME: Configuration loading and parsing for inbox-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete inbox-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Backend  BackendConfig  `yaml:"backend"`
	Failover FailoverConfig `yaml:"failover"`
	Inbox    InboxConfig    `yaml:"inbox"`
	Sessions SessionsConfig `yaml:"sessions"`
	Profile  ProfileConfig  `yaml:"profile"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the email database location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BackendConfig holds the local Anthropic backend settings
type BackendConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
	// SystemPromptFile overrides the built-in assistant prompt when set
	SystemPromptFile string `yaml:"system_prompt_file"`
}

// FailoverConfig holds the remote backend proxy settings
type FailoverConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`

	DialTimeout time.Duration `yaml:"-"`
	RetryDelay  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DialTimeoutRaw string `yaml:"dial_timeout"`
	RetryDelayRaw  string `yaml:"retry_delay"`
}

// InboxConfig holds inbox snapshot settings
type InboxConfig struct {
	Limit int `yaml:"limit"`

	SnapshotInterval time.Duration `yaml:"-"`

	SnapshotIntervalRaw string `yaml:"snapshot_interval"`
}

// SessionsConfig holds session lifecycle settings
type SessionsConfig struct {
	ReclamationGrace time.Duration `yaml:"-"`

	ReclamationGraceRaw string `yaml:"reclamation_grace"`
}

// ProfileConfig holds user profile file settings
type ProfileConfig struct {
	Path string `yaml:"path"`

	Debounce time.Duration `yaml:"-"`

	DebounceRaw string `yaml:"debounce"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Failover.Enabled && c.Failover.URL == "" {
		return fmt.Errorf("failover.url is required when failover is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Failover.DialTimeoutRaw != "" {
		cfg.Failover.DialTimeout, err = time.ParseDuration(cfg.Failover.DialTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing dial_timeout %q: %w", cfg.Failover.DialTimeoutRaw, err)
		}
	}

	if cfg.Failover.RetryDelayRaw != "" {
		cfg.Failover.RetryDelay, err = time.ParseDuration(cfg.Failover.RetryDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_delay %q: %w", cfg.Failover.RetryDelayRaw, err)
		}
	}

	if cfg.Inbox.SnapshotIntervalRaw != "" {
		cfg.Inbox.SnapshotInterval, err = time.ParseDuration(cfg.Inbox.SnapshotIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing snapshot_interval %q: %w", cfg.Inbox.SnapshotIntervalRaw, err)
		}
	}

	if cfg.Sessions.ReclamationGraceRaw != "" {
		cfg.Sessions.ReclamationGrace, err = time.ParseDuration(cfg.Sessions.ReclamationGraceRaw)
		if err != nil {
			return fmt.Errorf("parsing reclamation_grace %q: %w", cfg.Sessions.ReclamationGraceRaw, err)
		}
	}

	if cfg.Profile.DebounceRaw != "" {
		cfg.Profile.Debounce, err = time.ParseDuration(cfg.Profile.DebounceRaw)
		if err != nil {
			return fmt.Errorf("parsing debounce %q: %w", cfg.Profile.DebounceRaw, err)
		}
	}

	return nil
}
