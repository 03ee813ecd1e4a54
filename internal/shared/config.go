package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

const (
	defaultBatchSize       = 5000
	defaultPublishDelay    = 20 * time.Second
	defaultPublishAttempts = 3
	defaultTimeout         = 60 * time.Second
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Source    EndpointConfig  `toml:"source"`
	Target    EndpointConfig  `toml:"target"`
	Migration MigrationConfig `toml:"migration"`
	Client    ClientConfig    `toml:"client"`
	Database  DatabaseConfig  `toml:"database"`
	Log       LogConfig       `toml:"log"`
}

// EndpointConfig locates one catalog instance and the credential used against it.
type EndpointConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// MigrationConfig tunes the migration engine.
type MigrationConfig struct {
	BatchSize       int    `toml:"batch_size"`
	PublishDelay    string `toml:"publish_delay"`
	PublishAttempts int    `toml:"publish_attempts"`
	HardPurge       bool   `toml:"hard_purge"`
	Workers         int    `toml:"workers"`
}

// ClientConfig contains HTTP client settings shared by both endpoints.
type ClientConfig struct {
	Timeout   string  `toml:"timeout"`
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
	UserAgent string  `toml:"user_agent"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Delay parses the configured publish delay, falling back to 20s when unset or malformed.
func (m MigrationConfig) Delay() time.Duration {
	return parseDuration(m.PublishDelay, defaultPublishDelay)
}

// Batch returns the configured batch size or the default of 5000.
func (m MigrationConfig) Batch() int {
	if m.BatchSize <= 0 {
		return defaultBatchSize
	}
	return m.BatchSize
}

// Attempts returns how many times a publish is tried before giving up.
func (m MigrationConfig) Attempts() int {
	if m.PublishAttempts <= 0 {
		return defaultPublishAttempts
	}
	return m.PublishAttempts
}

// RequestTimeout parses the per-request timeout.
func (c ClientConfig) RequestTimeout() time.Duration {
	return parseDuration(c.Timeout, defaultTimeout)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// Validate checks that both endpoints carry a URL.
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return fmt.Errorf("%w: source url is empty", ErrMissingEndpoint)
	}
	if c.Target.URL == "" {
		return fmt.Errorf("%w: target url is empty", ErrMissingEndpoint)
	}
	if c.Source.URL == c.Target.URL {
		return fmt.Errorf("%w: source and target point at the same catalog", ErrInvalidConfig)
	}
	if _, err := time.ParseDuration(c.Migration.PublishDelay); c.Migration.PublishDelay != "" && err != nil {
		return fmt.Errorf("%w: publish_delay %q: %v", ErrInvalidConfig, c.Migration.PublishDelay, err)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes the configuration back to path, replacing any existing file.
//
// Tokens are written as-is, so the file is created with owner-only permissions.
func SaveConfig(path string, config *Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
