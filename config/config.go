// Package config loads the skillswap client configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/dhamidi/skillswap/messaging"
	"github.com/dhamidi/skillswap/realtime"
	"github.com/dhamidi/skillswap/store/sqlitestore"
)

// DefaultFile is the config file name looked up in the working directory.
const DefaultFile = "skillswap.yaml"

// UserEnv overrides identity.user when non-empty.
const UserEnv = "SKILLSWAP_USER"

// Config is the complete client configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Identity IdentityConfig `yaml:"identity"`
	Sync     SyncConfig     `yaml:"sync"`
	NATS     NATSConfig     `yaml:"nats"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// IdentityConfig names the profile this client acts as.
type IdentityConfig struct {
	// User is a profile id. Empty means signed out.
	User string `yaml:"user"`
}

// SyncConfig tunes the synchronizers.
type SyncConfig struct {
	ListPollInterval   time.Duration `yaml:"list_poll_interval"`
	ThreadPollInterval time.Duration `yaml:"thread_poll_interval"`
	Fanout             int           `yaml:"fanout"`
	RetryAttempts      uint64        `yaml:"retry_attempts"`
	RetryInterval      time.Duration `yaml:"retry_interval"`
}

// NATSConfig enables cross-process change delivery.
type NATSConfig struct {
	// URL is the server to connect to. Empty keeps change events in process.
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: sqlitestore.DefaultDatabasePath},
		Sync: SyncConfig{
			ListPollInterval:   messaging.DefaultListPollInterval,
			ThreadPollInterval: messaging.DefaultThreadPollInterval,
			Fanout:             messaging.DefaultFanout,
			RetryAttempts:      realtime.DefaultRetryPolicy.MaxRetries,
			RetryInterval:      realtime.DefaultRetryPolicy.InitialInterval,
		},
		NATS: NATSConfig{SubjectPrefix: "skillswap.changes"},
		Log:  LogConfig{Level: "info"},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Sync.ListPollInterval <= 0 {
		return fmt.Errorf("sync.list_poll_interval must be positive")
	}
	if c.Sync.ThreadPollInterval <= 0 {
		return fmt.Errorf("sync.thread_poll_interval must be positive")
	}
	if c.Sync.Fanout < 1 {
		return fmt.Errorf("sync.fanout must be at least 1")
	}
	if c.Sync.RetryInterval <= 0 {
		return fmt.Errorf("sync.retry_interval must be positive")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// MessagingOptions converts the sync settings for the messaging package.
func (c *Config) MessagingOptions() messaging.Options {
	return messaging.Options{
		ListPollInterval:   c.Sync.ListPollInterval,
		ThreadPollInterval: c.Sync.ThreadPollInterval,
		Fanout:             c.Sync.Fanout,
		Retry: realtime.RetryPolicy{
			MaxRetries:      c.Sync.RetryAttempts,
			InitialInterval: c.Sync.RetryInterval,
			MaxInterval:     realtime.DefaultRetryPolicy.MaxInterval,
		},
	}
}

// Load reads path from fs on top of the defaults, applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(fs afero.Fs, path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := afero.ReadFile(fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if user := strings.TrimSpace(os.Getenv(UserEnv)); user != "" {
		cfg.Identity.User = user
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
