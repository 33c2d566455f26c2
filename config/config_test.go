package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhamidi/skillswap/messaging"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, messaging.DefaultListPollInterval, cfg.Sync.ListPollInterval)
	assert.Equal(t, "", cfg.Identity.User)
	assert.Equal(t, "", cfg.NATS.URL)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"zero list poll", func(c *Config) { c.Sync.ListPollInterval = 0 }, true},
		{"negative thread poll", func(c *Config) { c.Sync.ThreadPollInterval = -time.Second }, true},
		{"zero fanout", func(c *Config) { c.Sync.Fanout = 0 }, true},
		{"zero retry interval", func(c *Config) { c.Sync.RetryInterval = 0 }, true},
		{"unknown log level", func(c *Config) { c.Log.Level = "chatty" }, true},
		{"upper case log level", func(c *Config) { c.Log.Level = "DEBUG" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(UserEnv, "")
	cfg, err := Load(afero.NewMemMapFs(), "skillswap.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Sync, cfg.Sync)
	assert.Equal(t, ".skillswap/skillswap.db", cfg.Database.Path)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv(UserEnv, "")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/skillswap.yaml", []byte(`
database:
  path: /var/lib/skillswap/data.db
identity:
  user: alice
sync:
  list_poll_interval: 10s
  fanout: 2
nats:
  url: nats://127.0.0.1:4222
log:
  level: debug
`), 0o644))

	cfg, err := Load(fs, "/etc/skillswap.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/skillswap/data.db", cfg.Database.Path)
	assert.Equal(t, "alice", cfg.Identity.User)
	assert.Equal(t, 10*time.Second, cfg.Sync.ListPollInterval)
	assert.Equal(t, messaging.DefaultThreadPollInterval, cfg.Sync.ThreadPollInterval)
	assert.Equal(t, 2, cfg.Sync.Fanout)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "skillswap.changes", cfg.NATS.SubjectPrefix)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	opts := cfg.MessagingOptions()
	assert.Equal(t, 10*time.Second, opts.ListPollInterval)
	assert.Equal(t, 2, opts.Fanout)
	assert.Equal(t, cfg.Sync.RetryAttempts, opts.Retry.MaxRetries)
}

func TestLoadUserFromEnvironment(t *testing.T) {
	t.Setenv(UserEnv, " bob ")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "skillswap.yaml", []byte("identity:\n  user: alice\n"), 0o644))

	cfg, err := Load(fs, "skillswap.yaml")
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Identity.User)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	t.Setenv(UserEnv, "")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "broken.yaml", []byte("sync: [\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "invalid.yaml", []byte("sync:\n  fanout: 0\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "duration.yaml", []byte("sync:\n  list_poll_interval: soon\n"), 0o644))

	for _, path := range []string{"broken.yaml", "invalid.yaml", "duration.yaml"} {
		_, err := Load(fs, path)
		assert.Error(t, err, path)
	}
}

func TestSaveThenLoad(t *testing.T) {
	t.Setenv(UserEnv, "")
	fs := afero.NewMemMapFs()
	cfg := DefaultConfig()
	cfg.Sync.ThreadPollInterval = 750 * time.Millisecond
	cfg.Metrics.Addr = ":9090"

	require.NoError(t, cfg.Save(fs, "/home/alice/.config/skillswap/skillswap.yaml"))
	data, err := afero.ReadFile(fs, "/home/alice/.config/skillswap/skillswap.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "thread_poll_interval: 750ms")

	loaded, err := Load(fs, "/home/alice/.config/skillswap/skillswap.yaml")
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
