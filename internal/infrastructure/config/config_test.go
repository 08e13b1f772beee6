package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.Equal(t, 250*time.Millisecond, cfg.Terminal.DrainTimeout.Std())
	assert.Equal(t, 32*1024, cfg.Terminal.ReadBufferSize)
	assert.Equal(t, uint32(5), cfg.Terminal.SpawnFailureThreshold)

	assert.Equal(t, 30*time.Second, cfg.Stream.PingInterval.Std())
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                        "9000",
		"HOST":                        "0.0.0.0",
		"LOG_LEVEL":                   "debug",
		"LOG_DEV":                     "true",
		"RATE_LIMIT_RPS":              "500",
		"RATE_LIMIT_BURST":            "1000",
		"RATE_LIMIT_ENABLED":          "false",
		"PTY_DRAIN_TIMEOUT":           "1s",
		"PTY_SPAWN_FAILURE_THRESHOLD": "2",
		"STREAM_MAX_MESSAGE":          "4096",
		"CORS_ORIGINS":                "http://a.test,http://b.test",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, time.Second, cfg.Terminal.DrainTimeout.Std())
	assert.Equal(t, uint32(2), cfg.Terminal.SpawnFailureThreshold)
	assert.Equal(t, int64(4096), cfg.Stream.MaxMessageSize)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)

	// untouched values keep their defaults
	assert.Equal(t, 32*1024, cfg.Terminal.ReadBufferSize)
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "termbroker.yaml",
			content: `
server:
  port: "7100"
logging:
  level: warn
terminal:
  drainTimeout: 500ms
  readBufferSize: 8192
`,
		},
		{
			name: "toml",
			file: "termbroker.toml",
			content: `
[server]
port = "7100"

[logging]
level = "warn"

[terminal]
drain_timeout = "500ms"
read_buffer_size = 8192
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			cfg, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, "7100", cfg.Server.Port)
			assert.Equal(t, "warn", cfg.Logging.Level)
			assert.Equal(t, 500*time.Millisecond, cfg.Terminal.DrainTimeout.Std())
			assert.Equal(t, 8192, cfg.Terminal.ReadBufferSize)

			// values the file does not mention keep their defaults
			assert.Equal(t, "127.0.0.1", cfg.Server.Host)
			assert.True(t, cfg.RateLimit.Enabled)
		})
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termbroker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7100\"\n"), 0o644))
	t.Setenv("PORT", "7200")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7200", cfg.Server.Port)
}

func TestConfigFileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termbroker.yml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unsupported extension", file: "cfg.ini", content: "port=1"},
		{name: "bad duration", file: "cfg.yaml", content: "terminal:\n  drainTimeout: soon\n"},
		{name: "invalid values", file: "cfg.yaml", content: "terminal:\n  readBufferSize: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termbroker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zap.NewNop(), func(cfg *Config) { reloaded <- cfg })
	}()

	// fsnotify registration is asynchronous; rewrite until an event lands
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644)
		select {
		case cfg := <-reloaded:
			return cfg.Logging.Level == "debug"
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
