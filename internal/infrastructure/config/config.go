package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
//
// Values are layered: Default, then the optional config file, then the
// environment. An unset environment variable never overrides a file value.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rateLimit" toml:"rate_limit"`
	Terminal  TerminalConfig  `yaml:"terminal" toml:"terminal"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string   `envconfig:"PORT" yaml:"port" toml:"port"`
	Host            string   `envconfig:"HOST" yaml:"host" toml:"host"`
	ShutdownTimeout Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdownTimeout" toml:"shutdown_timeout"`
	// AllowedOrigins applies to both CORS and the stream upgrade. "*" allows any.
	AllowedOrigins  []string `envconfig:"CORS_ORIGINS" yaml:"allowedOrigins" toml:"allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// TerminalConfig holds PTY session settings.
type TerminalConfig struct {
	// DrainTimeout bounds how long trailing output is awaited after the
	// process exits and before the exit event is published.
	DrainTimeout          Duration `envconfig:"PTY_DRAIN_TIMEOUT" yaml:"drainTimeout" toml:"drain_timeout"`
	ReadBufferSize        int      `envconfig:"PTY_READ_BUFFER" yaml:"readBufferSize" toml:"read_buffer_size"`
	SpawnFailureThreshold uint32   `envconfig:"PTY_SPAWN_FAILURE_THRESHOLD" yaml:"spawnFailureThreshold" toml:"spawn_failure_threshold"`
	SpawnCooldown         Duration `envconfig:"PTY_SPAWN_COOLDOWN" yaml:"spawnCooldown" toml:"spawn_cooldown"`
}

// StreamConfig holds WebSocket stream settings.
type StreamConfig struct {
	WriteTimeout   Duration `envconfig:"STREAM_WRITE_TIMEOUT" yaml:"writeTimeout" toml:"write_timeout"`
	PingInterval   Duration `envconfig:"STREAM_PING_INTERVAL" yaml:"pingInterval" toml:"ping_interval"`
	MaxMessageSize int64    `envconfig:"STREAM_MAX_MESSAGE" yaml:"maxMessageSize" toml:"max_message_size"`
}

// Load builds the configuration from defaults, the config file at path
// (or $CONFIG_FILE when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns the defaults on error.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "127.0.0.1",
			ShutdownTimeout: Duration(10 * time.Second),
			AllowedOrigins:  []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Terminal: TerminalConfig{
			DrainTimeout:          Duration(250 * time.Millisecond),
			ReadBufferSize:        32 * 1024,
			SpawnFailureThreshold: 5,
			SpawnCooldown:         Duration(10 * time.Second),
		},
		Stream: StreamConfig{
			WriteTimeout:   Duration(10 * time.Second),
			PingInterval:   Duration(30 * time.Second),
			MaxMessageSize: 1 << 20,
		},
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("rate limit rps must be positive when enabled"))
	}
	if c.Terminal.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("terminal read buffer size must be positive"))
	}
	if c.Stream.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("stream max message size must be positive"))
	}
	if c.Stream.PingInterval.Std() <= 0 {
		errs = append(errs, errors.New("stream ping interval must be positive"))
	}
	return errors.Join(errs...)
}

// Duration is a time.Duration that decodes from strings such as "250ms"
// in the environment, YAML and TOML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
