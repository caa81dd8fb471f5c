package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable (SCRIPTFLOW_SERVER_PORT).
// Variables may also be given by their short name (PORT).
const EnvPrefix = "SCRIPTFLOW"

// FileEnv names the variable holding an optional TOML config file path
const FileEnv = "CONFIG_FILE"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Script    ScriptConfig    `toml:"script"`
	Session   SessionConfig   `toml:"session"`
	Cache     CacheConfig     `toml:"cache"`
	Logging   LogConfig       `toml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `toml:"host" envconfig:"HOST"`
	Port            string   `toml:"port" envconfig:"PORT"`
	AllowedOrigins  []string `toml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// ScriptConfig selects the user script and how it is executed.
type ScriptConfig struct {
	Path             string   `toml:"path" envconfig:"SCRIPT"`
	WatchGlobs       []string `toml:"watch_globs" envconfig:"WATCH_GLOBS"`
	WatchInterval    Duration `toml:"watch_interval" envconfig:"WATCH_INTERVAL"`
	RunOnSave        bool     `toml:"run_on_save" envconfig:"RUN_ON_SAVE"`
	Timeout          Duration `toml:"timeout" envconfig:"SCRIPT_TIMEOUT"`
	MaxCallStackSize int      `toml:"max_call_stack_size" envconfig:"MAX_CALL_STACK"`
}

// SessionConfig holds per-session limits.
type SessionConfig struct {
	FlushInterval  Duration `toml:"flush_interval" envconfig:"FLUSH_INTERVAL"`
	GracePeriod    Duration `toml:"grace_period" envconfig:"GRACE_PERIOD"`
	MaxSessions    int      `toml:"max_sessions" envconfig:"MAX_SESSIONS"`
	CommandRate    float64  `toml:"command_rate" envconfig:"COMMAND_RATE"`
	CommandBurst   int      `toml:"command_burst" envconfig:"COMMAND_BURST"`
	MaxMessageSize int64    `toml:"max_message_size" envconfig:"MAX_MESSAGE_SIZE"`
}

// CacheConfig selects the st.cache backend.
type CacheConfig struct {
	Backend  string   `toml:"backend" envconfig:"CACHE_BACKEND"`
	RedisURL string   `toml:"redis_url" envconfig:"REDIS_URL"`
	Prefix   string   `toml:"prefix" envconfig:"CACHE_PREFIX"`
	TTL      Duration `toml:"ttl" envconfig:"CACHE_TTL"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `toml:"level" envconfig:"LOG_LEVEL"`
	Development bool   `toml:"development" envconfig:"LOG_DEV"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `toml:"requests_per_second" envconfig:"RATE_LIMIT_RPS"`
	Burst             int  `toml:"burst" envconfig:"RATE_LIMIT_BURST"`
	Enabled           bool `toml:"enabled" envconfig:"RATE_LIMIT_ENABLED"`
}

// Duration is a time.Duration written as "500ms" in files and variables
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load builds the configuration: defaults, then the TOML file named by
// CONFIG_FILE (if set), then environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit file path; an empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch {
	case c.Script.Path == "":
		return errors.New("script path is required")
	case c.Server.Port == "":
		return errors.New("server port is required")
	case c.Session.FlushInterval <= 0:
		return errors.New("session flush interval must be positive")
	case c.Session.GracePeriod < 0:
		return errors.New("session grace period must not be negative")
	case c.Cache.Backend != "memory" && c.Cache.Backend != "redis":
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	case c.Cache.Backend == "redis" && c.Cache.RedisURL == "":
		return errors.New("redis cache requires a redis url")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8000",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Script: ScriptConfig{
			Path:             "app.js",
			WatchInterval:    Duration(500 * time.Millisecond),
			Timeout:          0,
			MaxCallStackSize: 1024,
		},
		Session: SessionConfig{
			FlushInterval:  Duration(50 * time.Millisecond),
			GracePeriod:    Duration(2 * time.Minute),
			CommandRate:    50,
			CommandBurst:   100,
			MaxMessageSize: 1 << 20,
		},
		Cache: CacheConfig{
			Backend: "memory",
			Prefix:  "scriptflow:cache:",
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
