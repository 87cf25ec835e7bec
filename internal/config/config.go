// Package config loads the reviewd configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (REVIEWD_SECTION_KEY)
const EnvPrefix = "REVIEWD"

// Config represents the complete reviewd configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	Review    ReviewConfig    `mapstructure:"review"`
	Scanners  ScannersConfig  `mapstructure:"scanners"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls the listeners
type ServerConfig struct {
	// HTTPAddr serves the HTTP API, push streams, MCP and /metrics
	HTTPAddr string `mapstructure:"http_addr" validate:"required,hostname_port"`
	// GRPCAddr serves the gRPC health service; empty disables it
	GRPCAddr string `mapstructure:"grpc_addr" validate:"omitempty,hostname_port"`
	// RateLimit is the sustained submissions per second; 0 disables limiting
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`
	// RateBurst is the submission burst size
	RateBurst int `mapstructure:"rate_burst" validate:"gte=0"`
	// KeepAlive is the interval between push stream keep-alives
	KeepAlive time.Duration `mapstructure:"keep_alive" validate:"gt=0"`
	// ShutdownTimeout bounds graceful listener shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// SessionConfig controls session lifetime and buffering
type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	QueueSize     int           `mapstructure:"queue_size" validate:"gte=1"`
}

// ReviewConfig controls orchestration and the dispatcher
type ReviewConfig struct {
	Workers     int           `mapstructure:"workers" validate:"gte=1"`
	QueueSize   int           `mapstructure:"queue_size" validate:"gte=1"`
	MaxParallel int           `mapstructure:"max_parallel" validate:"gte=1"`
	MaxInFlight int           `mapstructure:"max_in_flight" validate:"gte=1"`
	Deadline    time.Duration `mapstructure:"deadline" validate:"gt=0"`
	// DedupWindow is the line distance within which cross-tool findings merge
	DedupWindow int           `mapstructure:"dedup_window" validate:"gte=0"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	// FailOn is the default severity gate; empty means no gate
	FailOn string `mapstructure:"fail_on" validate:"omitempty,oneof=critical high medium low info"`
}

// ScannersConfig controls the scanner catalog
type ScannersConfig struct {
	// CatalogFile is an optional YAML file merged over the built-in catalog
	CatalogFile string `mapstructure:"catalog_file"`
	// Watch rescans when the catalog file changes
	Watch          bool          `mapstructure:"watch"`
	Disabled       []string      `mapstructure:"disabled"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
}

// LifecycleConfig controls the lock/PID files and Stop behavior
type LifecycleConfig struct {
	RunDir       string        `mapstructure:"run_dir" validate:"required"`
	GracePeriod  time.Duration `mapstructure:"grace_period" validate:"gt=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

// LoggingConfig controls the slog handler
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	// Format is json, text, or auto (text on a terminal, json otherwise)
	Format string `mapstructure:"format" validate:"oneof=json text auto"`
}

// TelemetryConfig controls metrics and tracing
type TelemetryConfig struct {
	Metrics bool `mapstructure:"metrics"`
	// Tracing writes spans to stderr; meant for local debugging
	Tracing bool `mapstructure:"tracing"`
}

// Default returns a Config with all defaults applied
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        "127.0.0.1:7373",
			GRPCAddr:        "127.0.0.1:7374",
			RateLimit:       DefaultRateLimit,
			RateBurst:       DefaultRateBurst,
			KeepAlive:       DefaultKeepAliveInterval,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Session: SessionConfig{
			IdleTimeout:   DefaultSessionIdleTimeout,
			SweepInterval: DefaultSessionSweepInterval,
			QueueSize:     DefaultSessionQueueSize,
		},
		Review: ReviewConfig{
			Workers:     DefaultWorkers,
			QueueSize:   DefaultDispatchQueueSize,
			MaxParallel: DefaultMaxParallel,
			MaxInFlight: DefaultMaxInFlight,
			Deadline:    DefaultReviewDeadline,
			DedupWindow: DefaultDedupWindow,
			CacheTTL:    DefaultCacheTTL,
		},
		Scanners: ScannersConfig{
			Watch:          true,
			Disabled:       []string{},
			DefaultTimeout: DefaultScannerTimeout,
			ProbeTimeout:   DefaultProbeTimeout,
		},
		Lifecycle: LifecycleConfig{
			RunDir:       DefaultRunDir(),
			GracePeriod:  DefaultGracePeriod,
			PollInterval: DefaultStopPollInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Metrics: true,
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("server.grpc_addr", d.Server.GRPCAddr)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("server.keep_alive", d.Server.KeepAlive)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("session.idle_timeout", d.Session.IdleTimeout)
	v.SetDefault("session.sweep_interval", d.Session.SweepInterval)
	v.SetDefault("session.queue_size", d.Session.QueueSize)

	v.SetDefault("review.workers", d.Review.Workers)
	v.SetDefault("review.queue_size", d.Review.QueueSize)
	v.SetDefault("review.max_parallel", d.Review.MaxParallel)
	v.SetDefault("review.max_in_flight", d.Review.MaxInFlight)
	v.SetDefault("review.deadline", d.Review.Deadline)
	v.SetDefault("review.dedup_window", d.Review.DedupWindow)
	v.SetDefault("review.cache_ttl", d.Review.CacheTTL)
	v.SetDefault("review.fail_on", d.Review.FailOn)

	v.SetDefault("scanners.catalog_file", d.Scanners.CatalogFile)
	v.SetDefault("scanners.watch", d.Scanners.Watch)
	v.SetDefault("scanners.disabled", d.Scanners.Disabled)
	v.SetDefault("scanners.default_timeout", d.Scanners.DefaultTimeout)
	v.SetDefault("scanners.probe_timeout", d.Scanners.ProbeTimeout)

	v.SetDefault("lifecycle.run_dir", d.Lifecycle.RunDir)
	v.SetDefault("lifecycle.grace_period", d.Lifecycle.GracePeriod)
	v.SetDefault("lifecycle.poll_interval", d.Lifecycle.PollInterval)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("telemetry.metrics", d.Telemetry.Metrics)
	v.SetDefault("telemetry.tracing", d.Telemetry.Tracing)
}

// Load reads configuration from path (or the standard search locations when
// path is empty), applies REVIEWD_* environment overrides and validates the
// result. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("reviewd")
		v.SetConfigType("yaml")
		if dir, err := ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LockPath is the exclusive lock file guarding a single instance
func (c *Config) LockPath() string {
	return filepath.Join(c.Lifecycle.RunDir, "reviewd.lock")
}

// PIDPath is the PID file written next to the lock
func (c *Config) PIDPath() string {
	return filepath.Join(c.Lifecycle.RunDir, "reviewd.pid")
}

// LogPath is where a detached server writes its log
func (c *Config) LogPath() string {
	return filepath.Join(c.Lifecycle.RunDir, "reviewd.log")
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "reviewd"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "reviewd"), nil
		}
	}
	return filepath.Join(home, ".config", "reviewd"), nil
}

// DefaultRunDir returns the directory for the lock and PID files
func DefaultRunDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "reviewd")
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "reviewd")
	}
	return filepath.Join(os.TempDir(), "reviewd")
}
