package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/taskgraph/internal/filelock"
	"github.com/Iron-Ham/taskgraph/internal/limiter"
	"github.com/Iron-Ham/taskgraph/internal/logging"
)

// Config represents the complete taskgraph configuration
type Config struct {
	Store    StoreConfig              `mapstructure:"store"`
	Logging  LoggingConfig            `mapstructure:"logging"`
	Limiters map[string]LimiterConfig `mapstructure:"limiters"`
	Sweep    SweepConfig              `mapstructure:"sweep"`
	Watch    WatchConfig              `mapstructure:"watch"`
	Metrics  MetricsConfig            `mapstructure:"metrics"`
}

// StoreConfig controls where the task document lives and how it is locked
type StoreConfig struct {
	// Path is the store document (default: ".taskgraph/tasks.json")
	Path string `mapstructure:"path"`
	// LockTimeout bounds how long a mutation waits for the cross-process lock.
	// 0 means a single attempt.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	// StaleAfter is the age after which a lock held by a live or foreign
	// process is considered abandoned (default: 30s)
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// RetryInterval is the initial delay between lock attempts (default: 20ms)
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Enabled controls whether logs are written to a file (default: true).
	// When false, only warnings and errors go to stderr.
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the log directory. Empty means the store's directory.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// LimiterConfig configures one named concurrency limiter
type LimiterConfig struct {
	// MaxConcurrent is the ceiling on running operations (0 = unlimited)
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// Timeout bounds a started operation (0 = none)
	Timeout time.Duration `mapstructure:"timeout"`
	// QueueTimeout bounds the wait for a slot (0 = none)
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`
}

// SweepConfig controls the scheduled recovery sweep
type SweepConfig struct {
	// Schedule is a cron expression or descriptor (default: "@every 30s")
	Schedule string `mapstructure:"schedule"`
}

// WatchConfig controls the store watcher used by live views
type WatchConfig struct {
	// Debounce coalesces bursts of file events (default: 50ms)
	Debounce time.Duration `mapstructure:"debounce"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the address served by "metrics serve" (default: ":9464")
	Listen string `mapstructure:"listen"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	limiters := make(map[string]LimiterConfig)
	for name, lc := range limiter.DefaultConfigs() {
		limiters[name] = LimiterConfig{
			MaxConcurrent: lc.MaxConcurrent,
			Timeout:       lc.Timeout,
			QueueTimeout:  lc.QueueTimeout,
		}
	}
	return &Config{
		Store: StoreConfig{
			Path:          filepath.Join(".taskgraph", "tasks.json"),
			LockTimeout:   filelock.DefaultTimeout,
			StaleAfter:    filelock.DefaultStaleAfter,
			RetryInterval: filelock.DefaultRetryInterval,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Limiters: limiters,
		Sweep: SweepConfig{
			Schedule: "@every 30s",
		},
		Watch: WatchConfig{
			Debounce: 50 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Store defaults
	viper.SetDefault("store.path", defaults.Store.Path)
	viper.SetDefault("store.lock_timeout", defaults.Store.LockTimeout)
	viper.SetDefault("store.stale_after", defaults.Store.StaleAfter)
	viper.SetDefault("store.retry_interval", defaults.Store.RetryInterval)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Limiter defaults, one key per field so a config file can override a
	// single value without restating the rest
	for name, lc := range defaults.Limiters {
		viper.SetDefault("limiters."+name+".max_concurrent", lc.MaxConcurrent)
		viper.SetDefault("limiters."+name+".timeout", lc.Timeout)
		viper.SetDefault("limiters."+name+".queue_timeout", lc.QueueTimeout)
	}

	viper.SetDefault("sweep.schedule", defaults.Sweep.Schedule)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)
	viper.SetDefault("metrics.listen", defaults.Metrics.Listen)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskgraph")
	}
	// Fall back to ~/.config/taskgraph
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskgraph"
	}
	return filepath.Join(home, ".config", "taskgraph")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LockOptions converts the store settings to lock acquisition options
func (s StoreConfig) LockOptions() []filelock.Option {
	return []filelock.Option{
		filelock.WithTimeout(s.LockTimeout),
		filelock.WithStaleAfter(s.StaleAfter),
		filelock.WithRetryInterval(s.RetryInterval),
	}
}

// LogDir returns the directory log files are written to
func (c *Config) LogDir() string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	return filepath.Dir(c.Store.Path)
}

// Rotation returns the log rotation settings
func (l LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{MaxSizeMB: l.MaxSizeMB, MaxBackups: l.MaxBackups}
}

// LimiterConfigs converts the limiter section for limiter.NewSet
func (c *Config) LimiterConfigs() map[string]limiter.Config {
	out := make(map[string]limiter.Config, len(c.Limiters))
	for name, lc := range c.Limiters {
		out[name] = limiter.Config{
			MaxConcurrent: lc.MaxConcurrent,
			Timeout:       lc.Timeout,
			QueueTimeout:  lc.QueueTimeout,
		}
	}
	return out
}
