// Package config holds the process bootstrap settings and the default bot
// configuration tree.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/openbot/pkg/hooks"
	"github.com/harun/openbot/pkg/plugin"
	"github.com/rs/zerolog"
)

// Version is the running core version, written to core.version.
const Version = "1.0.0"

// Config represents the bootstrap configuration. Bot behaviour lives in the
// configuration tree at ConfigFile; this is what the process needs to find it.
type Config struct {
	// Data directory, default $HOME/.openbot
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Persisted bot configuration tree, default <data_dir>/config.json
	ConfigFile string `json:"config_file" mapstructure:"config_file"`

	// Plugin discovery
	PluginsDir      string   `json:"plugins_dir" mapstructure:"plugins_dir"`
	ExtraPluginDirs []string `json:"extra_plugin_dirs" mapstructure:"extra_plugin_dirs"`

	// development or production
	BuildMode string `json:"build_mode" mapstructure:"build_mode"`

	// Seconds a plugin may spend in Load and LoadTest
	LoadTimeout int `json:"load_timeout" mapstructure:"load_timeout"`

	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`
	Audit    AuditConfig    `json:"audit" mapstructure:"audit"`
	Watch    WatchConfig    `json:"watch" mapstructure:"watch"`
	Hooks    HooksConfig    `json:"hooks" mapstructure:"hooks"`
}

// TelegramConfig holds Telegram connection settings. The bot token itself is
// core.token in the configuration tree.
type TelegramConfig struct {
	Enabled     bool `json:"enabled" mapstructure:"enabled"`
	PollTimeout int  `json:"poll_timeout" mapstructure:"poll_timeout"` // seconds
	Debug       bool `json:"debug" mapstructure:"debug"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
	Path    string `json:"path" mapstructure:"path"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"` // 0..1
}

// AuditConfig holds the dispatch audit settings
type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	File    string `json:"file" mapstructure:"file"`       // JSON lines, default <data_dir>/audit.log
	History string `json:"history" mapstructure:"history"` // SQLite, default <data_dir>/history.db
	Keep    int    `json:"keep" mapstructure:"keep"`       // history rows kept
}

// WatchConfig controls reload on file changes
type WatchConfig struct {
	Enabled  bool `json:"enabled" mapstructure:"enabled"`
	Debounce int  `json:"debounce" mapstructure:"debounce"` // milliseconds
}

// HooksConfig holds the shell hooks run on core events
type HooksConfig struct {
	Enabled bool           `json:"enabled" mapstructure:"enabled"`
	Scripts []hooks.Script `json:"scripts" mapstructure:"scripts"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		BuildMode:   string(plugin.ModeProduction),
		LoadTimeout: 10,
		Telegram: TelegramConfig{
			Enabled:     true,
			PollTimeout: 60,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName: "openbot",
			SampleRatio: 1,
		},
		Audit: AuditConfig{
			Enabled: true,
			Keep:    10000,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 500,
		},
		Hooks: HooksConfig{
			Enabled: true,
		},
	}
}

// LoadTimeoutDuration is LoadTimeout as a duration.
func (c *Config) LoadTimeoutDuration() time.Duration {
	return time.Duration(c.LoadTimeout) * time.Second
}

// DebounceDuration is Watch.Debounce as a duration.
func (c *Config) DebounceDuration() time.Duration {
	return time.Duration(c.Watch.Debounce) * time.Millisecond
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch plugin.BuildMode(c.BuildMode) {
	case plugin.ModeDevelopment, plugin.ModeProduction:
	default:
		return fmt.Errorf("invalid build_mode %q (must be: development, production)", c.BuildMode)
	}

	if c.LoadTimeout <= 0 {
		return fmt.Errorf("load_timeout must be positive")
	}
	if c.PluginsDir == "" {
		return fmt.Errorf("plugins_dir is required")
	}
	if c.ConfigFile == "" {
		return fmt.Errorf("config_file is required")
	}

	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("invalid logging level %q", c.Logging.Level)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}

	if c.Telegram.PollTimeout < 0 {
		return fmt.Errorf("telegram poll_timeout cannot be negative")
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample_ratio must be between 0 and 1")
	}

	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch debounce cannot be negative")
	}

	return nil
}
