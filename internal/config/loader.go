package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envKeys are the settings that can be overridden with OPENBOT_* variables,
// e.g. OPENBOT_LOGGING_LEVEL=debug.
var envKeys = []string{
	"data_dir",
	"config_file",
	"plugins_dir",
	"build_mode",
	"load_timeout",
	"telegram.enabled",
	"telegram.debug",
	"logging.level",
	"logging.file",
	"metrics.enabled",
	"metrics.addr",
	"tracing.enabled",
	"tracing.sample_ratio",
	"audit.enabled",
	"watch.enabled",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// GetConfigPath returns the bootstrap file path, default
// $HOME/.openbot/openbot.yaml.
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".openbot", "openbot.yaml")
}

// Load reads the bootstrap file (JSON or YAML by extension) over the
// defaults, applies OPENBOT_* environment overrides and fills derived paths.
// A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OPENBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	configPath := l.GetConfigPath()
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.fillPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillPaths() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".openbot")
	}

	if c.ConfigFile == "" {
		c.ConfigFile = filepath.Join(c.DataDir, "config.json")
	}
	if c.PluginsDir == "" {
		c.PluginsDir = filepath.Join(c.DataDir, "plugins")
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "openbot.log")
	}
	if c.Audit.File == "" {
		c.Audit.File = filepath.Join(c.DataDir, "audit.log")
	}
	if c.Audit.History == "" {
		c.Audit.History = filepath.Join(c.DataDir, "history.db")
	}
	return nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
