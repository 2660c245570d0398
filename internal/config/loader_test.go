package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file is missing", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("OPENBOT_DATA_DIR", dir)

		cfg, err := NewLoader(filepath.Join(dir, "missing.yaml")).Load()
		require.NoError(t, err)

		assert.Equal(t, dir, cfg.DataDir)
		assert.Equal(t, filepath.Join(dir, "config.json"), cfg.ConfigFile)
		assert.Equal(t, filepath.Join(dir, "plugins"), cfg.PluginsDir)
		assert.Equal(t, filepath.Join(dir, "openbot.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(dir, "history.db"), cfg.Audit.History)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("yaml file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "openbot.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
data_dir: `+dir+`
build_mode: development
load_timeout: 3
extra_plugin_dirs: [/opt/a, /opt/b]
telegram:
  enabled: false
hooks:
  scripts:
    - id: notify
      event: core.started
      script: echo started
      timeout: 2s
      enabled: true
`), 0644))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)

		assert.Equal(t, "development", cfg.BuildMode)
		assert.Equal(t, 3, cfg.LoadTimeout)
		assert.Equal(t, []string{"/opt/a", "/opt/b"}, cfg.ExtraPluginDirs)
		assert.False(t, cfg.Telegram.Enabled)
		assert.Equal(t, "info", cfg.Logging.Level)
		require.Len(t, cfg.Hooks.Scripts, 1)
		assert.Equal(t, "core.started", cfg.Hooks.Scripts[0].Event)
		assert.Equal(t, "2s", cfg.Hooks.Scripts[0].Timeout.String())
	})

	t.Run("json file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "openbot.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"data_dir": "`+dir+`",
			"metrics": {"enabled": true, "addr": ":9000"}
		}`), 0644))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, ":9000", cfg.Metrics.Addr)
		assert.Equal(t, "/metrics", cfg.Metrics.Path)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "openbot.yaml")
		require.NoError(t, os.WriteFile(path, []byte("data_dir: "+dir+"\nlogging:\n  level: warn\n"), 0644))
		t.Setenv("OPENBOT_LOGGING_LEVEL", "debug")

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.json")
		require.NoError(t, os.WriteFile(path, []byte("invalid json"), 0644))

		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	assert.Equal(t, "/etc/openbot.yaml", NewLoader("/etc/openbot.yaml").GetConfigPath())

	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, ".openbot", "openbot.yaml"), NewLoader("").GetConfigPath())
}
