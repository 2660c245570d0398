package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/openbot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSettings points the bootstrap settings at a temporary data directory.
func writeSettings(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "openbot.yaml")
	data := "data_dir: " + dir + "\ntelegram:\n  enabled: false\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return output.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, err := execute(t, "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "openbot version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		out, err := execute(t, "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Openbot")
		assert.Contains(t, out, "plugins")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)
	})

	t.Run("subcommands", func(t *testing.T) {
		names := map[string]bool{}
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"run", "stop", "status", "plugins", "config", "version"} {
			assert.True(t, names[want], "%s command should exist", want)
		}
	})
}

func TestGetVersion(t *testing.T) {
	assert.Equal(t, config.Version, GetVersion())
}

func TestLoadSettings_LogLevelOverride(t *testing.T) {
	path, dir := writeSettings(t)
	cfgFile, logLevel = path, "debug"
	defer func() { cfgFile, logLevel = "", "" }()

	cfg, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "config.json"), cfg.ConfigFile)
}

func TestLoadSettings_Invalid(t *testing.T) {
	path, _ := writeSettings(t)
	cfgFile, logLevel = path, "loud"
	defer func() { cfgFile, logLevel = "", "" }()

	_, err := loadSettings()
	assert.Error(t, err)
}
