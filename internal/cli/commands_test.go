package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/openbot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		existing string
		other    string
		want     string
	}{
		{"1.0.0", "1.0", "equal"},
		{"1.0.0", "1.0.1", "other_greater"},
		{"2.1b", "2.1a", "existing_greater"},
		{"1.0", "1.x-y", "incomparable"},
	}

	for _, tt := range tests {
		t.Run(tt.existing+" "+tt.other, func(t *testing.T) {
			out, err := execute(t, "version", "compare", tt.existing, tt.other)
			require.NoError(t, err)
			assert.Equal(t, tt.want+"\n", out)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "openbot version "+config.Version+"\n", out)
}

func TestConfigReconcile(t *testing.T) {
	path, dir := writeSettings(t)
	tree := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(tree, []byte(`{"core":{"version":"0.9","owner_id":[7]}}`), 0o644))

	out, err := execute(t, "--config", path, "config", "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated")
	assert.Contains(t, out, "added core.command_prefix")
	assert.Contains(t, out, "shape mismatch core.owner_id")

	data, err := os.ReadFile(tree)
	require.NoError(t, err)
	assert.Contains(t, string(data), config.Version)

	out, err = execute(t, "--config", path, "config", "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "is up to date")
}

func TestConfigGet(t *testing.T) {
	path, _ := writeSettings(t)

	out, err := execute(t, "--config", path, "config", "get", config.KeyCommandPrefix)
	require.NoError(t, err)
	assert.Equal(t, "//\n", out)

	out, err = execute(t, "--config", path, "config", "get", "core.version")
	require.NoError(t, err)
	assert.Equal(t, config.Version+"\n", out)

	_, err = execute(t, "--config", path, "config", "get", "core.nope")
	require.Error(t, err)
}

func TestPluginsCommand(t *testing.T) {
	path, _ := writeSettings(t)

	out, err := execute(t, "--config", path, "plugins")
	require.NoError(t, err)
	assert.Contains(t, out, "Plugins:")
	assert.Contains(t, out, "core")
	assert.Contains(t, out, "Commands (8):")
	assert.Contains(t, out, "//help")
	assert.NotContains(t, out, "Failed:")
}
