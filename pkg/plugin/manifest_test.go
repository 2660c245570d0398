package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weatherManifest = `{
	"description": {
		"plugin_name": "weather",
		"plugin_prefix": "wx",
		"plugin_description": "Forecasts"
	},
	"versioning": {"plugin_version": "1.2.0", "requires": ">=0.5.0"},
	"user": {"enabled": true, "auto_update": false, "beta_testing": false},
	"config_template": {"units": "metric"},
	"functions": {
		"forecast": {
			"function_name": "forecast",
			"help_text": "Show the forecast",
			"allowed_args_length": "0,>2",
			"args_description": ["city"],
			"allowed_modifiers": {"-d=": "days", "--brief": "short output"}
		}
	}
}`

func discoveredAt(t *testing.T, dirName, fileName, content string) DiscoveredPlugin {
	t.Helper()
	dir := filepath.Join(t.TempDir(), dirName)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, fileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	domain, name, _ := SplitDirName(dirName)
	return DiscoveredPlugin{
		ID:           dirName,
		Domain:       domain,
		Name:         name,
		Path:         dir,
		Source:       SourcePlugins,
		ManifestPath: path,
	}
}

func TestManifestLoader_LoadManifest(t *testing.T) {
	loader := NewManifestLoader(zerolog.Nop(), ModeProduction)

	t.Run("loads a complete manifest", func(t *testing.T) {
		d := discoveredAt(t, "acme_weather", "weather.json", weatherManifest)

		m, err := loader.LoadManifest(d)
		require.NoError(t, err)

		assert.Equal(t, "acme_weather", m.ID)
		assert.Equal(t, "weather", m.Description.PluginName)
		assert.Equal(t, "acme", m.Description.DomainName)
		assert.Equal(t, TypeStandard, m.Description.PluginType)
		assert.Equal(t, "wx", m.Prefix())
		assert.Equal(t, "1.2.0", m.Version())
		assert.True(t, m.Enabled())
		assert.Equal(t, "metric", m.ConfigTemplate["units"])

		fn := m.Functions["forecast"]
		assert.True(t, fn.Args.Allows(0))
		assert.False(t, fn.Args.Allows(1))
		assert.Equal(t, []string{"--brief", "-d"}, fn.Modifiers.Keys())
	})

	t.Run("loads YAML manifests", func(t *testing.T) {
		yamlDoc := `description:
  plugin_name: dice
  plugin_prefix: dc
versioning:
  plugin_version: "0.1.0"
user:
  enabled: false
functions:
  roll:
    function_name: roll
    allowed_args_length: "<2"
`
		d := discoveredAt(t, "games_dice", "plugin.yaml", yamlDoc)

		m, err := loader.LoadManifest(d)
		require.NoError(t, err)
		assert.Equal(t, "dc", m.Prefix())
		assert.False(t, m.Enabled())
		assert.True(t, m.Functions["roll"].Args.Allows(1))
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		d := discoveredAt(t, "acme_bad", "bad.json", `{"description": {"plugin_name": "bad"`)
		_, err := loader.LoadManifest(d)
		assert.Error(t, err)
	})

	t.Run("rejects schema violations", func(t *testing.T) {
		d := discoveredAt(t, "acme_bad", "bad.json", `{
			"description": {"plugin_name": "bad", "plugin_prefix": "b"},
			"versioning": {"plugin_version": "1.0.0"},
			"user": {"enabled": "yes"}
		}`)
		_, err := loader.LoadManifest(d)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schema validation")
	})

	t.Run("rejects invalid grammar at load time", func(t *testing.T) {
		d := discoveredAt(t, "acme_bad", "bad.json", `{
			"description": {"plugin_name": "bad", "plugin_prefix": "b"},
			"versioning": {"plugin_version": "1.0.0"},
			"functions": {"f": {"function_name": "f", "allowed_args_length": ">x"}}
		}`)
		_, err := loader.LoadManifest(d)
		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, "acme_bad", loadErr.Plugin)
	})

	t.Run("rejects duplicate function names", func(t *testing.T) {
		d := discoveredAt(t, "acme_dup", "dup.json", `{
			"description": {"plugin_name": "dup", "plugin_prefix": "d"},
			"versioning": {"plugin_version": "1.0.0"},
			"functions": {"a": {"function_name": "ping"}, "b": {"function_name": "ping"}}
		}`)
		_, err := loader.LoadManifest(d)
		assert.Error(t, err)
	})

	t.Run("function name defaults to its id", func(t *testing.T) {
		d := discoveredAt(t, "acme_echo", "echo.json", `{
			"description": {"plugin_name": "echo", "plugin_prefix": "e"},
			"versioning": {"plugin_version": "1.0.0"},
			"functions": {"echo": {}}
		}`)
		m, err := loader.LoadManifest(d)
		require.NoError(t, err)
		assert.Equal(t, "echo", m.Functions["echo"].FunctionName)
		assert.Equal(t, "*", m.Functions["echo"].Args.String())
	})
}

func TestManifestLoader_RequiredKeys(t *testing.T) {
	const bare = `{"functions": {}}`

	t.Run("production reports the missing key", func(t *testing.T) {
		loader := NewManifestLoader(zerolog.Nop(), ModeProduction)
		d := discoveredAt(t, "acme_bare", "bare.json", bare)

		_, err := loader.LoadManifest(d)
		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, "plugin_name", loadErr.Key)
		assert.Equal(t, "acme_bare", loadErr.Plugin)
	})

	t.Run("production reports a missing version", func(t *testing.T) {
		loader := NewManifestLoader(zerolog.Nop(), ModeProduction)
		d := discoveredAt(t, "acme_nover", "nover.json", `{
			"description": {"plugin_name": "nover", "plugin_prefix": "nv"}
		}`)

		_, err := loader.LoadManifest(d)
		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, "version", loadErr.Key)
	})

	t.Run("development fills defaults", func(t *testing.T) {
		loader := NewManifestLoader(zerolog.Nop(), ModeDevelopment)
		d := discoveredAt(t, "acme_bare", "bare.json", bare)

		m, err := loader.LoadManifest(d)
		require.NoError(t, err)
		assert.Equal(t, "bare", m.Description.PluginName)
		assert.Equal(t, "0.0.0", m.Version())
		assert.Regexp(t, `^[a-z]{3}$`, m.Prefix())
	})
}

func TestManifest_EnabledDefaultsToTrue(t *testing.T) {
	m := &Manifest{}
	assert.True(t, m.Enabled())

	off := false
	m.User.Enabled = &off
	assert.False(t, m.Enabled())
}
