package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/openbot/pkg/configtree"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHost struct{ id string }

func (h stubHost) PluginID() string             { return h.id }
func (stubHost) Logger() zerolog.Logger         { return zerolog.Nop() }
func (stubHost) Config() configtree.Tree        { return configtree.Tree{} }
func (stubHost) Permissions() PermissionChecker { return nil }
func (stubHost) Localizer() Localizer           { return nil }

// testPlugin returns the functions it was built with.
type testPlugin struct {
	Base
	functions Functions
	loadErr   error
	test      *TestResult
	panicOn   string
	block     bool
	manifest  *Manifest
	gotHost   Host
}

func (p *testPlugin) Load(ctx context.Context, host Host) (Functions, error) {
	p.gotHost = host
	if p.panicOn == "load" {
		panic("boom")
	}
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.functions, p.loadErr
}

func (p *testPlugin) LoadTest() TestResult {
	if p.test != nil {
		return *p.test
	}
	return Passed()
}

type builtinPlugin struct {
	testPlugin
}

func (p *builtinPlugin) Manifest() Manifest { return *p.manifest }

type testedFunction struct {
	result TestResult
}

func (f testedFunction) Invoke(context.Context, *Invocation) (Reply, error) { return Info("ok"), nil }
func (f testedFunction) LoadTest() TestResult                               { return f.result }

func noop() Function {
	return FunctionFunc(func(context.Context, *Invocation) (Reply, error) { return Reply{}, nil })
}

func writePlugin(t *testing.T, root, dirName, prefix string, enabled bool, functions ...string) {
	t.Helper()
	dir := filepath.Join(root, dirName)
	require.NoError(t, os.MkdirAll(dir, 0755))

	fns := ""
	for i, fn := range functions {
		if i > 0 {
			fns += ","
		}
		fns += `"` + fn + `": {"function_name": "` + fn + `", "allowed_args_length": "*"}`
	}
	enabledStr := "true"
	if !enabled {
		enabledStr = "false"
	}
	doc := `{
		"description": {"plugin_name": "` + dirName + `", "plugin_prefix": "` + prefix + `"},
		"versioning": {"plugin_version": "1.0.0"},
		"user": {"enabled": ` + enabledStr + `},
		"functions": {` + fns + `}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(doc), 0644))
}

func newTestLoader(t *testing.T, root string, catalog *Catalog) *Loader {
	t.Helper()
	return NewLoader(zerolog.Nop(), LoaderConfig{
		PluginsDir:  root,
		Mode:        ModeProduction,
		CoreVersion: "1.0.0",
		LoadTimeout: 200 * time.Millisecond,
	}, catalog, func(m *Manifest) Host { return stubHost{id: m.ID} })
}

func TestLoader_LoadAll(t *testing.T) {
	root := t.TempDir()
	catalog := NewCatalog()

	writePlugin(t, root, "acme_good", "g", true, "ping", "pong")
	require.NoError(t, catalog.Register("acme_good", func() Plugin {
		return &testPlugin{functions: Functions{"ping": noop(), "pong": noop(), "extra": noop()}}
	}))

	writePlugin(t, root, "acme_off", "o", false, "ping")
	require.NoError(t, catalog.Register("acme_off", func() Plugin {
		t.Error("disabled plugins must not be instantiated")
		return &testPlugin{}
	}))

	writePlugin(t, root, "acme_failing", "f", true, "ping")
	require.NoError(t, catalog.Register("acme_failing", func() Plugin {
		return &testPlugin{loadErr: errors.New("no api key")}
	}))

	writePlugin(t, root, "acme_panics", "p", true, "ping")
	require.NoError(t, catalog.Register("acme_panics", func() Plugin {
		return &testPlugin{panicOn: "load"}
	}))

	writePlugin(t, root, "acme_orphan", "x", true, "ping")

	result := newTestLoader(t, root, catalog).LoadAll(context.Background())

	require.Contains(t, result.Plugins, "acme_good")
	good := result.Plugins["acme_good"]
	assert.Equal(t, StateEnabled, good.State)
	assert.Len(t, good.Functions, 2)
	assert.NotContains(t, good.Functions, "extra")
	assert.Equal(t, "acme_good", good.Instance.(*testPlugin).gotHost.PluginID())

	require.Contains(t, result.Plugins, "acme_off")
	assert.Equal(t, StateDisabled, result.Plugins["acme_off"].State)
	assert.Equal(t, []string{"acme_off"}, result.Disabled)

	for _, id := range []string{"acme_failing", "acme_panics", "acme_orphan"} {
		assert.NotContains(t, result.Plugins, id)
		var loadErr *LoadError
		require.ErrorAs(t, result.Failed[id], &loadErr, id)
		assert.Equal(t, id, loadErr.Plugin)
	}

	enabled := result.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "acme_good", enabled[0].ID)

	rec, ok := result.Registry.Get("acme_good")
	require.True(t, ok)
	assert.Equal(t, 0, rec.ErrorCount)
}

func TestLoader_LoadTests(t *testing.T) {
	root := t.TempDir()
	catalog := NewCatalog()

	writePlugin(t, root, "acme_selftest", "s", true, "ping")
	require.NoError(t, catalog.Register("acme_selftest", func() Plugin {
		return &testPlugin{test: &TestResult{}, functions: Functions{"ping": noop()}}
	}))

	writePlugin(t, root, "acme_partial", "pa", true, "good", "bad", "missing")
	require.NoError(t, catalog.Register("acme_partial", func() Plugin {
		return &testPlugin{functions: Functions{
			"good": testedFunction{result: Passed()},
			"bad":  testedFunction{result: Failed("needs network")},
		}}
	}))

	result := newTestLoader(t, root, catalog).LoadAll(context.Background())

	require.Error(t, result.Failed["acme_selftest"])
	assert.Contains(t, result.Failed["acme_selftest"].Error(), DefaultLoadTestMessage)

	partial := result.Plugins["acme_partial"]
	require.NotNil(t, partial)
	assert.Len(t, partial.Functions, 1)
	assert.Contains(t, partial.Functions, "good")
	assert.Equal(t, map[string]string{"bad": "needs network", "missing": "not implemented"}, partial.Skipped)
}

func TestLoader_Timeout(t *testing.T) {
	root := t.TempDir()
	catalog := NewCatalog()

	writePlugin(t, root, "acme_slow", "sl", true, "ping")
	require.NoError(t, catalog.Register("acme_slow", func() Plugin {
		return &testPlugin{block: true}
	}))

	result := newTestLoader(t, root, catalog).LoadAll(context.Background())

	assert.ErrorIs(t, result.Failed["acme_slow"], ErrLoadTimeout)
}

func TestLoader_Requires(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "acme_future")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "future.json"), []byte(`{
		"description": {"plugin_name": "future", "plugin_prefix": "fu"},
		"versioning": {"plugin_version": "1.0.0", "requires": ">=9.0.0"}
	}`), 0644))

	catalog := NewCatalog()
	require.NoError(t, catalog.Register("future", func() Plugin { return &testPlugin{} }))

	result := newTestLoader(t, root, catalog).LoadAll(context.Background())

	require.Error(t, result.Failed["acme_future"])
	assert.Contains(t, result.Failed["acme_future"].Error(), ">=9.0.0")
}

func TestLoader_Builtins(t *testing.T) {
	root := t.TempDir()
	catalog := NewCatalog()

	manifest := &Manifest{
		Description: Description{PluginName: "core", PluginPrefix: "core"},
		Versioning:  Versioning{PluginVersion: "1.0.0"},
		Functions: map[string]FunctionManifest{
			"ping": {FunctionName: "ping", AllowedArgsLength: "0"},
		},
	}
	require.NoError(t, catalog.RegisterBuiltin("core", func() Plugin {
		return &builtinPlugin{testPlugin{functions: Functions{"ping": noop()}, manifest: manifest}}
	}))
	require.NoError(t, catalog.RegisterBuiltin("broken", func() Plugin {
		return &testPlugin{}
	}))

	// A directory with the same ID as a built-in is ignored.
	writePlugin(t, root, "core", "zz", true, "ping")
	writePlugin(t, root, "acme_good", "g", true, "ping")
	require.NoError(t, catalog.Register("acme_good", func() Plugin {
		return &testPlugin{functions: Functions{"ping": noop()}}
	}))

	result := newTestLoader(t, root, catalog).LoadAll(context.Background())

	core := result.Plugins["core"]
	require.NotNil(t, core)
	assert.Equal(t, SourceBuiltin, core.Source)
	assert.Equal(t, TypeSingleFile, core.Manifest.Description.PluginType)
	assert.Equal(t, "core", core.Manifest.Prefix())
	assert.Error(t, result.Failed["broken"])

	enabled := result.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "core", enabled[0].ID)
	assert.Equal(t, "acme_good", enabled[1].ID)

	// Compiling the manifest must not touch the provider's value.
	assert.Empty(t, manifest.Functions["ping"].Args.Clauses())
}

func TestCatalog(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Register("a", func() Plugin { return &testPlugin{} }))
	require.NoError(t, catalog.RegisterBuiltin("core", func() Plugin { return &testPlugin{} }))

	assert.Error(t, catalog.Register("a", func() Plugin { return &testPlugin{} }))
	assert.Error(t, catalog.Register("", func() Plugin { return &testPlugin{} }))
	assert.Error(t, catalog.Register("b", nil))

	_, ok := catalog.Lookup("a")
	assert.True(t, ok)
	assert.True(t, catalog.IsBuiltin("core"))
	assert.False(t, catalog.IsBuiltin("a"))
	assert.Equal(t, []string{"core"}, catalog.Builtins())
}

func TestRegistry_RecordError(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&LoadedPlugin{ID: "p", State: StateEnabled}))
	assert.Error(t, registry.Register(&LoadedPlugin{ID: "p"}))

	boom := errors.New("boom")
	require.NoError(t, registry.RecordError("p", boom))
	require.NoError(t, registry.RecordError("p", boom))
	assert.Error(t, registry.RecordError("missing", boom))

	rec, ok := registry.Get("p")
	require.True(t, ok)
	assert.Equal(t, 2, rec.ErrorCount)
	assert.ErrorIs(t, rec.LastError, boom)
	assert.Len(t, registry.ByState(StateEnabled), 1)
	assert.Empty(t, registry.ByState(StateDisabled))
}
