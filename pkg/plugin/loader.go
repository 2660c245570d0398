package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// HostFactory builds the Host handed to a plugin while it loads.
type HostFactory func(manifest *Manifest) Host

// LoaderConfig configures plugin loading.
type LoaderConfig struct {
	PluginsDir  string
	ExtraDirs   []string
	Mode        BuildMode
	CoreVersion string
	LoadTimeout time.Duration
}

// Loader turns discovered plugin directories and built-in catalog entries into
// loaded plugins.
type Loader struct {
	logger    zerolog.Logger
	config    LoaderConfig
	catalog   *Catalog
	manifests *ManifestLoader
	discovery *Discovery
	hosts     HostFactory
}

// NewLoader creates a new plugin loader
func NewLoader(logger zerolog.Logger, config LoaderConfig, catalog *Catalog, hosts HostFactory) *Loader {
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = 10 * time.Second
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Loader{
		logger:    logger.With().Str("component", "plugin-loader").Logger(),
		config:    config,
		catalog:   catalog,
		manifests: NewManifestLoader(logger, config.Mode),
		discovery: NewDiscovery(logger),
		hosts:     hosts,
	}
}

// loadDirectory loads a plugin whose manifest lives on disk.
func (l *Loader) loadDirectory(ctx context.Context, discovered DiscoveredPlugin) (lp *LoadedPlugin, err error) {
	defer l.recoverPanic(discovered.ID, &err)

	manifest, err := l.manifests.LoadManifest(discovered)
	if err != nil {
		return nil, wrapLoadError(discovered.ID, err)
	}

	lp = &LoadedPlugin{
		ID:       discovered.ID,
		Source:   discovered.Source,
		Path:     discovered.Path,
		Manifest: manifest,
		State:    StateLoading,
	}

	if err := l.checkRequires(manifest); err != nil {
		return nil, err
	}
	if !manifest.Enabled() {
		lp.State = StateDisabled
		return lp, nil
	}

	factory, ok := l.catalog.Lookup(discovered.ID)
	if !ok {
		factory, ok = l.catalog.Lookup(manifest.Description.PluginName)
	}
	if !ok {
		return nil, &LoadError{Plugin: discovered.ID, Err: errors.New("no implementation registered in catalog")}
	}

	instance := factory()
	if instance == nil {
		return nil, &LoadError{Plugin: discovered.ID, Err: errors.New("factory returned nil plugin")}
	}
	return lp, l.activate(ctx, lp, instance)
}

// loadBuiltin loads a single-file plugin from the catalog.
func (l *Loader) loadBuiltin(ctx context.Context, id string) (lp *LoadedPlugin, err error) {
	defer l.recoverPanic(id, &err)

	factory, _ := l.catalog.Lookup(id)
	instance := factory()
	provider, ok := instance.(ManifestProvider)
	if !ok {
		return nil, &LoadError{Plugin: id, Err: errors.New("built-in plugin does not provide a manifest")}
	}

	manifest := cloneManifest(provider.Manifest())
	manifest.ID = id
	discovered := DiscoveredPlugin{ID: id, Name: manifest.Description.PluginName, Source: SourceBuiltin}
	if err := l.manifests.Validate(manifest, discovered); err != nil {
		return nil, wrapLoadError(id, err)
	}

	lp = &LoadedPlugin{
		ID:       id,
		Source:   SourceBuiltin,
		Manifest: manifest,
		State:    StateLoading,
	}

	if err := l.checkRequires(manifest); err != nil {
		return nil, err
	}
	if !manifest.Enabled() {
		lp.State = StateDisabled
		return lp, nil
	}
	return lp, l.activate(ctx, lp, instance)
}

func (l *Loader) checkRequires(manifest *Manifest) error {
	ok, err := CheckRequires(manifest.Versioning.Requires, l.config.CoreVersion)
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("plugin", manifest.ID).
			Msg("Cannot check plugin requirement, loading anyway")
		return nil
	}
	if !ok {
		return &LoadError{
			Plugin: manifest.ID,
			Err:    fmt.Errorf("requires core %s, running %s", manifest.Versioning.Requires, l.config.CoreVersion),
		}
	}
	return nil
}

// activate runs Load and the self-tests, then keeps the functions that are
// both declared and implemented.
func (l *Loader) activate(ctx context.Context, lp *LoadedPlugin, instance Plugin) error {
	var host Host
	if l.hosts != nil {
		host = l.hosts(lp.Manifest)
	}

	impls, err := withTimeout(ctx, l.config.LoadTimeout, func(ctx context.Context) (Functions, error) {
		return instance.Load(ctx, host)
	})
	if err != nil {
		return &LoadError{Plugin: lp.ID, Err: fmt.Errorf("load: %w", err)}
	}

	result, err := withTimeout(ctx, l.config.LoadTimeout, func(context.Context) (TestResult, error) {
		return instance.LoadTest(), nil
	})
	if err != nil {
		return &LoadError{Plugin: lp.ID, Err: fmt.Errorf("load test: %w", err)}
	}
	if !result.OK {
		return &LoadError{Plugin: lp.ID, Err: errors.New(testMessage(result))}
	}

	lp.Instance = instance
	lp.Functions = make(Functions)
	lp.Skipped = make(map[string]string)

	ids := make([]string, 0, len(lp.Manifest.Functions))
	for id := range lp.Manifest.Functions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		impl, ok := impls[id]
		if !ok || impl == nil {
			lp.Skipped[id] = "not implemented"
			event := l.logger.Error()
			if l.manifests.mode == ModeDevelopment {
				event = l.logger.Warn()
			}
			event.Str("plugin", lp.ID).Str("function", id).Msg("Declared function has no implementation, skipping")
			continue
		}

		if tester, ok := impl.(LoadTester); ok {
			res, err := withTimeout(ctx, l.config.LoadTimeout, func(context.Context) (TestResult, error) {
				return tester.LoadTest(), nil
			})
			if err != nil {
				res = Failed(err.Error())
			}
			if !res.OK {
				lp.Skipped[id] = testMessage(res)
				l.logger.Error().
					Str("plugin", lp.ID).
					Str("function", id).
					Str("reason", lp.Skipped[id]).
					Msg("Function load test failed, skipping")
				continue
			}
		}

		lp.Functions[id] = impl
	}

	for id := range impls {
		if _, declared := lp.Manifest.Functions[id]; !declared {
			l.logger.Warn().
				Str("plugin", lp.ID).
				Str("function", id).
				Msg("Implementation without manifest declaration, ignoring")
		}
	}

	lp.State = StateEnabled
	return nil
}

func (l *Loader) recoverPanic(pluginID string, err *error) {
	if r := recover(); r != nil {
		l.logger.Error().
			Str("plugin", pluginID).
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("Panic while loading plugin")
		*err = &LoadError{Plugin: pluginID, Err: fmt.Errorf("panic: %v", r)}
	}
}

// withTimeout runs fn bounded by timeout. A panic inside fn is returned as an
// error. A plugin that ignores its context keeps running in the background.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome{zero, fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
			}
		}()
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			var zero T
			return zero, fmt.Errorf("%w after %s", ErrLoadTimeout, timeout)
		}
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrLoadTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}

func testMessage(r TestResult) string {
	if r.Message == "" {
		return DefaultLoadTestMessage
	}
	return r.Message
}

func wrapLoadError(pluginID string, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return err
	}
	return &LoadError{Plugin: pluginID, Err: err}
}

// cloneManifest copies the maps a loader mutates so provider values stay untouched.
func cloneManifest(m Manifest) *Manifest {
	out := m
	out.Functions = make(map[string]FunctionManifest, len(m.Functions))
	for id, fn := range m.Functions {
		out.Functions[id] = fn
	}
	if m.ConfigTemplate != nil {
		out.ConfigTemplate = make(map[string]any, len(m.ConfigTemplate))
		for k, v := range m.ConfigTemplate {
			out.ConfigTemplate[k] = v
		}
	}
	return &out
}
