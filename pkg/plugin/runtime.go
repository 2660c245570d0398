package plugin

import (
	"context"
	"sort"
)

// LoadResult contains the results of loading plugins
type LoadResult struct {
	// Plugins holds every plugin that loaded, enabled or disabled.
	Plugins  map[string]*LoadedPlugin
	Failed   map[string]error
	Disabled []string
	Registry *Registry
}

// Enabled returns the enabled plugins in registration order: built-ins first,
// then by plugin ID.
func (r *LoadResult) Enabled() []*LoadedPlugin {
	out := make([]*LoadedPlugin, 0, len(r.Plugins))
	for _, lp := range r.Plugins {
		if lp.State == StateEnabled {
			out = append(out, lp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		bi, bj := out[i].Source == SourceBuiltin, out[j].Source == SourceBuiltin
		if bi != bj {
			return bi
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LoadAll loads the built-in plugins and every plugin found on disk. Each
// plugin is processed independently; failures are logged and recorded in
// Failed and never stop the others.
func (l *Loader) LoadAll(ctx context.Context) *LoadResult {
	result := &LoadResult{
		Plugins:  make(map[string]*LoadedPlugin),
		Failed:   make(map[string]error),
		Disabled: []string{},
		Registry: NewRegistry(),
	}

	record := func(id string, lp *LoadedPlugin, err error) {
		if err != nil {
			l.logger.Error().Err(err).Str("plugin", id).Msg("Failed to load plugin")
			result.Failed[id] = err
			return
		}
		if _, taken := result.Plugins[id]; taken {
			l.logger.Warn().Str("plugin", id).Msg("Plugin ID already loaded, ignoring duplicate")
			return
		}
		result.Plugins[id] = lp
		if err := result.Registry.Register(lp); err != nil {
			l.logger.Warn().Err(err).Str("plugin", id).Msg("Failed to register plugin")
		}

		switch lp.State {
		case StateDisabled:
			result.Disabled = append(result.Disabled, id)
			l.logger.Warn().Str("plugin", id).Msg("Plugin is disabled")
		default:
			l.logger.Info().
				Str("plugin", id).
				Str("version", lp.Manifest.Version()).
				Int("functions", len(lp.Functions)).
				Msg("Plugin loaded")
		}
	}

	for _, id := range l.catalog.Builtins() {
		if err := ctx.Err(); err != nil {
			result.Failed[id] = err
			continue
		}
		lp, err := l.loadBuiltin(ctx, id)
		record(id, lp, err)
	}

	discovered := l.discovery.Discover(DiscoveryConfig{
		PluginsDir: l.config.PluginsDir,
		ExtraDirs:  l.config.ExtraDirs,
	})
	for _, d := range discovered {
		if l.catalog.IsBuiltin(d.ID) {
			l.logger.Warn().Str("plugin", d.ID).Msg("Plugin directory shadows a built-in plugin, ignoring")
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Failed[d.ID] = err
			continue
		}
		lp, err := l.loadDirectory(ctx, d)
		record(d.ID, lp, err)
	}

	sort.Strings(result.Disabled)

	l.logger.Info().
		Int("loaded", len(result.Plugins)-len(result.Disabled)).
		Int("disabled", len(result.Disabled)).
		Int("failed", len(result.Failed)).
		Msg("Plugin loading complete")

	return result
}
