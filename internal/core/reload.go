package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/openbot/internal/audit"
	"github.com/harun/openbot/internal/config"
	"github.com/harun/openbot/internal/locale"
	"github.com/harun/openbot/pkg/command"
	"github.com/harun/openbot/pkg/configtree"
	"github.com/harun/openbot/pkg/hooks"
	"github.com/harun/openbot/pkg/perms"
	"github.com/harun/openbot/pkg/plugin"
	"github.com/spf13/cast"
)

// Reload re-reads the configuration, reloads every plugin, rebuilds the
// command table and publishes it. Concurrent calls share one reload;
// in-flight dispatches keep the table they started with. Plugin and config
// failures are logged and never fail the reload; only a cancelled ctx does.
func (c *Core) Reload(ctx context.Context, trigger string) (*State, error) {
	v, err, shared := c.reloads.Do("reload", func() (any, error) {
		c.reloadMu.Lock()
		defer c.reloadMu.Unlock()
		return c.reload(ctx, trigger)
	})
	if shared {
		c.logger.Debug().Str("trigger", trigger).Msg("Joined in-flight reload")
	}
	if err != nil {
		return nil, err
	}
	return v.(*State), nil
}

func (c *Core) reload(ctx context.Context, trigger string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	// Nothing below publishes config until commitConfig; readers keep the
	// previous tree and table until both are swapped.
	pending := &pendingConfig{staged: c.stageConfig()}

	loader := plugin.NewLoader(c.logger, plugin.LoaderConfig{
		PluginsDir:  c.cfg.PluginsDir,
		ExtraDirs:   c.cfg.ExtraPluginDirs,
		Mode:        plugin.BuildMode(c.cfg.BuildMode),
		CoreVersion: config.Version,
		LoadTimeout: c.cfg.LoadTimeoutDuration(),
	}, c.catalog, func(manifest *plugin.Manifest) plugin.Host {
		return c.hostFor(pending, manifest)
	})
	load := loader.LoadAll(ctx)

	prefix := pending.getString(config.KeyCommandPrefix, config.DefaultPrefix)
	table, report := command.Build(prefix, load.Enabled(), c.logger)

	var generation int64 = 1
	if prev := c.state.Load(); prev != nil {
		generation = prev.Generation + 1
	}
	st := &State{
		Generation: generation,
		Trigger:    trigger,
		Table:      table,
		Load:       load,
		Report:     report,
		LoadedAt:   time.Now(),
		Duration:   time.Since(start),
	}
	c.commitConfig(pending)
	c.state.Store(st)

	if err := c.perms.Refresh(); err != nil {
		c.logger.Error().Err(err).Msg("Invalid permission groups, denying every permission")
	}
	c.locale.SetLocale(c.store.GetString(config.KeyLocale, locale.Default))
	c.schedule()

	if c.metrics != nil {
		c.metrics.RecordReload(trigger, st.Duration, load, report)
	}

	data := map[string]any{
		"trigger":    trigger,
		"generation": generation,
		"plugins":    len(load.Enabled()) - len(report.Rejected),
		"commands":   report.Registered,
		"failed":     len(load.Failed) + len(report.Rejected),
	}
	if c.audit != nil {
		c.audit.Record(ctx, audit.Event{
			Type:     audit.TypeLifecycle,
			Action:   "reload",
			Status:   "success",
			Metadata: data,
		})
	}
	c.trigger(ctx, hooks.EventReloaded, data)

	c.logger.Info().
		Str("trigger", trigger).
		Int64("generation", generation).
		Int("commands", report.Registered).
		Int("conflicts", len(report.Conflicts)).
		Int("failed", len(load.Failed)+len(report.Rejected)).
		Dur("duration", st.Duration).
		Msg("Registry reloaded")

	return st, nil
}

// pendingConfig is the tree a reload assembles before publishing it.
// Plugins loading during the reload read their subtree from it.
type pendingConfig struct {
	mu        sync.Mutex
	staged    *configtree.Staged
	manifests []*plugin.Manifest // with a config_template, in load order
	committed bool
}

// sub returns a copy of the staged subtree at path, or ok=false once the
// tree has been committed.
func (p *pendingConfig) sub(path string) (configtree.Tree, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.committed {
		return nil, false
	}
	return p.staged.Tree.Sub(path).Clone(), true
}

func (p *pendingConfig) getString(path, def string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.staged.Tree.Get(path)
	if !ok {
		return def
	}
	out, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return out
}

// stageConfig reconciles the persisted tree against the core schema and
// seeds the default permission groups, without publishing.
func (c *Core) stageConfig() *configtree.Staged {
	st := c.store.Stage(config.DefaultTree(config.Version))
	if len(st.Mismatched) > 0 {
		c.logger.Warn().Strs("keys", st.Mismatched).Msg("Config values do not match the schema shape, keeping them")
	}
	if _, ok := st.Tree.Get(perms.TreeKey); !ok {
		st.Tree.Set(perms.TreeKey, perms.DefaultGroups())
		st.Changed = true
		c.logger.Info().Msg("Seeded default permission groups")
	}
	return st
}

// commitConfig persists and publishes the pending tree once. If the store was
// written while plugins loaded, the tree is staged again on top of that write
// and the plugin templates are re-applied.
func (c *Core) commitConfig(p *pendingConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.committed = true }()

	for attempt := 1; ; attempt++ {
		err := c.store.Commit(p.staged)
		if !errors.Is(err, configtree.ErrStale) {
			if err != nil {
				c.configWriteFailed(err)
			}
			return
		}
		if attempt == maxCommitAttempts {
			c.logger.Error().Msg("Config kept changing during reload, keeping the current tree")
			return
		}
		c.logger.Debug().Int("attempt", attempt).Msg("Config written during reload, staging again")
		p.staged = c.stageConfig()
		for _, m := range p.manifests {
			c.mergeTemplate(p.staged, m)
		}
	}
}

const maxCommitAttempts = 3

// hostFor builds the plugin.Host for one reload. It reconciles the plugin's
// config template into the pending tree before the plugin sees its subtree.
func (c *Core) hostFor(p *pendingConfig, manifest *plugin.Manifest) plugin.Host {
	if len(manifest.ConfigTemplate) > 0 {
		p.mu.Lock()
		p.manifests = append(p.manifests, manifest)
		c.mergeTemplate(p.staged, manifest)
		p.mu.Unlock()
	}
	return &host{
		id:      manifest.ID,
		core:    c,
		pending: p,
		logger:  c.logger.With().Str("plugin", manifest.ID).Logger(),
	}
}

// mergeTemplate reconciles config_template under the plugin ID of st. User
// values win; <id>.version always follows the plugin version.
func (c *Core) mergeTemplate(st *configtree.Staged, manifest *plugin.Manifest) {
	template, _ := configtree.Normalize(manifest.ConfigTemplate).(map[string]any)
	template["version"] = manifest.Version()
	defaults := configtree.Tree{manifest.ID: template}

	res := configtree.Reconcile(st.Tree, defaults,
		configtree.WithPinned(manifest.ID+".version"),
		configtree.WithLogger(c.logger.With().Str("plugin", manifest.ID).Logger()),
	)
	if !res.Changed {
		return
	}
	st.Tree = res.Tree
	st.Changed = true
	c.logger.Info().Str("plugin", manifest.ID).Msg("Plugin config updated from template")
}

func (c *Core) configWriteFailed(err error) {
	var werr *configtree.WriteError
	if errors.As(err, &werr) && c.metrics != nil {
		c.metrics.ConfigWriteFails.Inc()
	}
}

// schedule keeps the cron entry in line with core.reload_schedule.
func (c *Core) schedule() {
	spec := c.store.GetString(config.KeyReloadSchedule, "")
	if spec == c.cronSpec {
		return
	}

	if c.cronEntry != 0 {
		c.cron.Remove(c.cronEntry)
		c.cronEntry = 0
	}
	c.cronSpec = spec
	if spec == "" {
		return
	}

	id, err := c.cron.AddFunc(spec, func() {
		if _, err := c.Reload(context.Background(), TriggerSchedule); err != nil {
			c.logger.Error().Err(err).Msg("Scheduled reload failed")
		}
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("schedule", spec).Msg("Invalid reload schedule, not scheduling")
		return
	}
	c.cronEntry = id
	c.logger.Info().Str("schedule", spec).Msg("Reload scheduled")
}

// FilesChanged is the watcher callback. A change to the config file that
// only reflects the store's own last write is ignored.
func (c *Core) FilesChanged(ctx context.Context, paths []string) {
	configPath, _ := filepath.Abs(c.store.Path())
	external := false
	for _, p := range paths {
		if p != configPath || c.store.Modified() {
			external = true
			break
		}
	}
	if !external {
		c.logger.Debug().Strs("paths", paths).Msg("Ignoring own config write")
		return
	}

	c.logger.Info().Strs("paths", paths).Msg("Files changed, reloading")
	if _, err := c.Reload(ctx, TriggerWatch); err != nil {
		c.logger.Error().Err(err).Msg("Reload after file change failed")
	}
}
