// Package core owns the bot's runtime: it loads the configuration and the
// plugins, builds the command table, publishes it for the dispatcher and
// swaps in a fresh one on every reload.
package core

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/openbot/internal/audit"
	"github.com/harun/openbot/internal/config"
	"github.com/harun/openbot/internal/locale"
	"github.com/harun/openbot/internal/metrics"
	"github.com/harun/openbot/pkg/command"
	"github.com/harun/openbot/pkg/configtree"
	"github.com/harun/openbot/pkg/hooks"
	"github.com/harun/openbot/pkg/perms"
	"github.com/harun/openbot/pkg/plugin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// PluginID is the ID and prefix of the built-in plugin. Its commands are
// exempt from channel restrictions and sleep.
const PluginID = "core"

// Reload triggers.
const (
	TriggerStartup  = "startup"
	TriggerCommand  = "command"
	TriggerWatch    = "watch"
	TriggerSchedule = "schedule"
)

// Options configures a Core. Config and Catalog are required; every other
// collaborator is optional.
type Options struct {
	Config  *config.Config
	Catalog *plugin.Catalog
	Logger  zerolog.Logger

	// Store defaults to the file at Config.ConfigFile.
	Store *configtree.Store
	// Sink receives every reply; nil drops them.
	Sink plugin.MessageSink
	// Localizer defaults to the embedded catalog.
	Localizer *locale.Catalog
	// Owners are treated as owners in addition to core.owner_id.
	Owners []string

	Metrics *metrics.Metrics
	Audit   *audit.Logger
	History *audit.History
	Hooks   *hooks.Manager
}

// State is one published generation of the registry.
type State struct {
	Generation int64
	Trigger    string
	Table      *command.Table
	Load       *plugin.LoadResult
	Report     command.BuildReport
	LoadedAt   time.Time
	Duration   time.Duration
}

// Core is the bot runtime.
type Core struct {
	cfg     *config.Config
	catalog *plugin.Catalog
	logger  zerolog.Logger

	store      *configtree.Store
	perms      *perms.Resolver
	locale     *locale.Catalog
	sink       *chatSink
	dispatcher *command.Dispatcher
	owners     []string

	metrics *metrics.Metrics
	audit   *audit.Logger
	history *audit.History
	hooks   *hooks.Manager

	state    atomic.Pointer[State]
	reloadMu sync.Mutex
	reloads  singleflight.Group

	cron         *cron.Cron
	cronSpec     string
	cronEntry    cron.EntryID
	sleepUntil   atomic.Int64 // unix nanoseconds
	startedAt    time.Time
	shutdown     chan struct{}
	shutdownOnce sync.Once

	timersMu  sync.Mutex
	timers    map[uint64]*time.Timer
	nextTimer uint64
	closed    bool
}

// New wires a Core. Nothing is loaded until Start.
func New(opts Options) (*Core, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("plugin catalog is required")
	}

	c := &Core{
		cfg:      opts.Config,
		catalog:  opts.Catalog,
		logger:   opts.Logger.With().Str("component", "core").Logger(),
		store:    opts.Store,
		locale:   opts.Localizer,
		owners:   opts.Owners,
		metrics:  opts.Metrics,
		audit:    opts.Audit,
		history:  opts.History,
		hooks:    opts.Hooks,
		cron:     cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		shutdown: make(chan struct{}),
		timers:   make(map[uint64]*time.Timer),
	}

	if c.store == nil {
		c.store = configtree.Open(opts.Config.ConfigFile, opts.Logger)
	}
	if c.locale == nil {
		catalog, err := locale.New(opts.Logger, locale.Default)
		if err != nil {
			return nil, err
		}
		c.locale = catalog
	}

	c.perms = perms.NewResolver(opts.Logger, c.store, perms.OwnerFunc(c.isOwner))
	c.sink = &chatSink{core: c, inner: opts.Sink}

	dispatchOpts := []command.Option{
		command.WithPermissions(c.perms),
		command.WithLocalizer(c.locale),
		command.WithSink(c.sink),
		command.WithConfig(c.store.Snapshot),
		command.WithFilter(c.allow),
		command.WithErrorRecorder(c.recordError),
		command.WithObserver(command.ObserverFunc(c.afterDispatch)),
	}
	if c.metrics != nil {
		dispatchOpts = append(dispatchOpts, command.WithObserver(c.metrics))
	}
	if c.audit != nil {
		dispatchOpts = append(dispatchOpts, command.WithObserver(c.audit))
	}
	if c.history != nil {
		dispatchOpts = append(dispatchOpts, command.WithObserver(c.history))
	}
	c.dispatcher = command.NewDispatcher(opts.Logger, c.Table, dispatchOpts...)

	return c, nil
}

// Start performs the initial reload, starts the reload schedule and fires
// core.started.
func (c *Core) Start(ctx context.Context) error {
	c.startedAt = time.Now()
	if _, err := c.Reload(ctx, TriggerStartup); err != nil {
		return err
	}
	c.cron.Start()

	c.trigger(ctx, hooks.EventStarted, map[string]any{
		"version": config.Version,
	})
	c.logger.Info().Str("version", config.Version).Msg("Core started")
	return nil
}

// Close stops the schedule and pending deletions and fires core.stopping.
func (c *Core) Close(ctx context.Context) error {
	c.trigger(ctx, hooks.EventStopping, nil)

	stopped := c.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}

	c.timersMu.Lock()
	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.timersMu.Unlock()

	c.logger.Info().Msg("Core stopped")
	return nil
}

// Dispatch handles one inbound message.
func (c *Core) Dispatch(ctx context.Context, msg command.Message) command.Result {
	return c.dispatcher.Dispatch(ctx, msg)
}

// Table returns the published command table, nil before the first reload.
func (c *Core) Table() *command.Table {
	if st := c.state.Load(); st != nil {
		return st.Table
	}
	return nil
}

// State returns the published generation, nil before the first reload.
func (c *Core) State() *State {
	return c.state.Load()
}

// Store returns the configuration store.
func (c *Core) Store() *configtree.Store { return c.store }

// Permissions returns the permission resolver.
func (c *Core) Permissions() *perms.Resolver { return c.perms }

// Localizer returns the string catalog.
func (c *Core) Localizer() *locale.Catalog { return c.locale }

// History returns the dispatch history, nil when disabled.
func (c *Core) History() *audit.History { return c.history }

// Audit returns the audit logger, nil when disabled.
func (c *Core) Audit() *audit.Logger { return c.audit }

// Catalog returns the plugin catalog.
func (c *Core) Catalog() *plugin.Catalog { return c.catalog }

// Uptime is the time since Start.
func (c *Core) Uptime() time.Duration {
	if c.startedAt.IsZero() {
		return 0
	}
	return time.Since(c.startedAt)
}

// RequestShutdown asks the process to stop. It is safe to call repeatedly.
func (c *Core) RequestShutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Info().Msg("Shutdown requested")
		close(c.shutdown)
	})
}

// ShutdownRequested is closed once RequestShutdown was called.
func (c *Core) ShutdownRequested() <-chan struct{} {
	return c.shutdown
}

func (c *Core) isOwner(userID string) bool {
	if userID == "" {
		return false
	}
	if slices.Contains(c.owners, userID) {
		return true
	}
	return userID == c.store.GetString(config.KeyOwnerID, "")
}

func (c *Core) recordError(pluginID string, err error) {
	st := c.state.Load()
	if st == nil || st.Load == nil || st.Load.Registry == nil {
		return
	}
	if rerr := st.Load.Registry.RecordError(pluginID, err); rerr != nil {
		c.logger.Debug().Err(rerr).Str("plugin", pluginID).Msg("Cannot record plugin error")
	}
}

func (c *Core) trigger(ctx context.Context, event string, data map[string]any) {
	if c.hooks == nil {
		return
	}
	if err := c.hooks.Trigger(ctx, event, data); err != nil {
		c.logger.Warn().Err(err).Str("event", event).Msg("Hook failed")
	}
}
