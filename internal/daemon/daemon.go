// Package daemon assembles the bot process: settings, logging, tracing,
// metrics, audit, the core and the chat frontend, and runs them until a
// signal or the shutdown command.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/openbot/internal/audit"
	"github.com/harun/openbot/internal/builtins"
	"github.com/harun/openbot/internal/config"
	"github.com/harun/openbot/internal/console"
	"github.com/harun/openbot/internal/core"
	"github.com/harun/openbot/internal/locale"
	"github.com/harun/openbot/internal/logger"
	"github.com/harun/openbot/internal/metrics"
	"github.com/harun/openbot/internal/telegram"
	"github.com/harun/openbot/internal/tracing"
	"github.com/harun/openbot/internal/watcher"
	"github.com/harun/openbot/pkg/command"
	"github.com/harun/openbot/pkg/configtree"
	"github.com/harun/openbot/pkg/hooks"
	"github.com/harun/openbot/pkg/plugin"
	"github.com/rs/zerolog"
)

const stopTimeout = 5 * time.Second

// Options selects the chat frontend.
type Options struct {
	// Console reads commands from In and writes replies to Out instead of
	// connecting to Telegram.
	Console bool
	In      io.Reader
	Out     io.Writer

	// Catalog holds extra compiled-in plugins; the core plugin is added to it.
	Catalog *plugin.Catalog
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running    bool
	StartTime  time.Time
	Uptime     time.Duration
	Generation int64
	Commands   int
}

// Daemon is the running bot process.
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	log    zerolog.Logger
	opts   Options

	store     *configtree.Store
	core      *core.Core
	metrics   *metrics.Metrics
	metricSrv *metrics.Server
	audit     *audit.Logger
	history   *audit.History
	hooks     *hooks.Manager
	bot       *telegram.Bot
	watcher   *watcher.Watcher
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracer *tracing.Provider
}

// New wires a daemon. The configuration tree is loaded here so that the
// Telegram token is known before the bot connects.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Catalog == nil {
		opts.Catalog = plugin.NewCatalog()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config: cfg,
		logger: log,
		log:    log.Zerolog().With().Str("component", "daemon").Logger(),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
	d.lifecycle = NewLifecycleManager(d)

	if err := d.initialize(); err != nil {
		cancel()
		d.closeResources()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) initialize() error {
	cfg := d.config
	root := d.logger.Zerolog()

	if cfg.Tracing.Enabled {
		tp, err := tracing.Setup(tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     config.Version,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without spans")
		} else {
			d.tracer = tp
		}
	}

	d.metrics = metrics.NewMetrics()
	if cfg.Metrics.Enabled {
		d.metricSrv = metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, d.metrics, root)
	}

	if cfg.Audit.Enabled {
		al, err := audit.Open(cfg.Audit.File)
		if err != nil {
			d.log.Warn().Err(err).Str("file", cfg.Audit.File).Msg("Failed to open audit log, auditing disabled")
		} else {
			d.audit = al
		}
		h, err := audit.OpenHistory(cfg.Audit.History, cfg.Audit.Keep, root)
		if err != nil {
			d.log.Warn().Err(err).Str("file", cfg.Audit.History).Msg("Failed to open dispatch history, history disabled")
		} else {
			d.history = h
		}
	}

	hm, err := newHookManager(cfg.Hooks, root)
	if err != nil {
		return fmt.Errorf("failed to create hook manager: %w", err)
	}
	d.hooks = hm

	d.store = configtree.Open(cfg.ConfigFile, root)
	if _, err := d.store.Load(config.DefaultTree(config.Version)); err != nil {
		d.log.Error().Err(err).Msg("Failed to write reconciled config, continuing in memory")
	}

	catalog, err := locale.New(root, d.store.GetString(config.KeyLocale, locale.Default))
	if err != nil {
		return err
	}
	if err := catalog.LoadDir(filepath.Join(cfg.DataDir, "locales")); err != nil {
		d.log.Warn().Err(err).Msg("Failed to load locale overrides")
	}

	var (
		sink   plugin.MessageSink
		owners []string
	)
	if d.opts.Console {
		out := d.opts.Out
		if out == nil {
			out = os.Stdout
		}
		sink = console.NewSink(out)
		owners = []string{console.UserID}
	} else if cfg.Telegram.Enabled {
		bot, err := telegram.New(telegram.Config{
			Token:       d.store.GetString(config.KeyToken, ""),
			PollTimeout: cfg.Telegram.PollTimeout,
			Debug:       cfg.Telegram.Debug,
		}, root)
		if err != nil {
			return fmt.Errorf("failed to start telegram (set %s in %s): %w", config.KeyToken, cfg.ConfigFile, err)
		}
		bot.SetCounters(d.metrics)
		d.bot = bot
		sink = bot.Sink()
	}

	c, err := core.New(core.Options{
		Config:    cfg,
		Catalog:   d.opts.Catalog,
		Logger:    root,
		Store:     d.store,
		Sink:      sink,
		Localizer: catalog,
		Owners:    owners,
		Metrics:   d.metrics,
		Audit:     d.audit,
		History:   d.history,
		Hooks:     d.hooks,
	})
	if err != nil {
		return err
	}
	if err := builtins.Register(d.opts.Catalog, c); err != nil {
		return fmt.Errorf("failed to register core plugin: %w", err)
	}
	d.core = c

	if cfg.Watch.Enabled {
		w, err := watcher.New(root, cfg.DebounceDuration(), func(paths []string) {
			c.FilesChanged(d.ctx, paths)
		})
		if err != nil {
			d.log.Warn().Err(err).Msg("Failed to create file watcher, reload on change disabled")
		} else {
			d.watcher = w
		}
	}

	return nil
}

// Start loads the plugins and begins handling messages.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.log.Info().Str("version", config.Version).Msg("Starting openbot")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}
	if err := d.core.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start core: %w", err)
	}
	if d.metricSrv != nil {
		d.metricSrv.Start()
	}
	d.watch()

	dispatch := func(ctx context.Context, msg command.Message) {
		d.core.Dispatch(ctx, msg)
	}
	switch {
	case d.opts.Console:
		in := d.opts.In
		if in == nil {
			in = os.Stdin
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := console.Run(d.ctx, in, console.UserID, dispatch); err != nil {
				d.log.Error().Err(err).Msg("Console input failed")
			}
			d.core.RequestShutdown()
		}()
	case d.bot != nil:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.bot.Run(d.ctx, dispatch); err != nil {
				d.log.Error().Err(err).Msg("Telegram polling stopped")
				d.core.RequestShutdown()
			}
		}()
	default:
		d.log.Warn().Msg("No chat frontend enabled, running without message input")
	}

	d.log.Info().Msg("Openbot started")
	return nil
}

func (d *Daemon) watch() {
	if d.watcher == nil {
		return
	}
	dirs := append([]string{d.config.PluginsDir}, d.config.ExtraPluginDirs...)
	for _, dir := range dirs {
		if err := d.watcher.WatchDir(dir); err != nil {
			d.log.Warn().Err(err).Str("dir", dir).Msg("Cannot watch plugin directory")
		}
	}
	if err := d.watcher.WatchFile(d.config.ConfigFile); err != nil {
		d.log.Warn().Err(err).Str("file", d.config.ConfigFile).Msg("Cannot watch config file")
	}
}

// Stop shuts everything down in reverse order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.log.Info().Msg("Stopping openbot")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.log.Error().Err(err).Msg("Failed to stop file watcher")
		}
	}

	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		d.log.Warn().Msg("Timeout waiting for the chat frontend to stop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := d.core.Close(ctx); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop core")
	}
	if d.metricSrv != nil {
		if err := d.metricSrv.Shutdown(ctx); err != nil {
			d.log.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}
	if err := d.lifecycle.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}
	d.closeResources()

	d.log.Info().Msg("Openbot stopped")
	return nil
}

func (d *Daemon) closeResources() {
	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close dispatch history")
		}
		d.history = nil
	}
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close audit log")
		}
		d.audit = nil
	}
	if d.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := d.tracer.Shutdown(ctx); err != nil {
			d.log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracer = nil
	}
}

// Status returns the daemon status.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
	}
	if st := d.core.State(); st != nil {
		status.Generation = st.Generation
		status.Commands = st.Table.Len()
	}
	return status
}

// Wait blocks until SIGINT, SIGTERM or the shutdown command, then stops the
// daemon.
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.log.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-d.core.ShutdownRequested():
	}

	return d.Stop()
}

// Core returns the bot core.
func (d *Daemon) Core() *core.Core {
	return d.core
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}
