package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harun/openbot/internal/config"
	"github.com/harun/openbot/pkg/command"
	"github.com/harun/openbot/pkg/configtree"
	"github.com/harun/openbot/pkg/hooks"
	"github.com/harun/openbot/pkg/plugin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	sent    []string
	deleted []string
	// partial makes Send report the first parts sent and then fail.
	partial bool
}

func (s *fakeSink) Send(_ context.Context, _ string, _ plugin.Severity, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	if s.partial {
		return "r1,r2", errors.New("send failed")
	}
	return "reply", nil
}

func (s *fakeSink) Delete(_ context.Context, _ string, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, messageID)
	return nil
}

func (s *fakeSink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *fakeSink) deletions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// testPlugin answers "pong" to ping.
type testPlugin struct {
	plugin.Base
	prefix   string
	template map[string]any
	loads    *int
}

func (p testPlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Description:    plugin.Description{PluginName: p.prefix, PluginPrefix: p.prefix},
		Versioning:     plugin.Versioning{PluginVersion: "1.0.0"},
		ConfigTemplate: p.template,
		Functions: map[string]plugin.FunctionManifest{
			"ping": {HelpText: "Reply pong."},
		},
	}
}

func (p testPlugin) Load(_ context.Context, host plugin.Host) (plugin.Functions, error) {
	if p.loads != nil {
		*p.loads++
	}
	cfg := host.Config()
	return plugin.Functions{
		"ping": plugin.FunctionFunc(func(context.Context, *plugin.Invocation) (plugin.Reply, error) {
			if v, ok := cfg.Get("greeting"); ok {
				return plugin.Info(v.(string)), nil
			}
			return plugin.Info("pong"), nil
		}),
	}, nil
}

type harness struct {
	core  *Core
	store *configtree.Store
	sink  *fakeSink
}

func newHarness(t *testing.T, tree configtree.Tree, plugins ...testPlugin) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.PluginsDir = filepath.Join(t.TempDir(), "plugins")
	catalog := plugin.NewCatalog()
	for _, p := range plugins {
		p := p
		require.NoError(t, catalog.RegisterBuiltin(p.prefix, func() plugin.Plugin { return p }))
	}

	store := configtree.NewMemory(tree, zerolog.Nop())
	sink := &fakeSink{}
	c, err := New(Options{
		Config:  cfg,
		Catalog: catalog,
		Logger:  zerolog.Nop(),
		Store:   store,
		Sink:    sink,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	return &harness{core: c, store: store, sink: sink}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.core.Start(context.Background()))
}

func (h *harness) dispatch(text, channel string) command.Result {
	return h.core.Dispatch(context.Background(), command.Message{
		Text:      text,
		UserID:    "u1",
		ChannelID: channel,
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Catalog: plugin.NewCatalog()})
	assert.Error(t, err)
	_, err = New(Options{Config: config.DefaultConfig()})
	assert.Error(t, err)
}

func TestStart_PublishesTable(t *testing.T) {
	h := newHarness(t, nil, testPlugin{prefix: "game"})
	assert.Nil(t, h.core.Table())

	h.start(t)
	st := h.core.State()
	require.NotNil(t, st)
	assert.Equal(t, int64(1), st.Generation)
	assert.Equal(t, TriggerStartup, st.Trigger)

	res := h.dispatch("//ping", "c1")
	assert.Equal(t, command.Invoked, res.Outcome)
	assert.Equal(t, []string{"pong"}, h.sink.texts())

	assert.Equal(t, config.DefaultPrefix, h.store.GetString(config.KeyCommandPrefix, ""))
	_, seeded := h.store.Get("user_perms.owner")
	assert.True(t, seeded)
}

func TestReload_SwapsTable(t *testing.T) {
	h := newHarness(t, nil, testPlugin{prefix: "game"})
	h.start(t)
	old := h.core.Table()

	require.NoError(t, h.store.Set(config.KeyCommandPrefix, "!"))
	st, err := h.core.Reload(context.Background(), TriggerCommand)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Generation)

	assert.Equal(t, "//", old.Prefix())
	assert.Equal(t, command.Ignored, h.dispatch("//ping", "c1").Outcome)
	assert.Equal(t, command.Invoked, h.dispatch("!ping", "c1").Outcome)
}

func TestReload_Cancelled(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.core.Reload(ctx, TriggerCommand)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, h.core.State())
}

func TestReload_Concurrent(t *testing.T) {
	h := newHarness(t, nil, testPlugin{prefix: "game"})
	h.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := h.core.Reload(context.Background(), TriggerWatch)
			assert.NoError(t, err)
			assert.NotNil(t, st)
		}()
	}
	wg.Wait()

	gen := h.core.State().Generation
	assert.Greater(t, gen, int64(1))
	assert.LessOrEqual(t, gen, int64(9))
}

func TestReload_PluginConfigTemplate(t *testing.T) {
	loads := 0
	h := newHarness(t, nil, testPlugin{
		prefix:   "game",
		template: map[string]any{"greeting": "hello", "rounds": 3},
		loads:    &loads,
	})
	h.start(t)

	assert.Equal(t, "hello", h.store.GetString("game.greeting", ""))
	assert.Equal(t, 3, h.store.GetInt("game.rounds", 0))
	assert.Equal(t, "1.0.0", h.store.GetString("game.version", ""))

	require.NoError(t, h.store.Set("game.greeting", "howdy"))
	require.NoError(t, h.store.Set("game.version", "0.9.0"))
	_, err := h.core.Reload(context.Background(), TriggerCommand)
	require.NoError(t, err)

	assert.Equal(t, "howdy", h.store.GetString("game.greeting", ""))
	assert.Equal(t, "1.0.0", h.store.GetString("game.version", ""))
	assert.Equal(t, 2, loads)

	h.dispatch("//ping", "c1")
	assert.Equal(t, []string{"howdy"}, h.sink.texts())
}

// blockingPlugin holds its Load until release is closed.
type blockingPlugin struct {
	plugin.Base
	loading chan struct{}
	release chan struct{}
}

func (p blockingPlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Description: plugin.Description{PluginName: "zz", PluginPrefix: "zz"},
		Versioning:  plugin.Versioning{PluginVersion: "1.0.0"},
		Functions:   map[string]plugin.FunctionManifest{"wait": {HelpText: "Wait."}},
	}
}

func (p blockingPlugin) Load(_ context.Context, _ plugin.Host) (plugin.Functions, error) {
	close(p.loading)
	<-p.release
	return plugin.Functions{
		"wait": plugin.FunctionFunc(func(context.Context, *plugin.Invocation) (plugin.Reply, error) {
			return plugin.Info("done"), nil
		}),
	}, nil
}

func TestReload_PublishesConfigOnce(t *testing.T) {
	tests := []struct {
		name string
		// write runs while the reload is blocked in a plugin Load
		write func(t *testing.T, store *configtree.Store)
		want  string
	}{
		{name: "no concurrent write", want: "en_us"},
		{
			name: "concurrent write is kept",
			write: func(t *testing.T, store *configtree.Store) {
				require.NoError(t, store.Set(config.KeyLocale, "id_id"))
			},
			want: "id_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.PluginsDir = filepath.Join(t.TempDir(), "plugins")

			catalog := plugin.NewCatalog()
			game := testPlugin{prefix: "game", template: map[string]any{"greeting": "hello"}}
			require.NoError(t, catalog.RegisterBuiltin("game", func() plugin.Plugin { return game }))
			blocker := blockingPlugin{loading: make(chan struct{}), release: make(chan struct{})}
			require.NoError(t, catalog.RegisterBuiltin("zz", func() plugin.Plugin { return blocker }))

			store := configtree.NewMemory(configtree.Tree{
				"core": map[string]any{"version": "0.1", "command_prefix": "!"},
			}, zerolog.Nop())
			c, err := New(Options{Config: cfg, Catalog: catalog, Logger: zerolog.Nop(), Store: store})
			require.NoError(t, err)
			t.Cleanup(func() { _ = c.Close(context.Background()) })

			pre := store.Snapshot()
			done := make(chan error, 1)
			go func() {
				_, err := c.Reload(context.Background(), TriggerCommand)
				done <- err
			}()

			select {
			case <-blocker.loading:
			case <-time.After(5 * time.Second):
				t.Fatal("reload never reached the blocking plugin")
			}
			assert.Equal(t, pre, store.Snapshot())
			assert.Nil(t, c.State())
			if tt.write != nil {
				tt.write(t, store)
			}

			close(blocker.release)
			require.NoError(t, <-done)

			post := store.Snapshot()
			assert.Equal(t, config.Version, post.Version())
			assert.Equal(t, "!", store.GetString(config.KeyCommandPrefix, ""))
			assert.Equal(t, "hello", store.GetString("game.greeting", ""))
			assert.Equal(t, "1.0.0", store.GetString("game.version", ""))
			assert.Equal(t, tt.want, store.GetString(config.KeyLocale, ""))
			_, ok := post.Get("user_perms.owner")
			assert.True(t, ok)

			res := c.Dispatch(context.Background(), command.Message{Text: "!ping", UserID: "u1", ChannelID: "c1"})
			assert.Equal(t, command.Invoked, res.Outcome)
		})
	}
}

func TestSleep(t *testing.T) {
	h := newHarness(t, nil, testPlugin{prefix: "game"}, testPlugin{prefix: PluginID})
	h.start(t)

	h.core.Sleep(time.Minute)
	assert.True(t, h.core.Sleeping())
	assert.Equal(t, command.Ignored, h.dispatch("//game.ping", "c1").Outcome)
	assert.Equal(t, command.Invoked, h.dispatch("//core.ping", "c1").Outcome)
	assert.Equal(t, []string{"pong"}, h.sink.texts())

	h.core.Sleep(0)
	assert.False(t, h.core.Sleeping())
	assert.Equal(t, command.Invoked, h.dispatch("//game.ping", "c1").Outcome)

	h.core.Sleep(time.Millisecond)
	assert.Eventually(t, func() bool { return !h.core.Sleeping() }, time.Second, 5*time.Millisecond)
}

func TestBind(t *testing.T) {
	h := newHarness(t, nil, testPlugin{prefix: "game"})
	h.start(t)

	tests := []struct {
		name     string
		channel  string
		append   bool
		changed  bool
		channels []string
	}{
		{"first bind", "c1", false, true, []string{"c1"}},
		{"same channel", "c1", false, false, []string{"c1"}},
		{"append", "c2", true, true, []string{"c1", "c2"}},
		{"append again", "c2", true, false, []string{"c1", "c2"}},
		{"replace", "c3", false, true, []string{"c3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := h.core.Bind(tt.channel, tt.append)
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.channels, h.store.GetStringSlice(config.KeyRestrictChannels, nil))
			assert.True(t, h.store.GetBool(config.KeyRestrictEnabled, false))
		})
	}

	assert.Equal(t, command.Ignored, h.dispatch("//ping", "c1").Outcome)
	assert.Equal(t, command.Invoked, h.dispatch("//ping", "c3").Outcome)
}

func TestDeletesCommandsAndReplies(t *testing.T) {
	h := newHarness(t, configtree.Tree{
		"chat": map[string]any{
			"delete_messages_delay": map[string]any{"enabled": true, "timeout_short": 0.01, "timeout_long": 60},
			"delete_commands":       map[string]any{"enabled": true, "delay": 0.01},
		},
	}, testPlugin{prefix: "game"})
	h.start(t)

	h.core.Dispatch(context.Background(), command.Message{
		Text:      "//ping",
		UserID:    "u1",
		ChannelID: "c1",
		MessageID: "m1",
	})

	assert.Eventually(t, func() bool { return len(h.sink.deletions()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"m1", "reply"}, h.sink.deletions())
	assert.Equal(t, 0, h.core.pendingDeletions())
}

func TestDeletesPartiallySentReply(t *testing.T) {
	h := newHarness(t, configtree.Tree{
		"chat": map[string]any{
			"delete_messages_delay": map[string]any{"enabled": true, "timeout_short": 0.01, "timeout_long": 0.01},
			"delete_commands":       map[string]any{"enabled": false, "delay": 5},
		},
	}, testPlugin{prefix: "game"})
	h.sink.partial = true
	h.start(t)

	id, err := h.core.sink.Send(context.Background(), "c1", plugin.SeverityInfo, "long reply")
	require.Error(t, err)
	assert.Equal(t, "r1,r2", id)

	assert.Eventually(t, func() bool { return len(h.sink.deletions()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"r1,r2"}, h.sink.deletions())
}

func TestClose_CancelsPendingDeletions(t *testing.T) {
	h := newHarness(t, configtree.Tree{
		"chat": map[string]any{
			"delete_commands": map[string]any{"enabled": true, "delay": 3600},
		},
	}, testPlugin{prefix: "game"})
	h.start(t)

	h.core.Dispatch(context.Background(), command.Message{Text: "//ping", UserID: "u1", ChannelID: "c1", MessageID: "m1"})
	assert.Equal(t, 2, h.core.pendingDeletions())

	require.NoError(t, h.core.Close(context.Background()))
	assert.Equal(t, 0, h.core.pendingDeletions())
	assert.Empty(t, h.sink.deletions())
}

func TestHooks(t *testing.T) {
	manager, err := hooks.NewManager(hooks.Config{Enabled: true, Logger: zerolog.Nop()})
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events []string
		last   map[string]any
	)
	for _, event := range hooks.Events {
		manager.Register(event, "recorder", func(_ context.Context, event string, data map[string]any) error {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, event)
			if event == hooks.EventDispatched {
				last = data
			}
			return nil
		})
	}

	cfg := config.DefaultConfig()
	cfg.PluginsDir = filepath.Join(t.TempDir(), "plugins")
	catalog := plugin.NewCatalog()
	require.NoError(t, catalog.RegisterBuiltin("game", func() plugin.Plugin { return testPlugin{prefix: "game"} }))
	c, err := New(Options{
		Config:  cfg,
		Catalog: catalog,
		Logger:  zerolog.Nop(),
		Store:   configtree.NewMemory(nil, zerolog.Nop()),
		Hooks:   manager,
	})
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	c.Dispatch(context.Background(), command.Message{Text: "//ping", UserID: "u1", ChannelID: "c1"})
	require.NoError(t, c.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{hooks.EventReloaded, hooks.EventStarted, hooks.EventDispatched, hooks.EventStopping}, events)
	assert.Equal(t, "//game.ping", last["command"])
	assert.Equal(t, "invoked", last["outcome"])
}

func TestRequestShutdown(t *testing.T) {
	h := newHarness(t, nil)
	h.core.RequestShutdown()
	h.core.RequestShutdown()

	select {
	case <-h.core.ShutdownRequested():
	default:
		t.Fatal("shutdown channel not closed")
	}
}

func TestIsOwner(t *testing.T) {
	h := newHarness(t, configtree.Tree{"core": map[string]any{"owner_id": "42"}})
	h.core.owners = []string{"console"}
	h.start(t)

	assert.True(t, h.core.isOwner("42"))
	assert.True(t, h.core.isOwner("console"))
	assert.False(t, h.core.isOwner("7"))
	assert.False(t, h.core.isOwner(""))
	assert.True(t, h.core.Permissions().HasPermission("42", "anything"))
}

func TestFilesChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := config.DefaultConfig()
	cfg.PluginsDir = filepath.Join(t.TempDir(), "plugins")
	store := configtree.Open(path, zerolog.Nop())

	c, err := New(Options{Config: cfg, Catalog: plugin.NewCatalog(), Logger: zerolog.Nop(), Store: store})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	c.FilesChanged(context.Background(), []string{path})
	assert.Equal(t, int64(1), c.State().Generation)

	c.FilesChanged(context.Background(), []string{filepath.Join(cfg.PluginsDir, "x", "plugin.json")})
	assert.Equal(t, int64(2), c.State().Generation)
	assert.Equal(t, TriggerWatch, c.State().Trigger)

	require.NoError(t, os.WriteFile(path, []byte(`{"core":{"command_prefix":"!"}}`), 0600))
	c.FilesChanged(context.Background(), []string{path})
	assert.Equal(t, int64(3), c.State().Generation)
	assert.Equal(t, "!", c.Table().Prefix())
}
