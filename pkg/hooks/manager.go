// Package hooks runs handlers attached to core lifecycle events.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Core events.
const (
	EventStarted    = "core.started"
	EventReloaded   = "core.reloaded"
	EventDispatched = "command.dispatched"
	EventStopping   = "core.stopping"
)

// Events lists every event the core triggers.
var Events = []string{EventStarted, EventReloaded, EventDispatched, EventStopping}

// Handler is an in-process hook.
type Handler func(ctx context.Context, event string, data map[string]any) error

// Script is a shell hook run for an event with its data in the environment.
type Script struct {
	ID      string        `mapstructure:"id"`
	Event   string        `mapstructure:"event"`
	Script  string        `mapstructure:"script"`
	Timeout time.Duration `mapstructure:"timeout"`
	Enabled bool          `mapstructure:"enabled"`
}

// Config configures a hook Manager.
type Config struct {
	Enabled bool
	Scripts []Script
	Logger  zerolog.Logger
}

type registered struct {
	name      string
	important bool
	fn        Handler
}

// RegisterOption modifies a handler registration.
type RegisterOption func(*registered)

// Important runs the handler ahead of every non-important handler.
func Important() RegisterOption {
	return func(r *registered) { r.important = true }
}

// Manager holds the handlers and scripts of each event.
type Manager struct {
	enabled bool
	logger  zerolog.Logger

	mu       sync.RWMutex
	handlers map[string][]registered
	scripts  map[string][]Script
}

// NewManager creates a hook manager. Disabled managers still accept
// registrations but never run anything.
func NewManager(cfg Config) (*Manager, error) {
	manager := &Manager{
		enabled:  cfg.Enabled,
		logger:   cfg.Logger.With().Str("component", "hooks").Logger(),
		handlers: make(map[string][]registered),
		scripts:  make(map[string][]Script),
	}

	for _, script := range cfg.Scripts {
		if !script.Enabled {
			continue
		}
		event := strings.TrimSpace(script.Event)
		if event == "" {
			return nil, fmt.Errorf("hook event is required")
		}
		if strings.TrimSpace(script.Script) == "" {
			return nil, fmt.Errorf("hook script is required for event %q", event)
		}
		if !known(event) {
			manager.logger.Warn().Str("event", event).Str("hook_id", script.ID).Msg("Hook registered for unknown event")
		}
		manager.scripts[event] = append(manager.scripts[event], script)
	}

	return manager, nil
}

// Register attaches fn to event. Important handlers run before the others,
// the most recently registered important handler first.
func (m *Manager) Register(event, name string, fn Handler, opts ...RegisterOption) {
	r := registered{name: name, fn: fn}
	for _, opt := range opts {
		opt(&r)
	}

	if !known(event) {
		m.logger.Warn().Str("event", event).Str("hook", name).Msg("Hook registered for unknown event")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r.important {
		m.handlers[event] = append([]registered{r}, m.handlers[event]...)
	} else {
		m.handlers[event] = append(m.handlers[event], r)
	}
	m.logger.Debug().Str("event", event).Str("hook", name).Bool("important", r.important).Msg("Hook registered")
}

// Trigger runs the handlers and then the scripts of event. A failing or
// panicking handler does not stop the others; all failures are joined.
func (m *Manager) Trigger(ctx context.Context, event string, data map[string]any) error {
	if m == nil || !m.enabled {
		return nil
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("event is required")
	}

	m.mu.RLock()
	handlers := append([]registered(nil), m.handlers[event]...)
	scripts := append([]Script(nil), m.scripts[event]...)
	m.mu.RUnlock()

	if len(handlers) == 0 && len(scripts) == 0 {
		m.logger.Debug().Str("event", event).Msg("No hooks for event")
		return nil
	}

	var errs []error
	for _, h := range handlers {
		if err := m.runHandler(ctx, event, h, data); err != nil {
			m.logger.Error().Err(err).Str("event", event).Str("hook", h.name).Msg("Hook failed")
			errs = append(errs, err)
		}
	}
	for _, script := range scripts {
		if err := m.executeScript(ctx, event, script, data); err != nil {
			m.logger.Error().Err(err).Str("event", event).Str("hook_id", script.ID).Msg("Hook script failed")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Handlers returns the names of the handlers of event in run order.
func (m *Manager) Handlers(event string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.handlers[event]))
	for _, h := range m.handlers[event] {
		names = append(names, h.name)
	}
	return names
}

func (m *Manager) runHandler(ctx context.Context, event string, h registered, data map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook %s panicked: %v", h.name, r)
		}
	}()

	if err := h.fn(ctx, event, data); err != nil {
		return fmt.Errorf("hook %s failed: %w", h.name, err)
	}
	return nil
}

func (m *Manager) executeScript(ctx context.Context, event string, hook Script, data map[string]any) error {
	hookID := hook.ID
	if strings.TrimSpace(hookID) == "" {
		hookID = event
	}

	runCtx := ctx
	cancel := func() {}
	if hook.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, hook.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = scriptEnvironment(event, data)

	output, err := cmd.CombinedOutput()
	outputText := strings.TrimSpace(string(output))
	if err != nil {
		if outputText != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hookID, err, outputText)
		}
		return fmt.Errorf("hook %s failed: %w", hookID, err)
	}

	if outputText != "" {
		m.logger.Debug().
			Str("event", event).
			Str("hook_id", hookID).
			Str("output", outputText).
			Msg("Hook executed")
	}

	return nil
}

func known(event string) bool {
	for _, e := range Events {
		if e == event {
			return true
		}
	}
	return false
}

func scriptEnvironment(event string, data map[string]any) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "OPENBOT_HOOK_EVENT="+event)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		env = append(env, "OPENBOT_HOOK_DATA_"+envKey(key)+"="+fmt.Sprintf("%v", data[key]))
	}
	return env
}

func envKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		default:
			return '_'
		}
	}, key)
}
