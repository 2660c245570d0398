package daemon

import (
	"strings"
	"time"

	"github.com/harun/openbot/internal/config"
	"github.com/harun/openbot/pkg/hooks"
	"github.com/rs/zerolog"
)

const defaultHookTimeout = 5 * time.Second

func newHookManager(cfg config.HooksConfig, logger zerolog.Logger) (*hooks.Manager, error) {
	scripts := make([]hooks.Script, 0, len(cfg.Scripts))
	for _, entry := range cfg.Scripts {
		timeout := entry.Timeout
		if timeout <= 0 {
			timeout = defaultHookTimeout
		}
		scripts = append(scripts, hooks.Script{
			ID:      strings.TrimSpace(entry.ID),
			Event:   strings.TrimSpace(entry.Event),
			Script:  strings.TrimSpace(entry.Script),
			Timeout: timeout,
			Enabled: entry.Enabled,
		})
	}

	return hooks.NewManager(hooks.Config{
		Enabled: cfg.Enabled,
		Scripts: scripts,
		Logger:  logger,
	})
}
