package core

import (
	"github.com/harun/openbot/pkg/configtree"
	"github.com/harun/openbot/pkg/plugin"
	"github.com/rs/zerolog"
)

// host is the plugin.Host handed to one plugin while it loads.
type host struct {
	id      string
	core    *Core
	pending *pendingConfig
	logger  zerolog.Logger
}

func (h *host) PluginID() string { return h.id }

func (h *host) Logger() zerolog.Logger { return h.logger }

// Config returns the plugin's subtree, or an empty tree when it has none.
// While its reload is in progress that is the pending tree, afterwards the
// published snapshot.
func (h *host) Config() configtree.Tree {
	if h.pending != nil {
		if sub, ok := h.pending.sub(h.id); ok {
			if sub == nil {
				return configtree.Tree{}
			}
			return sub
		}
	}
	sub := h.core.store.Snapshot().Sub(h.id)
	if sub == nil {
		return configtree.Tree{}
	}
	return sub
}

func (h *host) Permissions() plugin.PermissionChecker { return h.core.perms }

func (h *host) Localizer() plugin.Localizer { return h.core.locale }
