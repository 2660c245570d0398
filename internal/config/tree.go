package config

import (
	"github.com/harun/openbot/pkg/configtree"
)

// Keys of the configuration tree read by the core.
const (
	KeyToken          = "core.token"
	KeyOwnerID        = "core.owner_id"
	KeyCommandPrefix  = "core.command_prefix"
	KeyDebugMode      = "core.debug_mode"
	KeyLocale         = "core.locale"
	KeyReloadSchedule = "core.reload_schedule"

	KeyRestrictEnabled  = "chat.restrict_text_channels.enabled"
	KeyRestrictChannels = "chat.restrict_text_channels.channels"

	KeyDeleteRepliesEnabled = "chat.delete_messages_delay.enabled"
	KeyDeleteRepliesShort   = "chat.delete_messages_delay.timeout_short"
	KeyDeleteRepliesLong    = "chat.delete_messages_delay.timeout_long"

	KeyDeleteCommandsEnabled = "chat.delete_commands.enabled"
	KeyDeleteCommandsDelay   = "chat.delete_commands.delay"
)

// DefaultPrefix is the command prefix of a fresh configuration.
const DefaultPrefix = "//"

// DefaultTree is the schema of the bot configuration for core version. Plugin
// config templates are merged in under their plugin IDs at load time.
func DefaultTree(version string) configtree.Tree {
	return configtree.Tree{
		"core": map[string]any{
			"token":           "",
			"owner_id":        "",
			"command_prefix":  DefaultPrefix,
			"debug_mode":      false,
			"version":         version,
			"locale":          "en_us",
			"reload_schedule": "",
		},
		"chat": map[string]any{
			"restrict_text_channels": map[string]any{
				"enabled":  false,
				"channels": []any{},
			},
			// seconds; replies under 250 characters use timeout_short
			"delete_messages_delay": map[string]any{
				"enabled":       true,
				"timeout_short": 30,
				"timeout_long":  60,
			},
			"delete_commands": map[string]any{
				"enabled": true,
				"delay":   5,
			},
		},
	}
}
