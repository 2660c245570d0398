package plugin

import (
	"time"

	"github.com/harun/openbot/pkg/grammar"
)

// State represents the current state of a plugin
type State string

const (
	StateLoading  State = "loading"
	StateEnabled  State = "enabled"
	StateDisabled State = "disabled"
	StateFailed   State = "failed"
)

// Type is the manifest plugin_type.
type Type string

const (
	TypeStandard   Type = "standard"
	TypeSingleFile Type = "single-file"
)

// BuildMode governs how strictly manifests are validated.
type BuildMode string

const (
	// ModeDevelopment fills missing required keys with defaults and warns.
	ModeDevelopment BuildMode = "development"
	// ModeProduction rejects a plugin with a missing required key.
	ModeProduction BuildMode = "production"
)

// NoDomain is the domain given to plugin directories without a domain part.
const NoDomain = "nodomain"

// Manifest mirrors the plugin manifest file.
type Manifest struct {
	// ID is set by the loader: the plugin directory name, or the catalog
	// name for built-in plugins.
	ID string `json:"-"`

	Description    Description                 `json:"description"`
	Versioning     Versioning                  `json:"versioning"`
	User           UserSettings                `json:"user"`
	ConfigTemplate map[string]any              `json:"config_template,omitempty"`
	Functions      map[string]FunctionManifest `json:"functions"`
}

// Description is the identity block of a manifest.
type Description struct {
	PluginName        string `json:"plugin_name"`
	DomainName        string `json:"domain_name,omitempty"`
	PluginPrefix      string `json:"plugin_prefix"`
	PluginDescription string `json:"plugin_description,omitempty"`
	PluginType        Type   `json:"plugin_type,omitempty"`
}

// Versioning is the version block of a manifest. Requires is a semver
// constraint on the running core version.
type Versioning struct {
	PluginVersion  string `json:"plugin_version"`
	Requires       string `json:"requires,omitempty"`
	UpdateRepo     string `json:"update_repo,omitempty"`
	BetaUpdateRepo string `json:"beta_update_repo,omitempty"`
}

// UserSettings holds the user-editable switches of a manifest.
type UserSettings struct {
	Enabled     *bool `json:"enabled,omitempty"`
	AutoUpdate  bool  `json:"auto_update"`
	BetaTesting bool  `json:"beta_testing"`
}

// FunctionManifest declares one command.
type FunctionManifest struct {
	FunctionName      string            `json:"function_name"`
	HelpText          string            `json:"help_text,omitempty"`
	AllowedArgsLength string            `json:"allowed_args_length,omitempty"`
	ArgsDescription   []string          `json:"args_description,omitempty"`
	AllowedModifiers  map[string]string `json:"allowed_modifiers,omitempty"`
	Permission        string            `json:"permission,omitempty"`

	// Compiled by the manifest loader.
	Args      grammar.ArgsRule    `json:"-"`
	Modifiers grammar.ModifierSet `json:"-"`
}

// Enabled reports the user.enabled switch. A missing switch means enabled.
func (m *Manifest) Enabled() bool {
	return m.User.Enabled == nil || *m.User.Enabled
}

// Prefix returns the plugin prefix used in qualified command names.
func (m *Manifest) Prefix() string {
	return m.Description.PluginPrefix
}

// Version returns the plugin version.
func (m *Manifest) Version() string {
	return m.Versioning.PluginVersion
}

// DiscoveredPlugin represents a plugin found during discovery
type DiscoveredPlugin struct {
	ID           string
	Domain       string
	Name         string
	Path         string
	Source       Source
	ManifestPath string
}

// Source indicates where a plugin was discovered
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourcePlugins Source = "plugins"
	SourceExtra   Source = "extra"
)

// LoadedPlugin is a plugin that made it through loading.
type LoadedPlugin struct {
	ID       string
	Source   Source
	Path     string
	Manifest *Manifest
	State    State
	Instance Plugin

	// Functions holds the implementations that are declared and passed their
	// self-test. Skipped maps every other declared function ID to the reason.
	Functions Functions
	Skipped   map[string]string
}

// Record tracks a plugin across its lifetime in one load generation.
type Record struct {
	Plugin     *LoadedPlugin
	LoadedAt   time.Time
	ErrorCount int
	LastError  error
}

// DiscoveryConfig configures plugin discovery
type DiscoveryConfig struct {
	PluginsDir string
	ExtraDirs  []string
}
