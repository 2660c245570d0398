package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

var manifestExts = []string{".json", ".yaml", ".yml"}

// Discovery scans directories to find plugins
type Discovery struct {
	logger zerolog.Logger
}

// NewDiscovery creates a new plugin discovery instance
func NewDiscovery(logger zerolog.Logger) *Discovery {
	return &Discovery{
		logger: logger.With().Str("component", "plugin-discovery").Logger(),
	}
}

// SplitDirName splits a plugin directory name "domain_plugin" on the first
// underscore. ok is false when there is no usable domain part, in which case
// domain is NoDomain and name is the whole directory name.
func SplitDirName(dir string) (domain, name string, ok bool) {
	domain, name, found := strings.Cut(dir, "_")
	if !found || domain == "" || name == "" {
		return NoDomain, dir, false
	}
	return domain, name, true
}

// Discover scans the plugins directory and the extra directories. A plugin ID
// found in more than one directory is taken from the first.
func (d *Discovery) Discover(config DiscoveryConfig) []DiscoveredPlugin {
	var discovered []DiscoveredPlugin
	seen := make(map[string]string)

	scan := func(dir string, source Source) {
		if dir == "" {
			return
		}
		plugins, err := d.scanDirectory(dir, source)
		if err != nil {
			d.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to scan plugin directory")
			return
		}
		for _, p := range plugins {
			if first, dup := seen[p.ID]; dup {
				d.logger.Warn().
					Str("plugin", p.ID).
					Str("kept", first).
					Str("ignored", p.Path).
					Msg("Duplicate plugin directory")
				continue
			}
			seen[p.ID] = p.Path
			discovered = append(discovered, p)
		}
	}

	scan(config.PluginsDir, SourcePlugins)
	for _, extra := range config.ExtraDirs {
		scan(extra, SourceExtra)
	}

	d.logger.Info().Int("count", len(discovered)).Msg("Plugin discovery completed")
	return discovered
}

// scanDirectory scans a single directory for plugins
func (d *Discovery) scanDirectory(dir string, source Source) ([]DiscoveredPlugin, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Debug().Str("dir", dir).Msg("Directory does not exist, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var discovered []DiscoveredPlugin
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		pluginDir := filepath.Join(dir, entry.Name())
		domain, name, ok := SplitDirName(entry.Name())
		if !ok {
			d.logger.Warn().
				Str("plugin", entry.Name()).
				Msg("Plugin directory has no domain part, using nodomain")
		}

		manifestPath := findManifest(pluginDir, name)
		if manifestPath == "" {
			d.logger.Debug().Str("dir", pluginDir).Msg("Directory does not contain a manifest, skipping")
			continue
		}

		plugin := DiscoveredPlugin{
			ID:           entry.Name(),
			Domain:       domain,
			Name:         name,
			Path:         pluginDir,
			Source:       source,
			ManifestPath: manifestPath,
		}
		discovered = append(discovered, plugin)

		d.logger.Debug().
			Str("plugin", plugin.ID).
			Str("manifest", manifestPath).
			Str("source", string(source)).
			Msg("Discovered plugin")
	}

	return discovered, nil
}

// findManifest looks for <name>.json|yaml|yml, then plugin.json|yaml|yml.
func findManifest(pluginDir, name string) string {
	for _, base := range []string{name, "plugin"} {
		for _, ext := range manifestExts {
			path := filepath.Join(pluginDir, base+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}
