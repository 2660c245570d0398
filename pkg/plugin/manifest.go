package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harun/openbot/pkg/grammar"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const prefixAlphabet = "abcdefghijklmnopqrstuvwxyz"

// ManifestLoader loads and validates plugin manifests
type ManifestLoader struct {
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
	mode         BuildMode
}

// NewManifestLoader creates a new manifest loader
func NewManifestLoader(logger zerolog.Logger, mode BuildMode) *ManifestLoader {
	if mode == "" {
		mode = ModeProduction
	}
	return &ManifestLoader{
		logger:       logger.With().Str("component", "manifest-loader").Logger(),
		schemaLoader: gojsonschema.NewStringLoader(ManifestSchema),
		mode:         mode,
	}
}

// LoadManifest reads, validates and compiles the manifest of a discovered plugin.
func (m *ManifestLoader) LoadManifest(discovered DiscoveredPlugin) (*Manifest, error) {
	data, err := os.ReadFile(discovered.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	manifest, err := m.ParseManifest(data, filepath.Ext(discovered.ManifestPath))
	if err != nil {
		return nil, err
	}
	manifest.ID = discovered.ID

	if err := m.Validate(manifest, discovered); err != nil {
		return nil, err
	}

	m.logger.Debug().
		Str("plugin", manifest.ID).
		Str("version", manifest.Version()).
		Int("functions", len(manifest.Functions)).
		Msg("Loaded manifest")

	return manifest, nil
}

// ParseManifest decodes a JSON or YAML manifest and checks it against
// ManifestSchema. ext selects the format (".yaml"/".yml", anything else is JSON).
func (m *ManifestLoader) ParseManifest(data []byte, ext string) (*Manifest, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert manifest YAML: %w", err)
		}
		data = converted
	}

	if err := m.validateSchema(data); err != nil {
		return nil, fmt.Errorf("manifest schema validation failed: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}
	return &manifest, nil
}

// validateSchema validates the manifest against the JSON schema
func (m *ManifestLoader) validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(m.schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}

	return nil
}

// Validate enforces required keys according to the build mode, fills the
// derived fields and compiles every function's grammar.
func (m *ManifestLoader) Validate(manifest *Manifest, discovered DiscoveredPlugin) error {
	desc := &manifest.Description

	if desc.DomainName == "" {
		desc.DomainName = discovered.Domain
	}
	if desc.DomainName == "" {
		desc.DomainName = NoDomain
	}
	if desc.PluginType == "" {
		desc.PluginType = TypeStandard
		if discovered.Source == SourceBuiltin {
			desc.PluginType = TypeSingleFile
		}
	}

	if desc.PluginName == "" {
		fallback := discovered.Name
		if fallback == "" {
			fallback = manifest.ID
		}
		if err := m.missing(manifest.ID, "plugin_name", fallback); err != nil {
			return err
		}
		desc.PluginName = fallback
	}

	if desc.PluginPrefix == "" {
		prefix, err := gonanoid.Generate(prefixAlphabet, 3)
		if err != nil {
			return &LoadError{Plugin: manifest.ID, Err: fmt.Errorf("failed to generate prefix: %w", err)}
		}
		if err := m.missing(manifest.ID, "plugin_prefix", prefix); err != nil {
			return err
		}
		desc.PluginPrefix = prefix
	}
	if strings.ContainsAny(desc.PluginPrefix, ". \t") {
		return &LoadError{Plugin: manifest.ID, Err: fmt.Errorf("invalid plugin_prefix %q", desc.PluginPrefix)}
	}

	if manifest.Versioning.PluginVersion == "" {
		if err := m.missing(manifest.ID, "version", "0.0.0"); err != nil {
			return err
		}
		manifest.Versioning.PluginVersion = "0.0.0"
	}

	return compileFunctions(manifest)
}

// missing handles an absent required key: an error in production, a default
// and a warning in development.
func (m *ManifestLoader) missing(pluginID, key, fallback string) error {
	if m.mode == ModeProduction {
		return &LoadError{Plugin: pluginID, Key: key}
	}
	m.logger.Warn().
		Str("plugin", pluginID).
		Str("key", key).
		Str("default", fallback).
		Msg("Manifest is missing a required key, using default")
	return nil
}

func compileFunctions(manifest *Manifest) error {
	ids := make([]string, 0, len(manifest.Functions))
	for id := range manifest.Functions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := make(map[string]string, len(ids))
	for _, id := range ids {
		fn := manifest.Functions[id]
		if fn.FunctionName == "" {
			fn.FunctionName = id
		}
		if strings.ContainsAny(fn.FunctionName, ". \t\n") {
			return &LoadError{Plugin: manifest.ID, Err: fmt.Errorf("function %s: invalid function_name %q", id, fn.FunctionName)}
		}
		if other, dup := seen[fn.FunctionName]; dup {
			return &LoadError{Plugin: manifest.ID, Err: fmt.Errorf("functions %s and %s share function_name %q", other, id, fn.FunctionName)}
		}
		seen[fn.FunctionName] = id

		args, err := grammar.ParseArgs(fn.AllowedArgsLength)
		if err != nil {
			return &LoadError{Plugin: manifest.ID, Err: fmt.Errorf("function %s: %w", id, err)}
		}
		mods, err := grammar.ParseModifiers(fn.AllowedModifiers)
		if err != nil {
			return &LoadError{Plugin: manifest.ID, Err: fmt.Errorf("function %s: %w", id, err)}
		}
		fn.Args = args
		fn.Modifiers = mods
		manifest.Functions[id] = fn
	}
	return nil
}
