// Package locale provides the YAML string catalog used for caller-visible
// replies. Catalogs are flattened to dotted keys; lookups fall back to the
// default locale, then to the key itself.
package locale

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Default is the locale every other catalog falls back to.
const Default = "en_us"

//go:embed locales/*.yaml
var builtin embed.FS

// Catalog holds the strings of every known locale.
type Catalog struct {
	mu       sync.RWMutex
	current  string
	messages map[string]map[string]string
	logger   zerolog.Logger
}

// New returns a catalog with the embedded locales, set to locale. An unknown
// locale is logged and Default is used instead.
func New(logger zerolog.Logger, locale string) (*Catalog, error) {
	c := &Catalog{
		current:  Default,
		messages: make(map[string]map[string]string),
		logger:   logger.With().Str("component", "locale").Logger(),
	}

	entries, err := builtin.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded locales: %w", err)
	}
	for _, entry := range entries {
		data, err := builtin.ReadFile("locales/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read locale %s: %w", entry.Name(), err)
		}
		if err := c.Merge(localeName(entry.Name()), data); err != nil {
			return nil, err
		}
	}

	c.SetLocale(locale)
	return c, nil
}

// LoadDir merges every <locale>.yaml file in dir over the loaded strings. A
// missing directory is not an error.
func (c *Catalog) LoadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("failed to list locale files: %w", err)
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read locale file %s: %w", path, err)
		}
		if err := c.Merge(localeName(filepath.Base(path)), data); err != nil {
			return err
		}
		c.logger.Debug().Str("file", path).Msg("Loaded locale overrides")
	}
	return nil
}

// Merge adds the YAML document data to locale, replacing existing keys.
func (c *Catalog) Merge(locale string, data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse locale %s: %w", locale, err)
	}

	flat := make(map[string]string)
	flatten("", doc, flat)

	c.mu.Lock()
	defer c.mu.Unlock()
	table, ok := c.messages[locale]
	if !ok {
		table = make(map[string]string, len(flat))
		c.messages[locale] = table
	}
	for k, v := range flat {
		table[k] = v
	}
	return nil
}

// SetLocale switches the active locale. It reports false and keeps the
// current one when locale is unknown.
func (c *Catalog) SetLocale(locale string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if locale == "" {
		locale = Default
	}
	if _, ok := c.messages[locale]; !ok {
		c.logger.Warn().Str("locale", locale).Str("using", c.current).Msg("Unknown locale")
		return false
	}
	c.current = locale
	return true
}

// Locale returns the active locale.
func (c *Catalog) Locale() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Locales returns the known locales sorted.
func (c *Catalog) Locales() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.messages))
	for l := range c.messages {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Text implements plugin.Localizer.
func (c *Catalog) Text(key string, args ...any) string {
	c.mu.RLock()
	format, ok := c.messages[c.current][key]
	if !ok {
		format, ok = c.messages[Default][key]
	}
	c.mu.RUnlock()

	if !ok {
		c.logger.Debug().Str("key", key).Msg("Missing locale string")
		return key
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func localeName(file string) string {
	return strings.ToLower(strings.TrimSuffix(file, filepath.Ext(file)))
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(key, sub, out)
			continue
		}
		out[key] = cast.ToString(v)
	}
}
