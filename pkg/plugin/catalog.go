package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a fresh plugin instance. It is called once per load.
type Factory func() Plugin

// Catalog maps plugin IDs to the factories compiled into the binary. Plugin
// directories supply manifests; the catalog supplies their code.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
	builtins  map[string]bool
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		factories: make(map[string]Factory),
		builtins:  make(map[string]bool),
	}
}

// Register adds the factory for a plugin discovered on disk. id is matched
// against the plugin directory name first, then the manifest plugin_name.
func (c *Catalog) Register(id string, factory Factory) error {
	return c.add(id, factory, false)
}

// RegisterBuiltin adds a single-file plugin that is loaded without a plugin
// directory. Its instances must implement ManifestProvider.
func (c *Catalog) RegisterBuiltin(id string, factory Factory) error {
	return c.add(id, factory, true)
}

func (c *Catalog) add(id string, factory Factory, builtin bool) error {
	if id == "" || factory == nil {
		return fmt.Errorf("catalog entry needs an id and a factory")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[id]; exists {
		return fmt.Errorf("plugin %s already registered in catalog", id)
	}
	c.factories[id] = factory
	if builtin {
		c.builtins[id] = true
	}
	return nil
}

// Lookup returns the factory for id.
func (c *Catalog) Lookup(id string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[id]
	return f, ok
}

// IsBuiltin reports whether id was registered with RegisterBuiltin.
func (c *Catalog) IsBuiltin(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.builtins[id]
}

// Builtins returns the built-in plugin IDs in order.
func (c *Catalog) Builtins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.builtins))
	for id := range c.builtins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
