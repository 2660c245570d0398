package plugin

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry tracks the plugins of one load generation and their health.
type Registry struct {
	plugins map[string]*Record
	mu      sync.RWMutex
}

// NewRegistry creates a new plugin registry
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*Record),
	}
}

// Register registers a plugin
func (r *Registry) Register(plugin *LoadedPlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[plugin.ID]; exists {
		return fmt.Errorf("plugin %s already registered", plugin.ID)
	}

	r.plugins[plugin.ID] = &Record{
		Plugin:   plugin,
		LoadedAt: time.Now(),
	}
	return nil
}

// Get returns a copy of the record for pluginID.
func (r *Registry) Get(pluginID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, exists := r.plugins[pluginID]
	if !exists {
		return Record{}, false
	}
	return *record, true
}

// All returns copies of every record ordered by plugin ID.
func (r *Registry) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]Record, 0, len(r.plugins))
	for _, record := range r.plugins {
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Plugin.ID < records[j].Plugin.ID })
	return records
}

// ByState returns the records of all plugins in state.
func (r *Registry) ByState(state State) []Record {
	var out []Record
	for _, record := range r.All() {
		if record.Plugin.State == state {
			out = append(out, record)
		}
	}
	return out
}

// Update applies updater to the record of pluginID under the write lock.
func (r *Registry) Update(pluginID string, updater func(*Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.plugins[pluginID]
	if !exists {
		return fmt.Errorf("plugin %s not found", pluginID)
	}

	updater(record)
	return nil
}

// RecordError records an invocation failure for a plugin
func (r *Registry) RecordError(pluginID string, err error) error {
	return r.Update(pluginID, func(record *Record) {
		record.ErrorCount++
		record.LastError = err
	})
}
