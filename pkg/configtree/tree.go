// Package configtree holds the bot's persisted configuration: a nested tree of
// scalars, lists and subtrees, a reconciler that merges it with the running
// schema's defaults, and a durable store that publishes immutable snapshots.
package configtree

import (
	"reflect"
	"sort"
	"strings"
)

// VersionPath is the reserved key holding the schema version a tree was written with.
const VersionPath = "core.version"

// Tree is a nested configuration mapping. Subtrees are map[string]any and
// lists are []any; see Normalize for converting typed Go values.
type Tree map[string]any

// Shape classifies a configuration value for reconciliation.
type Shape int

const (
	ShapeScalar Shape = iota
	ShapeList
	ShapeSubtree
)

func (s Shape) String() string {
	switch s {
	case ShapeList:
		return "list"
	case ShapeSubtree:
		return "subtree"
	default:
		return "scalar"
	}
}

// ShapeOf reports whether v is a scalar, a list or a subtree.
func ShapeOf(v any) Shape {
	switch v.(type) {
	case map[string]any, Tree:
		return ShapeSubtree
	case []any:
		return ShapeList
	case nil:
		return ShapeScalar
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Map:
		return ShapeSubtree
	case reflect.Slice, reflect.Array:
		return ShapeList
	default:
		return ShapeScalar
	}
}

// Get retrieves a value using a dot-separated path.
func (t Tree) Get(path string) (any, bool) {
	if t == nil || path == "" {
		return nil, false
	}

	current := any(map[string]any(t))
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		val, exists := m[part]
		if !exists {
			return nil, false
		}
		current = val
	}
	return current, true
}

// Sub returns the subtree at path, or nil when path is missing or not a subtree.
func (t Tree) Sub(path string) Tree {
	v, ok := t.Get(path)
	if !ok {
		return nil
	}
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	return Tree(m)
}

// Set stores value at a dot-separated path, creating intermediate subtrees and
// replacing any scalar found on the way.
func (t Tree) Set(path string, value any) {
	if t == nil || path == "" {
		return
	}

	parts := strings.Split(path, ".")
	current := map[string]any(t)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = Normalize(value)
}

// Delete removes the value at path and reports whether it existed.
func (t Tree) Delete(path string) bool {
	if t == nil || path == "" {
		return false
	}

	parts := strings.Split(path, ".")
	current := map[string]any(t)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			return false
		}
		current = next
	}

	key := parts[len(parts)-1]
	if _, exists := current[key]; !exists {
		return false
	}
	delete(current, key)
	return true
}

// Clone returns a deep copy of the tree.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	return Tree(cloneMap(t))
}

// Version returns the tree's core.version, or "" when unset.
func (t Tree) Version() string {
	v, ok := t.Get(VersionPath)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Keys returns the top-level keys in sorted order.
func (t Tree) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Normalize converts typed maps and slices (map[string]string, []string, nested
// Tree values) into the map[string]any / []any form used by the tree.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case Tree:
		return cloneMap(val)
	case map[string]any:
		return cloneMap(val)
	case []any:
		return cloneSlice(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Tree:
		return m, true
	default:
		return nil, false
	}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case Tree:
		return cloneMap(val)
	case []any:
		return cloneSlice(val)
	default:
		return Normalize(v)
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = cloneValue(v)
	}
	return out
}
