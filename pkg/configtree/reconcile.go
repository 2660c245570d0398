package configtree

import (
	"reflect"
	"sort"
	"strings"

	"github.com/harun/openbot/pkg/version"
	"github.com/rs/zerolog"
)

// Result is the outcome of a reconciliation.
type Result struct {
	Tree       Tree
	Changed    bool
	Added      []string // default keys that were missing from the persisted tree
	Mismatched []string // keys whose persisted shape differs from the schema
}

// Option configures Reconcile.
type Option func(*reconcileOptions)

type reconcileOptions struct {
	pinned []string
	logger zerolog.Logger
}

// WithPinned forces the given paths to their default value after the merge, in
// addition to core.version. Plugin subtree versions are pinned this way.
func WithPinned(paths ...string) Option {
	return func(o *reconcileOptions) {
		o.pinned = append(o.pinned, paths...)
	}
}

// WithLogger sets the logger used for shape-mismatch and version warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *reconcileOptions) {
		o.logger = logger
	}
}

// Reconcile merges a persisted tree with the schema defaults. Persisted values
// win wherever they exist, keys unknown to the schema are kept verbatim and
// missing keys are filled from the defaults. A nil persisted tree yields the
// defaults with Changed set.
func Reconcile(persisted, defaults Tree, opts ...Option) Result {
	o := reconcileOptions{
		pinned: []string{VersionPath},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if persisted == nil {
		return Result{Tree: defaults.Clone(), Changed: true}
	}

	r := &Result{Tree: persisted.Clone()}
	if r.Tree == nil {
		r.Tree = Tree{}
	}
	mergeInto(r, r.Tree, defaults, "", o.logger)

	for _, path := range o.pinned {
		pin(r, path, defaults, o.logger)
	}

	sort.Strings(r.Added)
	sort.Strings(r.Mismatched)
	return *r
}

func mergeInto(r *Result, dst map[string]any, defaults map[string]any, prefix string, logger zerolog.Logger) {
	for _, key := range sortedKeys(defaults) {
		defVal := defaults[key]
		path := join(prefix, key)

		cur, exists := dst[key]
		if !exists {
			dst[key] = cloneValue(defVal)
			r.Added = append(r.Added, path)
			r.Changed = true
			continue
		}

		curShape, defShape := ShapeOf(cur), ShapeOf(defVal)
		if curShape != defShape {
			r.Mismatched = append(r.Mismatched, path)
			logger.Warn().
				Str("key", path).
				Str("persisted", curShape.String()).
				Str("schema", defShape.String()).
				Msg("Config value shape differs from schema, keeping persisted value")
			continue
		}

		if curShape == ShapeSubtree {
			curMap, ok := asMap(cur)
			if !ok {
				// A typed map from a caller; normalize so the recursion can write into it.
				curMap, _ = asMap(Normalize(cur))
				dst[key] = curMap
			}
			defMap, ok := asMap(defVal)
			if !ok {
				defMap, _ = asMap(Normalize(defVal))
			}
			mergeInto(r, curMap, defMap, path, logger)
		}
	}
}

func pin(r *Result, path string, defaults Tree, logger zerolog.Logger) {
	want, ok := defaults.Get(path)
	if !ok {
		return
	}
	have, exists := r.Tree.Get(path)
	if exists && reflect.DeepEqual(have, want) {
		return
	}

	if exists {
		logVersionChange(logger, path, have, want)
	} else if !settable(r.Tree, path) {
		logger.Warn().Str("key", path).Msg("Cannot pin config value below a non-subtree value")
		return
	}
	r.Tree.Set(path, cloneValue(want))
	r.Changed = true
}

func logVersionChange(logger zerolog.Logger, path string, have, want any) {
	haveStr, ok1 := have.(string)
	wantStr, ok2 := want.(string)
	if !ok1 || !ok2 {
		logger.Info().Str("key", path).Msg("Pinned config value replaced")
		return
	}

	event := logger.Info()
	msg := "Config schema upgraded"
	switch version.Compare(haveStr, wantStr) {
	case version.ExistingGreater:
		event = logger.Warn()
		msg = "Config was written by a newer version, downgrading schema"
	case version.Incomparable:
		event = logger.Warn()
		msg = "Config versions are not comparable, proceeding with defaults"
	}
	event.Str("key", path).Str("from", haveStr).Str("to", wantStr).Msg(msg)
}

// settable reports whether Set(path) would only create subtrees, never replace a value.
func settable(t Tree, path string) bool {
	current := map[string]any(t)
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		v, exists := current[part]
		if !exists {
			return true
		}
		next, ok := asMap(v)
		if !ok {
			return false
		}
		current = next
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
