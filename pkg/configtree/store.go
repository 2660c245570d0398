package configtree

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

// Store is the durable configuration tree. Readers take lock-free snapshots;
// writers are serialized, copy the current tree, mutate the copy, persist it
// and publish it.
type Store struct {
	path   string
	codec  codec
	logger zerolog.Logger

	mu     sync.Mutex
	rev    uint64 // publishes so far, guarded by mu
	tree   atomic.Pointer[Tree]
	digest atomic.Pointer[[sha256.Size]byte] // of the bytes last read or written
}

// Open creates a store backed by the file at path. Nothing is read until Load.
// An empty path gives an in-memory store that never persists.
func Open(path string, logger zerolog.Logger) *Store {
	s := &Store{
		path:   path,
		codec:  codecFor(path),
		logger: logger.With().Str("component", "configtree").Logger(),
	}
	empty := Tree{}
	s.tree.Store(&empty)
	return s
}

// NewMemory returns an in-memory store pre-populated with tree.
func NewMemory(tree Tree, logger zerolog.Logger) *Store {
	s := Open("", logger)
	t := tree.Clone()
	if t == nil {
		t = Tree{}
	}
	s.tree.Store(&t)
	return s
}

// Path returns the backing file, or "" for an in-memory store.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted tree, reconciles it against defaults and publishes
// the result. The file is rewritten only when reconciliation changed the tree.
// An in-memory store reconciles its current tree. A missing file is replaced
// by the defaults; an undecodable one is first moved aside to
// <path>.bad-<timestamp>. The returned error is non-nil only when writing the
// reconciled tree failed.
func (s *Store) Load(defaults Tree, opts ...Option) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stage(defaults, opts...)
	err := s.commit(st)
	return st.Result, err
}

// Staged is a reconciled tree that is neither persisted nor published. The
// holder may keep editing Tree, setting Changed when it does, until Commit.
type Staged struct {
	Result

	rev     uint64
	corrupt bool
}

// Stage reads and reconciles the persisted tree like Load but leaves the
// published snapshot and the file untouched.
func (s *Store) Stage(defaults Tree, opts ...Option) *Staged {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage(defaults, opts...)
}

// Commit persists st when it changed and publishes it in one step. It returns
// ErrStale without publishing when the store was written after st was staged.
func (s *Store) Commit(st *Staged) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.rev != s.rev {
		return ErrStale
	}
	return s.commit(st)
}

// stage must be called with mu held.
func (s *Store) stage(defaults Tree, opts ...Option) *Staged {
	var (
		persisted Tree
		err       error
		corrupt   bool
	)
	if s.path == "" {
		persisted = s.Snapshot().Clone()
	} else {
		persisted, err = s.read()
	}
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) && errors.Is(loadErr.Err, os.ErrNotExist) {
			s.logger.Info().Str("path", s.path).Msg("No persisted config, writing defaults")
		} else {
			s.logger.Error().Err(err).Msg("Failed to load persisted config, using defaults")
			corrupt = errors.As(err, &loadErr) && loadErr.Decode
		}
		persisted = nil
	}

	opts = append([]Option{WithLogger(s.logger)}, opts...)
	res := Reconcile(persisted, defaults, opts...)
	if len(res.Added) > 0 {
		s.logger.Info().Strs("keys", res.Added).Msg("Config keys added from schema")
	}
	return &Staged{Result: res, rev: s.rev, corrupt: corrupt}
}

// commit must be called with mu held.
func (s *Store) commit(st *Staged) error {
	if st.Tree == nil {
		st.Tree = Tree{}
	}
	if st.corrupt {
		s.moveAside()
	}

	var writeErr error
	if st.Changed {
		writeErr = s.persist(st.Tree)
	}
	s.publish(st.Tree)

	s.logger.Debug().
		Str("path", s.path).
		Str("version", st.Tree.Version()).
		Bool("changed", st.Changed).
		Msg("Config loaded")
	return writeErr
}

// moveAside keeps an undecodable config file as <path>.bad-<timestamp>.
func (s *Store) moveAside() {
	bad := fmt.Sprintf("%s.bad-%s", s.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.path, bad); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("Failed to move undecodable config aside")
		return
	}
	s.logger.Warn().Str("path", s.path).Str("backup", bad).Msg("Moved undecodable config aside")
}

// Snapshot returns the published tree. Callers must not mutate it.
func (s *Store) Snapshot() Tree {
	return *s.tree.Load()
}

// Get returns the value at path from the current snapshot.
func (s *Store) Get(path string) (any, bool) {
	v, ok := s.Snapshot().Get(path)
	if !ok {
		s.logger.Debug().Str("key", path).Msg("Config key not found")
	}
	return v, ok
}

// GetString returns the value at path coerced to a string, or def.
func (s *Store) GetString(path, def string) string {
	v, ok := s.Get(path)
	if !ok {
		return def
	}
	out, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return out
}

// GetBool returns the value at path coerced to a bool, or def.
func (s *Store) GetBool(path string, def bool) bool {
	v, ok := s.Get(path)
	if !ok {
		return def
	}
	out, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return out
}

// GetInt returns the value at path coerced to an int, or def.
func (s *Store) GetInt(path string, def int) int {
	v, ok := s.Get(path)
	if !ok {
		return def
	}
	out, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return out
}

// GetDuration returns the value at path as a duration. Bare numbers are seconds.
func (s *Store) GetDuration(path string, def time.Duration) time.Duration {
	v, ok := s.Get(path)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int, int64, float64:
		secs, err := cast.ToFloat64E(n)
		if err != nil {
			return def
		}
		return time.Duration(secs * float64(time.Second))
	}
	out, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return out
}

// GetStringSlice returns the value at path coerced to a string slice, or def.
func (s *Store) GetStringSlice(path string, def []string) []string {
	v, ok := s.Get(path)
	if !ok {
		return def
	}
	out, err := cast.ToStringSliceE(v)
	if err != nil {
		return def
	}
	return out
}

// Set writes value at path.
func (s *Store) Set(path string, value any) error {
	return s.Update(func(t Tree) error {
		t.Set(path, value)
		return nil
	})
}

// Delete removes the value at path. Deleting a missing key is not an error.
func (s *Store) Delete(path string) error {
	return s.Update(func(t Tree) error {
		t.Delete(path)
		return nil
	})
}

// Update applies fn to a copy of the current tree and publishes the copy. If
// fn fails nothing is published. A persistence failure is logged and returned
// but the new tree stays published.
func (s *Store) Update(fn func(Tree) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.Snapshot().Clone()
	if next == nil {
		next = Tree{}
	}
	if err := fn(next); err != nil {
		return err
	}

	err := s.persist(next)
	s.publish(next)
	return err
}

// Save persists the current snapshot.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(s.Snapshot())
}

// publish must be called with mu held.
func (s *Store) publish(t Tree) {
	s.rev++
	s.tree.Store(&t)
}

func (s *Store) read() (Tree, error) {
	if s.path == "" {
		return nil, &LoadError{Path: "(memory)", Err: os.ErrNotExist}
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &LoadError{Path: s.path, Err: err}
	}
	sum := sha256.Sum256(data)
	s.digest.Store(&sum)
	t, err := s.codec.decode(data)
	if err != nil {
		return nil, &LoadError{Path: s.path, Err: err, Decode: true}
	}
	return t, nil
}

// persist must be called with mu held.
func (s *Store) persist(t Tree) error {
	if s.path == "" {
		return nil
	}
	if err := s.writeAtomic(t); err != nil {
		werr := &WriteError{Path: s.path, Err: err}
		// Logged at fatal level without exiting; the bot keeps running on the in-memory tree.
		s.logger.WithLevel(zerolog.FatalLevel).Err(werr).Msg("Failed to persist config")
		return werr
	}
	return nil
}

func (s *Store) writeAtomic(t Tree) error {
	data, err := s.codec.encode(t)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return fmt.Errorf("failed to set config permissions: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	sum := sha256.Sum256(data)
	s.digest.Store(&sum)
	return nil
}

// Modified reports whether the backing file differs from what the store last
// read or wrote, i.e. it was edited by someone else. In-memory stores are
// never modified.
func (s *Store) Modified() bool {
	if s.path == "" {
		return false
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return true
	}
	last := s.digest.Load()
	return last == nil || sha256.Sum256(data) != *last
}
