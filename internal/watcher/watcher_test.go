package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type batches struct {
	mu  sync.Mutex
	got [][]string
}

func (b *batches) add(paths []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, paths)
}

func (b *batches) all() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.got...)
}

func TestWatchDirDebounces(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	plugin := filepath.Join(dir, "acme_ping")
	require.NoError(t, os.MkdirAll(plugin, 0o755))

	var b batches
	w, err := New(zerolog.Nop(), 50*time.Millisecond, b.add)
	require.NoError(t, err)
	require.NoError(t, w.WatchDir(dir))

	manifest := filepath.Join(plugin, "plugin.json")
	require.NoError(t, os.WriteFile(manifest, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(manifest, []byte(`{"a":1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(plugin, ".hidden"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return len(b.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{manifest}, b.all()[0])

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestWatchDirPicksUpNewDirectories(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	var b batches
	w, err := New(zerolog.Nop(), 50*time.Millisecond, b.add)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.WatchDir(dir))

	sub := filepath.Join(dir, "acme_new")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.Eventually(t, func() bool { return len(b.all()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "plugin.json"), []byte("{}"), 0o644))
	require.Eventually(t, func() bool {
		got := b.all()
		return len(got) == 2 && len(got[1]) == 1 && got[1][0] == filepath.Join(sub, "plugin.json")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchFileIgnoresSiblings(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	config := filepath.Join(dir, "config.json")

	var b batches
	w, err := New(zerolog.Nop(), 50*time.Millisecond, b.add)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.WatchFile(config))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json.123.tmp"), []byte("{}"), 0o644))
	require.NoError(t, os.Rename(filepath.Join(dir, "config.json.123.tmp"), config))

	require.Eventually(t, func() bool { return len(b.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{config}, b.all()[0])
}

func TestWatchMissingDir(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := New(zerolog.Nop(), 0, func([]string) {})
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.debounce)
	assert.NoError(t, w.WatchDir(filepath.Join(t.TempDir(), "missing")))
	require.NoError(t, w.Stop())
}

func TestIgnored(t *testing.T) {
	tests := map[string]bool{
		"plugin.json":        false,
		".plugin.json.swp":   true,
		"plugin.json~":       true,
		"config.json.42.tmp": true,
		"notes.swp":          true,
	}
	for name, want := range tests {
		assert.Equal(t, want, ignored(name), name)
	}
}
