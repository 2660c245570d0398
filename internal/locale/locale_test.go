package locale

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	c, err := New(zerolog.Nop(), "")
	require.NoError(t, err)

	tests := []struct {
		name string
		key  string
		args []any
		want string
	}{
		{"plain", "core.shutdown", nil, "Shutting down."},
		{"formatted", "dispatch.not_found", []any{"//nope"}, "Unknown command //nope."},
		{"two args", "core.reload.done", []any{3, 12}, "Reloaded 3 plugins with 12 commands."},
		{"missing key", "no.such.key", nil, "no.such.key"},
		{"missing key with args", "no.such.key", []any{1}, "no.such.key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Text(tt.key, tt.args...))
		})
	}
}

func TestSetLocaleFallsBack(t *testing.T) {
	c, err := New(zerolog.Nop(), "id_id")
	require.NoError(t, err)
	assert.Equal(t, "id_id", c.Locale())

	assert.Equal(t, "Mematikan bot.", c.Text("core.shutdown"))
	// not translated, served from the default locale
	assert.Equal(t, "Command history is not enabled.", c.Text("core.history.disabled"))

	assert.False(t, c.SetLocale("xx_yy"))
	assert.Equal(t, "id_id", c.Locale())

	assert.True(t, c.SetLocale(""))
	assert.Equal(t, Default, c.Locale())
}

func TestUnknownInitialLocale(t *testing.T) {
	c, err := New(zerolog.Nop(), "fr_fr")
	require.NoError(t, err)
	assert.Equal(t, Default, c.Locale())
	assert.Contains(t, c.Locales(), "en_us")
	assert.Contains(t, c.Locales(), "id_id")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en_us.yaml"), []byte("core:\n  shutdown: Bye.\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "de_DE.yaml"), []byte("core:\n  shutdown: Tschüss.\n  sleep:\n    done: \"Schlafe %s.\"\n"), 0o644))

	c, err := New(zerolog.Nop(), "")
	require.NoError(t, err)
	require.NoError(t, c.LoadDir(dir))
	require.NoError(t, c.LoadDir(filepath.Join(dir, "missing")))

	assert.Equal(t, "Bye.", c.Text("core.shutdown"))
	assert.Equal(t, "Unknown command x.", c.Text("dispatch.not_found", "x"))

	require.True(t, c.SetLocale("de_de"))
	assert.Equal(t, "Schlafe 5s.", c.Text("core.sleep.done", "5s"))
}

func TestMergeRejectsBadYAML(t *testing.T) {
	c, err := New(zerolog.Nop(), "")
	require.NoError(t, err)
	assert.Error(t, c.Merge("en_us", []byte("core: [unterminated")))
}
