package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Resolver.CrossFile)
	assert.Equal(t, 5, cfg.Query.MaxHops)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
db:
  path: graphs/code.db
index:
  workers: 2
resolver:
  cross_file: false
log:
  level: debug
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "graphs/code.db", cfg.DB.Path)
	assert.Equal(t, 2, cfg.Index.Workers)
	assert.False(t, cfg.Resolver.CrossFile)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Query.MaxHops)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadFromFileRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("index:\n  workers: 0\n"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))
	_, err = LoadFromFile(path)
	require.Error(t, err)
}

func TestDiscoverWalksUpward(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "src", "pkg")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName),
		[]byte("db:\n  path: found.db\n"), 0o644))

	cfg, err := Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, "found.db", cfg.DB.Path)
}

func TestDiscoverFallsBackToDefaults(t *testing.T) {
	cfg, err := Discover(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().DB.Path, cfg.DB.Path)
}
