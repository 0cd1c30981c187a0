package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand("test")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestIndexAndQueryCommands(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"),
		[]byte("def helper():\n    pass\n\ndef main():\n    helper()\n"), 0o644))
	db := filepath.Join(t.TempDir(), "graph.db")

	out := runCommand(t, "index", root, "--db", db)
	assert.Contains(t, out, "Indexed 1 files")

	out = runCommand(t, "callees", "a.py::main", "--repo", root, "--db", db)
	assert.Contains(t, out, "a.py::helper")

	out = runCommand(t, "callers", "a.py::helper", "--repo", root, "--db", db)
	assert.Contains(t, out, "a.py::main")

	out = runCommand(t, "deps", "a.py::main", "--repo", root, "--db", db)
	assert.Contains(t, out, "a.py::helper")

	out = runCommand(t, "symbol", "a.py::main", "--repo", root, "--db", db)
	assert.Contains(t, out, `"full_name": "a.py::main"`)
}

func TestQueryUnknownSymbolFails(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"),
		[]byte("def solo():\n    pass\n"), 0o644))
	db := filepath.Join(t.TempDir(), "graph.db")
	runCommand(t, "index", root, "--db", db)

	cmd := NewRootCommand("test")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"callees", "a.py::ghost", "--repo", root, "--db", db})
	require.Error(t, cmd.Execute())
}
