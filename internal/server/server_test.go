package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/graph"
	"codegraph/internal/schema"
	"codegraph/internal/store"
)

func TestBuildSchemaMap(t *testing.T) {
	m := buildSchemaMap()
	for _, name := range []string{
		"index", "index_status", "symbols_in_file",
		"callees", "callers", "dependencies", "get_symbol",
	} {
		assert.Contains(t, m, name)
	}
}

const pySource = `def helper():
    x = 1

    return x

def other():
    pass
`

func TestReadSourceBlock(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte(pySource), 0o644))

	s := &Server{root: root, logger: slog.Default()}
	node := &graph.Node{
		Kind:     schema.KindFunction,
		FullName: "a.py::helper",
		Name:     "helper",
		Attrs:    map[string]any{"lineno": float64(1)},
	}
	source, err := s.readSource(node)
	require.NoError(t, err)
	assert.Equal(t, "def helper():\n    x = 1\n\n    return x", source)
}

func TestReadSourceWithoutLineInfo(t *testing.T) {
	s := &Server{root: t.TempDir(), logger: slog.Default()}
	_, err := s.readSource(&graph.Node{
		Kind:     schema.KindFunction,
		FullName: "a.py::helper",
		Attrs:    map[string]any{},
	})
	require.Error(t, err)
}

func TestFilePathOf(t *testing.T) {
	path, ok := filePathOf(&graph.Node{Kind: schema.KindMethod, FullName: "pkg/a.py::C.m"})
	require.True(t, ok)
	assert.Equal(t, "pkg/a.py", path)

	path, ok = filePathOf(&graph.Node{Kind: schema.KindFile, FullName: "pkg/a.py"})
	require.True(t, ok)
	assert.Equal(t, "pkg/a.py", path)

	_, ok = filePathOf(&graph.Node{Kind: schema.KindClass, FullName: "BareStub"})
	assert.False(t, ok)
}

func TestLookupSymbol(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "graph.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { st.Close() })

	_, err = st.UpsertNode(context.Background(), &graph.Node{
		Kind:     schema.KindFunction,
		FullName: "a.py::helper",
		Name:     "helper",
		Attrs:    graph.FunctionAttrs{Args: []string{}, Lineno: 1}.Map(),
	})
	require.NoError(t, err)

	s := &Server{store: st, logger: slog.Default()}

	byIdentity, err := s.lookupSymbol(context.Background(), "a.py::helper")
	require.NoError(t, err)
	require.Len(t, byIdentity, 1)

	byName, err := s.lookupSymbol(context.Background(), "helper")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "a.py::helper", byName[0].FullName)

	missing, err := s.lookupSymbol(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, missing)
}
