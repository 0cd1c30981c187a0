package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/engine"
	"codegraph/internal/extract"
	"codegraph/internal/graph"
	"codegraph/internal/store"
)

// buildGraph ingests a small call chain: main -> helper -> leaf, plus a
// Widget.render method calling helper, and a cycle f1 <-> f2.
func buildGraph(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "graph.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { st.Close() })

	e := engine.New(st, engine.Options{CrossFileCalls: true})
	ctx := context.Background()
	results := map[string]*extract.Result{
		"a.py": {
			Functions: []extract.Function{
				{Name: "leaf", Args: []string{}, Lineno: 1, Calls: []string{}},
				{Name: "helper", Args: []string{}, Lineno: 3, Calls: []string{"leaf"}},
				{Name: "main", Args: []string{}, Lineno: 6, Calls: []string{"helper"}},
				{Name: "f1", Args: []string{}, Lineno: 9, Calls: []string{"f2"}},
				{Name: "f2", Args: []string{}, Lineno: 12, Calls: []string{"f1"}},
			},
			Classes: []extract.Class{{
				Name:   "Widget",
				Bases:  []string{},
				Lineno: 15,
				Methods: []extract.Function{
					{Name: "render", Args: []string{"self"}, Lineno: 16, Calls: []string{"helper"}},
				},
			}},
		},
	}
	for path, res := range results {
		_, err := e.IngestFile(ctx, graph.FileAttrs{Path: path}, res)
		require.NoError(t, err)
	}
	_, err = e.ResolveCalls(ctx, results)
	require.NoError(t, err)
	return st
}

func newService(t *testing.T, st store.Store) *Service {
	t.Helper()
	svc, err := New(st, Options{CacheSize: 16})
	require.NoError(t, err)
	return svc
}

func TestCalleesOf(t *testing.T) {
	svc := newService(t, buildGraph(t))

	callees, err := svc.CalleesOf(context.Background(), "a.py::main")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py::helper"}, callees)
}

func TestCallersOf(t *testing.T) {
	svc := newService(t, buildGraph(t))

	callers, err := svc.CallersOf(context.Background(), "a.py::helper")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.py::main", "a.py::Widget.render"}, callers)
}

func TestCalleesOfMethod(t *testing.T) {
	svc := newService(t, buildGraph(t))

	callees, err := svc.CalleesOf(context.Background(), "a.py::Widget.render")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py::helper"}, callees)
}

func TestTransitiveDependencies(t *testing.T) {
	svc := newService(t, buildGraph(t))

	deps, err := svc.TransitiveDependencies(context.Background(), "a.py::main", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py::helper", "a.py::leaf"}, deps)

	// One hop only.
	deps, err = svc.TransitiveDependencies(context.Background(), "a.py::main", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py::helper"}, deps)
}

func TestTransitiveDependenciesCycle(t *testing.T) {
	svc := newService(t, buildGraph(t))

	deps, err := svc.TransitiveDependencies(context.Background(), "a.py::f1", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py::f2", "a.py::f1"}, deps,
		"a cycle terminates and includes the start once")
}

func TestUnknownCallable(t *testing.T) {
	svc := newService(t, buildGraph(t))

	_, err := svc.CalleesOf(context.Background(), "a.py::ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCacheReset(t *testing.T) {
	st := buildGraph(t)
	svc := newService(t, st)
	ctx := context.Background()

	first, err := svc.CalleesOf(ctx, "a.py::main")
	require.NoError(t, err)

	// Cached result is served even without touching the store again.
	again, err := svc.CalleesOf(ctx, "a.py::main")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	svc.Reset()
	fresh, err := svc.CalleesOf(ctx, "a.py::main")
	require.NoError(t, err)
	assert.Equal(t, first, fresh)
}
