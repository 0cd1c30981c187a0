package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraph/internal/graph"
	"codegraph/internal/schema"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "graph.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	// Declaring constraints again must be harmless.
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func functionNode(path, name string) *graph.Node {
	return &graph.Node{
		Kind:     schema.KindFunction,
		FullName: schema.FunctionKey(path, name),
		Name:     name,
		Attrs:    graph.FunctionAttrs{Args: []string{}, Lineno: 1}.Map(),
	}
}

func TestUpsertNodeCreateThenMerge(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	created, err := st.UpsertNode(ctx, &graph.Node{
		Kind:     schema.KindFunction,
		FullName: "a.py::helper",
		Name:     "helper",
		Attrs:    graph.FunctionAttrs{Args: []string{"x"}, Docstring: "Adds.", Lineno: 3}.Map(),
	})
	require.NoError(t, err)
	assert.True(t, created)

	// Second upsert without a docstring must not erase the stored one.
	created, err = st.UpsertNode(ctx, &graph.Node{
		Kind:     schema.KindFunction,
		FullName: "a.py::helper",
		Name:     "helper",
		Attrs:    graph.FunctionAttrs{Args: []string{"x", "y"}, Lineno: 3}.Map(),
	})
	require.NoError(t, err)
	assert.False(t, created)

	node, err := st.FindNode(ctx, graph.Ref{Kind: schema.KindFunction, Key: "a.py::helper"})
	require.NoError(t, err)
	assert.Equal(t, "Adds.", node.Attrs["docstring"])
	assert.Equal(t, []any{"x", "y"}, node.Attrs["args"])
}

func TestUpsertNodeRejectsIncompletePayload(t *testing.T) {
	st := openTestStore(t)

	_, err := st.UpsertNode(context.Background(), &graph.Node{
		Kind:     schema.KindFunction,
		FullName: "a.py::helper",
		Name:     "helper",
		Attrs:    map[string]any{"args": []string{}},
	})
	require.ErrorIs(t, err, ErrConstraintViolation)
}

func TestUpsertNodeIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	n := functionNode("a.py", "helper")
	created, err := st.UpsertNode(ctx, n)
	require.NoError(t, err)
	assert.True(t, created)

	before, err := st.FindNode(ctx, n.Ref())
	require.NoError(t, err)

	created, err = st.UpsertNode(ctx, functionNode("a.py", "helper"))
	require.NoError(t, err)
	assert.False(t, created)

	after, err := st.FindNode(ctx, n.Ref())
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestFindNodeMissing(t *testing.T) {
	st := openTestStore(t)

	_, err := st.FindNode(context.Background(), graph.Ref{Kind: schema.KindFunction, Key: "nope"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertEdge(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	caller := functionNode("a.py", "main")
	callee := functionNode("a.py", "helper")
	for _, n := range []*graph.Node{caller, callee} {
		_, err := st.UpsertNode(ctx, n)
		require.NoError(t, err)
	}

	edge := &graph.Edge{Rel: schema.RelCalls, Source: caller.Ref(), Target: callee.Ref()}
	created, err := st.UpsertEdge(ctx, edge)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.UpsertEdge(ctx, edge)
	require.NoError(t, err)
	assert.False(t, created, "re-upserting an edge must be a no-op")

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Edges)
	assert.Equal(t, 2, stats.NodesByKind[schema.KindFunction])
}

func TestUpsertEdgeOutsideLattice(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	cls := &graph.Node{
		Kind:     schema.KindClass,
		FullName: "a.py::Widget",
		Name:     "Widget",
		Attrs:    graph.ClassAttrs{Bases: []string{}, Lineno: 1}.Map(),
	}
	fn := functionNode("a.py", "helper")
	for _, n := range []*graph.Node{cls, fn} {
		_, err := st.UpsertNode(ctx, n)
		require.NoError(t, err)
	}

	_, err := st.UpsertEdge(ctx, &graph.Edge{Rel: schema.RelCalls, Source: cls.Ref(), Target: fn.Ref()})
	require.ErrorIs(t, err, ErrConstraintViolation)
}

func TestUpsertEdgeMissingEndpoint(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	fn := functionNode("a.py", "main")
	_, err := st.UpsertNode(ctx, fn)
	require.NoError(t, err)

	_, err = st.UpsertEdge(ctx, &graph.Edge{
		Rel:    schema.RelCalls,
		Source: fn.Ref(),
		Target: graph.Ref{Kind: schema.KindFunction, Key: "a.py::ghost"},
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNeighborsDirections(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := functionNode("x.py", "a")
	b := functionNode("x.py", "b")
	c := functionNode("x.py", "c")
	for _, n := range []*graph.Node{a, b, c} {
		_, err := st.UpsertNode(ctx, n)
		require.NoError(t, err)
	}
	for _, e := range []*graph.Edge{
		{Rel: schema.RelCalls, Source: a.Ref(), Target: b.Ref()},
		{Rel: schema.RelCalls, Source: c.Ref(), Target: b.Ref()},
	} {
		_, err := st.UpsertEdge(ctx, e)
		require.NoError(t, err)
	}

	out, err := st.Neighbors(ctx, a.Ref(), schema.RelCalls, Outgoing)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "x.py::b", out[0].FullName)

	in, err := st.Neighbors(ctx, b.Ref(), schema.RelCalls, Incoming)
	require.NoError(t, err)
	require.Len(t, in, 2)
	assert.Equal(t, "x.py::a", in[0].FullName)
	assert.Equal(t, "x.py::c", in[1].FullName)

	none, err := st.Neighbors(ctx, b.Ref(), schema.RelCalls, Outgoing)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func drainTraversal(t *testing.T, tr *Traversal) []string {
	t.Helper()
	var names []string
	for tr.Next() {
		names = append(names, tr.Node().FullName)
	}
	require.NoError(t, tr.Err())
	return names
}

func TestTraverseCycleTerminates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	f1 := functionNode("a.py", "f1")
	f2 := functionNode("a.py", "f2")
	for _, n := range []*graph.Node{f1, f2} {
		_, err := st.UpsertNode(ctx, n)
		require.NoError(t, err)
	}
	for _, e := range []*graph.Edge{
		{Rel: schema.RelCalls, Source: f1.Ref(), Target: f2.Ref()},
		{Rel: schema.RelCalls, Source: f2.Ref(), Target: f1.Ref()},
	} {
		_, err := st.UpsertEdge(ctx, e)
		require.NoError(t, err)
	}

	tr, err := st.Traverse(ctx, f1.Ref(), []schema.RelKind{schema.RelCalls}, Outgoing, 10)
	require.NoError(t, err)
	// The cycle leads back to the start, so the start appears exactly once.
	assert.Equal(t, []string{"a.py::f2", "a.py::f1"}, drainTraversal(t, tr))
}

func TestTraverseDepthBound(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	chain := []*graph.Node{
		functionNode("a.py", "n0"),
		functionNode("a.py", "n1"),
		functionNode("a.py", "n2"),
		functionNode("a.py", "n3"),
	}
	for _, n := range chain {
		_, err := st.UpsertNode(ctx, n)
		require.NoError(t, err)
	}
	for i := 0; i+1 < len(chain); i++ {
		_, err := st.UpsertEdge(ctx, &graph.Edge{
			Rel: schema.RelCalls, Source: chain[i].Ref(), Target: chain[i+1].Ref(),
		})
		require.NoError(t, err)
	}

	tr, err := st.Traverse(ctx, chain[0].Ref(), []schema.RelKind{schema.RelCalls}, Outgoing, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py::n1", "a.py::n2"}, drainTraversal(t, tr))

	tr, err = st.Traverse(ctx, chain[0].Ref(), []schema.RelKind{schema.RelCalls}, Outgoing, 0)
	require.NoError(t, err)
	assert.Empty(t, drainTraversal(t, tr))
}

func TestTraverseMissingStart(t *testing.T) {
	st := openTestStore(t)

	_, err := st.Traverse(context.Background(),
		graph.Ref{Kind: schema.KindFunction, Key: "nope"},
		[]schema.RelKind{schema.RelCalls}, Outgoing, 3)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindNodesByName(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, path := range []string{"b.py", "a.py"} {
		_, err := st.UpsertNode(ctx, functionNode(path, "helper"))
		require.NoError(t, err)
	}

	nodes, err := st.FindNodesByName(ctx, schema.KindFunction, "helper")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "a.py::helper", nodes[0].FullName)
	assert.Equal(t, "b.py::helper", nodes[1].FullName)
}
