// Package store defines the persistence port of the code knowledge graph and
// its SQLite adapter. Callers depend on the Store interface; every adapter
// maps its backend failures onto the three sentinel errors below.
package store

import (
	"context"
	"errors"

	"codegraph/internal/graph"
	"codegraph/internal/schema"
)

var (
	// ErrNotFound reports a lookup that matched no node.
	ErrNotFound = errors.New("node not found")

	// ErrConstraintViolation reports a write the schema or a uniqueness
	// constraint rejected. The offending record is skippable; the store
	// itself is healthy.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrUnavailable reports a backend that cannot currently serve the
	// request. Retrying later may succeed.
	ErrUnavailable = errors.New("store unavailable")
)

// Direction selects which edge ends a neighborhood expansion follows.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	case Both:
		return "both"
	}
	return "unknown"
}

// Stats summarizes the stored graph.
type Stats struct {
	NodesByKind map[schema.NodeKind]int `json:"nodes_by_kind"`
	Edges       int                     `json:"edges"`
}

// Store is the graph persistence port.
//
// UpsertNode and UpsertEdge are idempotent: re-applying the same write leaves
// the graph unchanged. UpsertNode merges attributes non-destructively; an
// empty incoming value never erases a stored non-empty one.
type Store interface {
	// Init prepares the backend: tables, indexes, and one uniqueness
	// constraint per schema.UniquenessConstraints entry. Safe to call on
	// every startup.
	Init(ctx context.Context) error

	// UpsertNode creates the node or merges attributes into the existing
	// one. It reports whether a new node was created. A payload failing
	// schema validation returns ErrConstraintViolation.
	UpsertNode(ctx context.Context, node *graph.Node) (created bool, err error)

	// UpsertEdge creates the edge if absent. Edges outside the validity
	// lattice return ErrConstraintViolation; edges whose endpoints are not
	// stored return ErrNotFound.
	UpsertEdge(ctx context.Context, edge *graph.Edge) (created bool, err error)

	// FindNode fetches one node by identity. Missing nodes return
	// ErrNotFound.
	FindNode(ctx context.Context, ref graph.Ref) (*graph.Node, error)

	// FindNodesByName fetches every node of a kind carrying the bare name,
	// in stable full-name order. No match yields an empty slice, not an
	// error.
	FindNodesByName(ctx context.Context, kind schema.NodeKind, name string) ([]*graph.Node, error)

	// Neighbors fetches the nodes one hop from ref along rel.
	Neighbors(ctx context.Context, ref graph.Ref, rel schema.RelKind, dir Direction) ([]*graph.Node, error)

	// Traverse starts a lazy breadth-first walk from ref along the given
	// relationship kinds, bounded by maxDepth hops (0 means no reachable
	// node is visited). The start node is emitted only if a cycle leads
	// back to it. The walk fetches each level on demand; callers must
	// drain or Close the traversal.
	Traverse(ctx context.Context, ref graph.Ref, rels []schema.RelKind, dir Direction, maxDepth int) (*Traversal, error)

	// Stats reports node counts per kind and the total edge count.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// neighborLister is the slice of the Store a Traversal needs to expand
// frontiers.
type neighborLister interface {
	Neighbors(ctx context.Context, ref graph.Ref, rel schema.RelKind, dir Direction) ([]*graph.Node, error)
}

// Traversal is a lazy cursor over a breadth-first walk. Usage mirrors
// sql.Rows:
//
//	tr, err := st.Traverse(ctx, ref, rels, store.Outgoing, 8)
//	for tr.Next() {
//	    n := tr.Node()
//	    ...
//	}
//	err = tr.Err()
type Traversal struct {
	ctx      context.Context
	store    neighborLister
	rels     []schema.RelKind
	dir      Direction
	maxDepth int

	frontier []graph.Ref
	depth    int
	pending  []*graph.Node
	expanded map[graph.Ref]bool
	emitted  map[graph.Ref]bool

	current *graph.Node
	err     error
	done    bool
}

func newTraversal(ctx context.Context, st neighborLister, start graph.Ref, rels []schema.RelKind, dir Direction, maxDepth int) *Traversal {
	t := &Traversal{
		ctx:      ctx,
		store:    st,
		rels:     rels,
		dir:      dir,
		maxDepth: maxDepth,
		frontier: []graph.Ref{start},
		expanded: map[graph.Ref]bool{start: true},
		emitted:  map[graph.Ref]bool{},
	}
	if maxDepth <= 0 {
		t.done = true
	}
	return t
}

// Next advances to the next reachable node. It returns false when the walk is
// exhausted or failed; check Err afterwards.
func (t *Traversal) Next() bool {
	for {
		if t.err != nil || t.done {
			return false
		}
		if len(t.pending) > 0 {
			t.current = t.pending[0]
			t.pending = t.pending[1:]
			return true
		}
		if t.depth >= t.maxDepth || len(t.frontier) == 0 {
			t.done = true
			return false
		}
		t.expand()
	}
}

// expand fetches the next BFS level. Nodes are emitted at most once; a node
// already seen is still expanded the first time it appears, so cycles
// terminate without truncating reachability.
func (t *Traversal) expand() {
	next := make([]graph.Ref, 0, len(t.frontier))
	for _, ref := range t.frontier {
		for _, rel := range t.rels {
			nodes, err := t.store.Neighbors(t.ctx, ref, rel, t.dir)
			if err != nil {
				t.err = err
				return
			}
			for _, n := range nodes {
				nr := n.Ref()
				if !t.emitted[nr] {
					t.emitted[nr] = true
					t.pending = append(t.pending, n)
				}
				if !t.expanded[nr] {
					t.expanded[nr] = true
					next = append(next, nr)
				}
			}
		}
	}
	t.frontier = next
	t.depth++
}

// Node returns the node Next positioned on.
func (t *Traversal) Node() *graph.Node {
	return t.current
}

// Depth returns the hop distance of the current BFS level from the start.
func (t *Traversal) Depth() int {
	return t.depth
}

// Err returns the first failure encountered while expanding.
func (t *Traversal) Err() error {
	return t.err
}

// Close releases the cursor. Further Next calls return false.
func (t *Traversal) Close() error {
	t.done = true
	return nil
}
