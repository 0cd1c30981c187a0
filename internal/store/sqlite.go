package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"codegraph/internal/graph"
	"codegraph/internal/schema"
)

const ddl = `
CREATE TABLE IF NOT EXISTS nodes (
	kind       TEXT NOT NULL,
	full_name  TEXT NOT NULL,
	name       TEXT NOT NULL,
	attrs      TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (kind, full_name)
);

CREATE INDEX IF NOT EXISTS idx_nodes_kind_name ON nodes(kind, name);

CREATE TABLE IF NOT EXISTS edges (
	rel         TEXT NOT NULL,
	source_kind TEXT NOT NULL,
	source      TEXT NOT NULL,
	target_kind TEXT NOT NULL,
	target      TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL,
	UNIQUE (rel, source_kind, source, target_kind, target)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(rel, source_kind, source);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(rel, target_kind, target);
`

// SQLite is the Store adapter backed by a local SQLite database.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ Store = (*SQLite)(nil)

// Open opens (or creates) the database at path. Writes take the immediate
// transaction lock so concurrent ingest workers serialize at the database
// instead of failing mid-merge.
func Open(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLite{db: db, path: path, logger: logger}, nil
}

// Init creates the tables and declares the uniqueness constraints. Constraint
// declaration is idempotent; every startup runs it.
func (s *SQLite) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", mapSQLiteErr(err))
	}
	for _, c := range schema.UniquenessConstraints() {
		stmt := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS uniq_%s_%s ON nodes(%s) WHERE kind = '%s'",
			strings.ToLower(string(c.Kind)), strings.ToLower(c.Attr), constraintColumn(c.Attr), c.Kind,
		)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("declare constraint %s.%s: %w", c.Kind, c.Attr, mapSQLiteErr(err))
		}
	}
	s.logger.Debug("graph store ready", "path", s.path)
	return nil
}

func constraintColumn(attr string) string {
	if attr == "fullName" {
		return "full_name"
	}
	return attr
}

// UpsertNode validates the payload, then creates the node or merges into the
// stored one. The merge never lets an empty incoming value erase a stored
// non-empty one.
func (s *SQLite) UpsertNode(ctx context.Context, node *graph.Node) (bool, error) {
	if err := schema.ValidateNode(node.Kind, node.Name, node.FullName, node.Attrs); err != nil {
		return false, fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, mapSQLiteErr(err)
	}
	defer tx.Rollback()

	var (
		storedName  string
		storedAttrs string
	)
	now := time.Now().UTC()
	err = tx.QueryRowContext(ctx,
		"SELECT name, attrs FROM nodes WHERE kind = ? AND full_name = ?",
		node.Kind, node.FullName,
	).Scan(&storedName, &storedAttrs)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		raw, err := json.Marshal(node.Attrs)
		if err != nil {
			return false, fmt.Errorf("encode attrs: %w", err)
		}
		ts := now.Format(time.RFC3339Nano)
		_, err = tx.ExecContext(ctx,
			"INSERT INTO nodes (kind, full_name, name, attrs, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			node.Kind, node.FullName, node.Name, string(raw), ts, ts,
		)
		if err != nil {
			return false, mapSQLiteErr(err)
		}
		if err := tx.Commit(); err != nil {
			return false, mapSQLiteErr(err)
		}
		node.CreatedAt, node.UpdatedAt = now, now
		return true, nil

	case err != nil:
		return false, mapSQLiteErr(err)
	}

	existing := map[string]any{}
	if err := json.Unmarshal([]byte(storedAttrs), &existing); err != nil {
		return false, fmt.Errorf("decode stored attrs for %s: %w", node.FullName, err)
	}
	merged, changed := mergeAttrs(existing, node.Attrs)
	name := storedName
	if node.Name != "" && node.Name != storedName {
		name = node.Name
		changed = true
	}
	if changed {
		raw, err := json.Marshal(merged)
		if err != nil {
			return false, fmt.Errorf("encode attrs: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE nodes SET name = ?, attrs = ?, updated_at = ? WHERE kind = ? AND full_name = ?",
			name, string(raw), now.Format(time.RFC3339Nano), node.Kind, node.FullName,
		)
		if err != nil {
			return false, mapSQLiteErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, mapSQLiteErr(err)
	}
	node.Name = name
	node.Attrs = merged
	return false, nil
}

// mergeAttrs folds incoming attributes into existing ones. Incoming non-empty
// values win; incoming empty values only fill gaps.
func mergeAttrs(existing, incoming map[string]any) (map[string]any, bool) {
	changed := false
	for k, v := range incoming {
		old, ok := existing[k]
		if emptyValue(v) {
			if !ok {
				existing[k] = v
				changed = true
			}
			continue
		}
		if !ok || !equalValue(old, v) {
			existing[k] = v
			changed = true
		}
	}
	return existing, changed
}

func emptyValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Int, reflect.Int64, reflect.Float64:
		// Zero linenos and sizes come from stub payloads, not real data.
		return rv.IsZero()
	}
	return false
}

// equalValue compares an attribute that went through a JSON round trip with a
// freshly built one.
func equalValue(a, b any) bool {
	ra, err1 := json.Marshal(a)
	rb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ra) == string(rb)
}

// UpsertEdge creates the edge if absent. Re-creating an existing edge is a
// no-op reported as created=false.
func (s *SQLite) UpsertEdge(ctx context.Context, edge *graph.Edge) (bool, error) {
	if !schema.IsValidEdge(edge.Rel, edge.Source.Kind, edge.Target.Kind) {
		invalid := &schema.InvalidEdgeError{Rel: edge.Rel, Src: edge.Source.Kind, Dst: edge.Target.Kind}
		return false, fmt.Errorf("%w: %w", ErrConstraintViolation, invalid)
	}
	for _, ref := range []graph.Ref{edge.Source, edge.Target} {
		ok, err := s.nodeExists(ctx, ref)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("%w: edge endpoint %s %q", ErrNotFound, ref.Kind, ref.Key)
		}
	}

	raw, err := json.Marshal(edge.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO edges (rel, source_kind, source, target_kind, target, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		edge.Rel, edge.Source.Kind, edge.Source.Key, edge.Target.Kind, edge.Target.Key,
		string(raw), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, mapSQLiteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapSQLiteErr(err)
	}
	if n > 0 {
		edge.CreatedAt = now
	}
	return n > 0, nil
}

func (s *SQLite) nodeExists(ctx context.Context, ref graph.Ref) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM nodes WHERE kind = ? AND full_name = ?", ref.Kind, ref.Key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapSQLiteErr(err)
	}
	return true, nil
}

const nodeColumns = "kind, full_name, name, attrs, created_at, updated_at"

// FindNode fetches one node by identity.
func (s *SQLite) FindNode(ctx context.Context, ref graph.Ref) (*graph.Node, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM nodes WHERE kind = ? AND full_name = ?",
		ref.Kind, ref.Key,
	)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, ref.Kind, ref.Key)
	}
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	return node, nil
}

// FindNodesByName fetches every node of a kind with the bare name, in stable
// full-name order.
func (s *SQLite) FindNodesByName(ctx context.Context, kind schema.NodeKind, name string) ([]*graph.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+nodeColumns+" FROM nodes WHERE kind = ? AND name = ? ORDER BY full_name",
		kind, name,
	)
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	defer rows.Close()
	return collectNodes(rows)
}

// Neighbors fetches the nodes one hop from ref along rel. Results come back
// in edge insertion order, which downstream resolution relies on for
// deterministic tie handling.
func (s *SQLite) Neighbors(ctx context.Context, ref graph.Ref, rel schema.RelKind, dir Direction) ([]*graph.Node, error) {
	const qualified = "n.kind, n.full_name, n.name, n.attrs, n.created_at, n.updated_at"
	var out []*graph.Node
	if dir == Outgoing || dir == Both {
		nodes, err := s.neighborQuery(ctx, ref, rel,
			`SELECT `+qualified+`
			 FROM edges e JOIN nodes n ON n.kind = e.target_kind AND n.full_name = e.target
			 WHERE e.rel = ? AND e.source_kind = ? AND e.source = ?
			 ORDER BY e.rowid`)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	if dir == Incoming || dir == Both {
		nodes, err := s.neighborQuery(ctx, ref, rel,
			`SELECT `+qualified+`
			 FROM edges e JOIN nodes n ON n.kind = e.source_kind AND n.full_name = e.source
			 WHERE e.rel = ? AND e.target_kind = ? AND e.target = ?
			 ORDER BY e.rowid`)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

func (s *SQLite) neighborQuery(ctx context.Context, ref graph.Ref, rel schema.RelKind, query string) ([]*graph.Node, error) {
	rows, err := s.db.QueryContext(ctx, query, rel, ref.Kind, ref.Key)
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	defer rows.Close()
	return collectNodes(rows)
}

// Traverse starts a lazy bounded breadth-first walk from ref.
func (s *SQLite) Traverse(ctx context.Context, ref graph.Ref, rels []schema.RelKind, dir Direction, maxDepth int) (*Traversal, error) {
	if _, err := s.FindNode(ctx, ref); err != nil {
		return nil, err
	}
	return newTraversal(ctx, s, ref, rels, dir, maxDepth), nil
}

// Stats reports node counts per kind and the total edge count.
func (s *SQLite) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{NodesByKind: map[schema.NodeKind]int{}}
	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM nodes GROUP BY kind")
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind schema.NodeKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, mapSQLiteErr(err)
		}
		stats.NodesByKind[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM edges").Scan(&stats.Edges); err != nil {
		return nil, mapSQLiteErr(err)
	}
	return stats, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*graph.Node, error) {
	var (
		node                 graph.Node
		attrs                string
		createdAt, updatedAt string
	)
	if err := row.Scan(&node.Kind, &node.FullName, &node.Name, &attrs, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrs), &node.Attrs); err != nil {
		return nil, fmt.Errorf("decode attrs for %s: %w", node.FullName, err)
	}
	node.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	node.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &node, nil
}

func collectNodes(rows *sql.Rows) ([]*graph.Node, error) {
	out := []*graph.Node{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, mapSQLiteErr(err)
		}
		out = append(out, node)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err)
	}
	return out, nil
}

// mapSQLiteErr folds driver failures onto the port's sentinel errors so
// callers never match on backend specifics.
func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
		}
	}
	return err
}
