// Package engine turns per-file extraction results into idempotent graph
// writes: one ingestion pass per file, then a global call-resolution pass once
// every file's nodes exist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codegraph/internal/extract"
	"codegraph/internal/graph"
	"codegraph/internal/schema"
	"codegraph/internal/store"
)

// Options configures construction behavior.
type Options struct {
	// CrossFileCalls permits call resolution to fall back to a global
	// name match when the callee is not defined in the caller's file.
	CrossFileCalls bool
	Logger         *slog.Logger
}

// Engine builds the code graph. It holds no state between calls; repeated
// ingestion of an unchanged file converges on the same graph.
type Engine struct {
	store     store.Store
	logger    *slog.Logger
	crossFile bool
}

// New creates an Engine writing through st.
func New(st store.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, logger: logger, crossFile: opts.CrossFileCalls}
}

// IngestSummary counts the effects of one file's ingestion.
type IngestSummary struct {
	NodesCreated int `json:"nodes_created"`
	NodesUpdated int `json:"nodes_updated"`
	EdgesCreated int `json:"edges_created"`
	EdgesKept    int `json:"edges_kept"`
	Skipped      int `json:"skipped"`
}

// Add folds another summary into s.
func (s *IngestSummary) Add(o IngestSummary) {
	s.NodesCreated += o.NodesCreated
	s.NodesUpdated += o.NodesUpdated
	s.EdgesCreated += o.EdgesCreated
	s.EdgesKept += o.EdgesKept
	s.Skipped += o.Skipped
}

// IngestFile upserts the file's nodes and structural edges. A record failing
// schema validation is skipped and counted; a store failure aborts the file
// and is returned to the caller, who may retry the whole file.
func (e *Engine) IngestFile(ctx context.Context, file graph.FileAttrs, res *extract.Result) (*IngestSummary, error) {
	sum := &IngestSummary{}
	path := file.Path

	fileRef, err := e.upsertNode(ctx, sum, &graph.Node{
		Kind:     schema.KindFile,
		FullName: schema.FileKey(path),
		Name:     path,
		Attrs:    file.Map(),
	})
	if err != nil {
		return sum, fmt.Errorf("ingest %s: %w", path, err)
	}
	if fileRef == nil {
		// A file node the schema rejects leaves nothing to attach to.
		return sum, nil
	}

	if err := e.ingestFunctions(ctx, sum, path, *fileRef, res.Functions); err != nil {
		return sum, fmt.Errorf("ingest %s: %w", path, err)
	}
	if err := e.ingestClasses(ctx, sum, path, *fileRef, res.Classes); err != nil {
		return sum, fmt.Errorf("ingest %s: %w", path, err)
	}
	if err := e.ingestImports(ctx, sum, path, *fileRef, res.Imports); err != nil {
		return sum, fmt.Errorf("ingest %s: %w", path, err)
	}
	return sum, nil
}

func (e *Engine) ingestFunctions(ctx context.Context, sum *IngestSummary, path string, fileRef graph.Ref, fns []extract.Function) error {
	for _, fn := range fns {
		ref, err := e.upsertNode(ctx, sum, &graph.Node{
			Kind:     schema.KindFunction,
			FullName: schema.FunctionKey(path, fn.Name),
			Name:     fn.Name,
			Attrs:    functionAttrs(fn).Map(),
		})
		if err != nil {
			return err
		}
		if ref == nil {
			continue
		}
		if err := e.upsertEdge(ctx, sum, schema.RelContains, fileRef, *ref, nil); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) ingestClasses(ctx context.Context, sum *IngestSummary, path string, fileRef graph.Ref, classes []extract.Class) error {
	for _, cls := range classes {
		attrs := graph.ClassAttrs{
			Bases:      cls.Bases,
			Docstring:  cls.Docstring,
			Lineno:     cls.Lineno,
			Methods:    methodNames(cls),
			IsAbstract: cls.IsAbstract,
		}
		ref, err := e.upsertNode(ctx, sum, &graph.Node{
			Kind:     schema.KindClass,
			FullName: schema.ClassKey(path, cls.Name),
			Name:     cls.Name,
			Attrs:    attrs.Map(),
		})
		if err != nil {
			return err
		}
		if ref == nil {
			continue
		}
		if err := e.upsertEdge(ctx, sum, schema.RelContains, fileRef, *ref, nil); err != nil {
			return err
		}
		if err := e.ingestBases(ctx, sum, *ref, cls.Bases); err != nil {
			return err
		}
		if err := e.enrichStub(ctx, sum, cls.Name, attrs); err != nil {
			return err
		}
		if err := e.ingestMethods(ctx, sum, path, *ref, cls); err != nil {
			return err
		}
	}
	return nil
}

// ingestBases upserts one stub Class per base name and links INHERITS edges.
// Base identity is the bare name: without import resolution the defining file
// is unknown, so the reference stays visible as an explicit stub instead of
// being dropped. When a same-named definition is already in the graph, its
// attributes are copied onto the stub right away; enrichStub covers the
// opposite ingestion order, so the result is the same whichever file lands
// first.
func (e *Engine) ingestBases(ctx context.Context, sum *IngestSummary, classRef graph.Ref, bases []string) error {
	for _, base := range bases {
		if base == "" {
			continue
		}
		stubRef, err := e.upsertNode(ctx, sum, &graph.Node{
			Kind:     schema.KindClass,
			FullName: base,
			Name:     base,
			Attrs:    graph.ClassAttrs{Bases: []string{}}.Map(),
		})
		if err != nil {
			return err
		}
		if stubRef == nil {
			continue
		}
		defs, err := e.store.FindNodesByName(ctx, schema.KindClass, base)
		if err != nil {
			return err
		}
		for _, def := range defs {
			if def.FullName == base {
				continue
			}
			if _, err := e.upsertNode(ctx, sum, &graph.Node{
				Kind:     schema.KindClass,
				FullName: base,
				Name:     base,
				Attrs:    def.Attrs,
			}); err != nil {
				return err
			}
			break
		}
		if err := e.upsertEdge(ctx, sum, schema.RelInherits, classRef, *stubRef, nil); err != nil {
			return err
		}
	}
	return nil
}

// enrichStub copies a freshly ingested class's attributes onto the bare-name
// stub of the same name, if one exists. Edges created against the stub before
// this file was processed then point at a populated node.
func (e *Engine) enrichStub(ctx context.Context, sum *IngestSummary, name string, attrs graph.ClassAttrs) error {
	stubRef := graph.Ref{Kind: schema.KindClass, Key: name}
	if _, err := e.store.FindNode(ctx, stubRef); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err := e.upsertNode(ctx, sum, &graph.Node{
		Kind:     schema.KindClass,
		FullName: name,
		Name:     name,
		Attrs:    attrs.Map(),
	})
	return err
}

func (e *Engine) ingestMethods(ctx context.Context, sum *IngestSummary, path string, classRef graph.Ref, cls extract.Class) error {
	for _, m := range cls.Methods {
		ref, err := e.upsertNode(ctx, sum, &graph.Node{
			Kind:     schema.KindMethod,
			FullName: schema.MethodKey(path, cls.Name, m.Name),
			Name:     m.Name,
			Attrs:    functionAttrs(m).Map(),
		})
		if err != nil {
			return err
		}
		if ref == nil {
			continue
		}
		if err := e.upsertEdge(ctx, sum, schema.RelDefines, classRef, *ref, nil); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) ingestImports(ctx context.Context, sum *IngestSummary, path string, fileRef graph.Ref, imports []extract.Import) error {
	for _, imp := range imports {
		ref, err := e.upsertNode(ctx, sum, &graph.Node{
			Kind:     schema.KindImport,
			FullName: schema.ImportKey(path, imp.Name),
			Name:     imp.Name,
			Attrs: graph.ImportAttrs{
				Module: imp.Module,
				Asname: imp.Asname,
				Type:   imp.Type,
				Lineno: imp.Lineno,
			}.Map(),
		})
		if err != nil {
			return err
		}
		if ref == nil {
			continue
		}
		if err := e.upsertEdge(ctx, sum, schema.RelContains, fileRef, *ref, nil); err != nil {
			return err
		}
		if err := e.upsertEdge(ctx, sum, schema.RelImports, fileRef, *ref, nil); err != nil {
			return err
		}
	}
	return nil
}

// upsertNode writes one node and classifies the outcome. A schema violation
// skips the record (nil ref, nil error); anything else is fatal for the file.
func (e *Engine) upsertNode(ctx context.Context, sum *IngestSummary, node *graph.Node) (*graph.Ref, error) {
	created, err := e.store.UpsertNode(ctx, node)
	if err != nil {
		var violation *schema.ViolationError
		if errors.As(err, &violation) {
			e.logger.Warn("skipping record", "kind", node.Kind, "full_name", node.FullName, "err", err)
			sum.Skipped++
			return nil, nil
		}
		return nil, err
	}
	if created {
		sum.NodesCreated++
	} else {
		sum.NodesUpdated++
	}
	ref := node.Ref()
	return &ref, nil
}

// upsertEdge writes one edge; an edge outside the lattice is skipped, not
// fatal.
func (e *Engine) upsertEdge(ctx context.Context, sum *IngestSummary, rel schema.RelKind, src, dst graph.Ref, metadata map[string]any) error {
	created, err := e.store.UpsertEdge(ctx, &graph.Edge{Rel: rel, Source: src, Target: dst, Metadata: metadata})
	if err != nil {
		var invalid *schema.InvalidEdgeError
		if errors.As(err, &invalid) {
			e.logger.Warn("skipping edge", "rel", rel, "source", src.Key, "target", dst.Key, "err", err)
			sum.Skipped++
			return nil
		}
		return err
	}
	if created {
		sum.EdgesCreated++
	} else {
		sum.EdgesKept++
	}
	return nil
}

func functionAttrs(fn extract.Function) graph.FunctionAttrs {
	return graph.FunctionAttrs{
		Args:      fn.Args,
		Returns:   fn.Returns,
		Docstring: fn.Docstring,
		Lineno:    fn.Lineno,
		IsAsync:   fn.IsAsync,
	}
}

func methodNames(cls extract.Class) []string {
	names := make([]string, 0, len(cls.Methods))
	for _, m := range cls.Methods {
		names = append(names, m.Name)
	}
	return names
}
