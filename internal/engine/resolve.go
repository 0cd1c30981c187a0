package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"codegraph/internal/extract"
	"codegraph/internal/graph"
	"codegraph/internal/schema"
	"codegraph/internal/store"
)

// ResolveSummary counts the effects of the call-resolution pass.
type ResolveSummary struct {
	Resolved     int `json:"resolved"`
	Unresolved   int `json:"unresolved"`
	EdgesCreated int `json:"edges_created"`
	EdgesKept    int `json:"edges_kept"`
}

// candidate is one resolvable callee definition.
type candidate struct {
	ref  graph.Ref
	path string
}

// ResolveCalls links CALLS edges for every raw callee token across all
// ingested files. It must run after ingestion finishes, so every candidate
// node already exists.
//
// Matching is a documented heuristic, not semantic resolution: a bare token
// matches the same-named function in the caller's file first, then (when
// cross-file resolution is enabled) the same-named function anywhere,
// preferring the candidate whose identity shares the longest prefix with the
// caller's path. self/cls attribute calls resolve to sibling methods. Every
// other dotted token targets an object the extractor cannot see into and is
// dropped.
func (e *Engine) ResolveCalls(ctx context.Context, results map[string]*extract.Result) (*ResolveSummary, error) {
	sum := &ResolveSummary{}
	index := buildCandidateIndex(results)

	paths := make([]string, 0, len(results))
	for path := range results {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		res := results[path]
		for _, fn := range res.Functions {
			caller := graph.Ref{Kind: schema.KindFunction, Key: schema.FunctionKey(path, fn.Name)}
			if err := e.resolveCaller(ctx, sum, index, caller, path, "", nil, fn.Calls); err != nil {
				return sum, fmt.Errorf("resolve calls in %s: %w", path, err)
			}
		}
		for _, cls := range res.Classes {
			siblings := methodSet(cls)
			for _, m := range cls.Methods {
				caller := graph.Ref{Kind: schema.KindMethod, Key: schema.MethodKey(path, cls.Name, m.Name)}
				if err := e.resolveCaller(ctx, sum, index, caller, path, cls.Name, siblings, m.Calls); err != nil {
					return sum, fmt.Errorf("resolve calls in %s: %w", path, err)
				}
			}
		}
	}
	return sum, nil
}

// buildCandidateIndex maps bare function names to their definitions, in
// deterministic encounter order (files sorted by path, records in file
// order). The order is what makes the tie-break reproducible.
func buildCandidateIndex(results map[string]*extract.Result) map[string][]candidate {
	paths := make([]string, 0, len(results))
	for path := range results {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	index := map[string][]candidate{}
	for _, path := range paths {
		for _, fn := range results[path].Functions {
			index[fn.Name] = append(index[fn.Name], candidate{
				ref:  graph.Ref{Kind: schema.KindFunction, Key: schema.FunctionKey(path, fn.Name)},
				path: path,
			})
		}
	}
	return index
}

func (e *Engine) resolveCaller(ctx context.Context, sum *ResolveSummary, index map[string][]candidate,
	caller graph.Ref, path, className string, siblings map[string]bool, tokens []string) error {

	for _, token := range tokens {
		target, resolution := e.resolveToken(index, path, className, siblings, token)
		if target == nil {
			e.logger.Debug("unresolved call", "caller", caller.Key, "token", token)
			sum.Unresolved++
			continue
		}
		created, err := e.store.UpsertEdge(ctx, &graph.Edge{
			Rel:      schema.RelCalls,
			Source:   caller,
			Target:   *target,
			Metadata: map[string]any{"resolution": resolution},
		})
		if err != nil {
			// An endpoint whose record was skipped during ingestion, or an
			// edge outside the lattice, drops this token only. The pass
			// aborts solely on store-level failures.
			var invalid *schema.InvalidEdgeError
			if errors.Is(err, store.ErrNotFound) || errors.As(err, &invalid) {
				e.logger.Debug("dropping call edge", "caller", caller.Key, "token", token, "err", err)
				sum.Unresolved++
				continue
			}
			return err
		}
		sum.Resolved++
		if created {
			sum.EdgesCreated++
		} else {
			sum.EdgesKept++
		}
	}
	return nil
}

// resolveToken maps one raw callee token to a node reference, or nil when the
// heuristic cannot place it.
func (e *Engine) resolveToken(index map[string][]candidate, path, className string, siblings map[string]bool, token string) (*graph.Ref, string) {
	if recv, attr, ok := strings.Cut(token, "."); ok {
		if (recv == "self" || recv == "cls") && className != "" && siblings[attr] {
			return &graph.Ref{Kind: schema.KindMethod, Key: schema.MethodKey(path, className, attr)}, "receiver"
		}
		return nil, ""
	}

	candidates := index[token]
	for _, c := range candidates {
		if c.path == path {
			return &c.ref, "same-file"
		}
	}
	if !e.crossFile || len(candidates) == 0 {
		return nil, ""
	}

	best := candidates[0]
	bestScore := commonPrefixLen(best.ref.Key, path)
	for _, c := range candidates[1:] {
		if score := commonPrefixLen(c.ref.Key, path); score > bestScore {
			best, bestScore = c, score
		}
	}
	return &best.ref, "cross-file"
}

func methodSet(cls extract.Class) map[string]bool {
	set := make(map[string]bool, len(cls.Methods))
	for _, m := range cls.Methods {
		set[m.Name] = true
	}
	return set
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
