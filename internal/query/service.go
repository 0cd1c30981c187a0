// Package query answers dependency questions over the finished code graph:
// direct callees, direct callers, and bounded transitive reachability.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"codegraph/internal/graph"
	"codegraph/internal/schema"
	"codegraph/internal/store"
)

// Options configures the query service.
type Options struct {
	// CacheSize bounds the memoized result cache. Zero disables caching.
	CacheSize int
	// MaxHops caps transitive traversals when the caller passes no bound.
	MaxHops int
	Logger  *slog.Logger
}

const defaultMaxHops = 5

// Service reads the graph. Results are memoized until Reset, which the
// indexer calls after every (re)index.
type Service struct {
	store   store.Store
	cache   *lru.Cache[string, []string]
	maxHops int
	logger  *slog.Logger
}

// New creates a Service over st.
func New(st store.Store, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxHops := opts.MaxHops
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	s := &Service{store: st, maxHops: maxHops, logger: logger}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, []string](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("query cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// CalleesOf returns the identities a callable directly calls.
func (s *Service) CalleesOf(ctx context.Context, fullName string) ([]string, error) {
	return s.oneHop(ctx, "callees", fullName, store.Outgoing)
}

// CallersOf returns the identities that directly call a callable.
func (s *Service) CallersOf(ctx context.Context, fullName string) ([]string, error) {
	return s.oneHop(ctx, "callers", fullName, store.Incoming)
}

func (s *Service) oneHop(ctx context.Context, op, fullName string, dir store.Direction) ([]string, error) {
	key := op + ":" + fullName
	if hit, ok := s.cacheGet(key); ok {
		return hit, nil
	}
	ref, err := s.lookupCallable(ctx, fullName)
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.Neighbors(ctx, ref, schema.RelCalls, dir)
	if err != nil {
		return nil, err
	}
	names := fullNames(nodes)
	s.cachePut(key, names)
	return names, nil
}

// TransitiveDependencies returns everything reachable over CALLS edges within
// maxHops of the start (maxHops <= 0 uses the configured default). Cycles
// terminate; a cycle back to the start includes the start itself.
func (s *Service) TransitiveDependencies(ctx context.Context, fullName string, maxHops int) ([]string, error) {
	if maxHops <= 0 {
		maxHops = s.maxHops
	}
	key := fmt.Sprintf("deps:%d:%s", maxHops, fullName)
	if hit, ok := s.cacheGet(key); ok {
		return hit, nil
	}
	ref, err := s.lookupCallable(ctx, fullName)
	if err != nil {
		return nil, err
	}
	tr, err := s.store.Traverse(ctx, ref, []schema.RelKind{schema.RelCalls}, store.Outgoing, maxHops)
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	names := []string{}
	for tr.Next() {
		names = append(names, tr.Node().FullName)
	}
	if err := tr.Err(); err != nil {
		return nil, err
	}
	s.cachePut(key, names)
	return names, nil
}

// lookupCallable finds the node behind a fullName: functions first, then
// methods, since both participate in CALLS edges.
func (s *Service) lookupCallable(ctx context.Context, fullName string) (graph.Ref, error) {
	for _, kind := range []schema.NodeKind{schema.KindFunction, schema.KindMethod} {
		ref := graph.Ref{Kind: kind, Key: fullName}
		if _, err := s.store.FindNode(ctx, ref); err == nil {
			return ref, nil
		} else if !isNotFound(err) {
			return graph.Ref{}, err
		}
	}
	return graph.Ref{}, fmt.Errorf("callable %q: %w", fullName, store.ErrNotFound)
}

// Reset drops every memoized result. Call after re-indexing.
func (s *Service) Reset() {
	if s.cache != nil {
		s.cache.Purge()
	}
	s.logger.Debug("query cache purged")
}

func (s *Service) cacheGet(key string) ([]string, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Service) cachePut(key string, val []string) {
	if s.cache != nil {
		s.cache.Add(key, val)
	}
}

func fullNames(nodes []*graph.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.FullName)
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
