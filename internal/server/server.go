// Package server exposes the code graph to assistants over MCP: indexing,
// symbol lookup, and dependency queries as tools, plus usage guidance as
// resources.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"codegraph/internal/config"
	"codegraph/internal/engine"
	"codegraph/internal/indexer"
	"codegraph/internal/query"
	"codegraph/internal/store"
)

// IndexStatus tracks the lifecycle of the workspace index.
type IndexStatus string

const (
	IndexStatusNone       IndexStatus = "none"
	IndexStatusInProgress IndexStatus = "in_progress"
	IndexStatusReady      IndexStatus = "ready"
	IndexStatusFailed     IndexStatus = "failed"
)

const serverVersion = "0.1.0"

// Server wires the graph stack behind an MCP stdio surface.
type Server struct {
	mcpServer *mcp.Server
	root      string
	cfg       *config.Config
	store     store.Store
	indexer   *indexer.Indexer
	queries   *query.Service
	logger    *slog.Logger

	indexMu       sync.RWMutex
	indexStatus   IndexStatus
	indexErr      error
	indexDuration time.Duration
	indexReady    chan struct{}
	lastReport    *indexer.Report
}

// New assembles a Server over the repository at root.
func New(root string, cfg *config.Config, st store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	eng := engine.New(st, engine.Options{
		CrossFileCalls: cfg.Resolver.CrossFile,
		Logger:         logger,
	})
	queries, err := query.New(st, query.Options{
		CacheSize: cfg.Query.CacheSize,
		MaxHops:   cfg.Query.MaxHops,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    "codegraph",
			Version: serverVersion,
		}, nil),
		root:        root,
		cfg:         cfg,
		store:       st,
		indexer:     indexer.New(eng, indexer.Options{Workers: cfg.Index.Workers, Logger: logger}),
		queries:     queries,
		logger:      logger,
		indexStatus: IndexStatusNone,
		indexReady:  make(chan struct{}),
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run indexes the workspace in the background and serves MCP on stdio until
// ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	go s.runIndex(ctx)
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// runIndex performs one index pass, tracking status for the gating tools.
func (s *Server) runIndex(ctx context.Context) {
	s.indexMu.RLock()
	inProgress := s.indexStatus == IndexStatusInProgress
	s.indexMu.RUnlock()
	if inProgress {
		return
	}

	s.indexMu.Lock()
	if s.indexStatus == IndexStatusReady || s.indexStatus == IndexStatusFailed {
		s.indexReady = make(chan struct{})
	}
	s.indexStatus = IndexStatusInProgress
	s.indexErr = nil
	s.indexMu.Unlock()

	start := time.Now()
	report, err := s.indexer.IndexDir(ctx, s.root)
	s.queries.Reset()

	s.indexMu.Lock()
	s.indexDuration = time.Since(start)
	s.lastReport = report
	if err != nil {
		s.indexStatus = IndexStatusFailed
		s.indexErr = err
		s.logger.Error("index failed", "root", s.root, "err", err)
	} else {
		s.indexStatus = IndexStatusReady
	}
	close(s.indexReady)
	s.indexMu.Unlock()
}

// GetIndexStatus returns the current status, the failure if any, and the
// duration of the last completed run.
func (s *Server) GetIndexStatus() (IndexStatus, error, time.Duration) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return s.indexStatus, s.indexErr, s.indexDuration
}

// WaitForIndex blocks until the current index pass finishes or ctx expires.
func (s *Server) WaitForIndex(ctx context.Context) error {
	s.indexMu.RLock()
	ready := s.indexReady
	status := s.indexStatus
	s.indexMu.RUnlock()

	if status == IndexStatusReady {
		return nil
	}
	if status == IndexStatusFailed {
		return fmt.Errorf("indexing failed")
	}
	select {
	case <-ready:
		_, err, _ := s.GetIndexStatus()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
