// Package indexer drives a full index run: walk the repository, extract each
// Python file on a worker pool, ingest the results, then resolve calls once
// every file is in.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codegraph/internal/engine"
	"codegraph/internal/extract"
	"codegraph/internal/graph"
	"codegraph/internal/walker"
	"codegraph/util"
)

// Options configures an index run.
type Options struct {
	// Workers bounds concurrent per-file ingestion. Zero means one.
	Workers int
	Logger  *slog.Logger
}

// Report summarizes one index run. Failed maps file paths to the reason their
// ingestion was abandoned; sibling files are unaffected.
type Report struct {
	Root     string                `json:"root"`
	Files    int                   `json:"files"`
	Failed   map[string]string     `json:"failed,omitempty"`
	Ingest   engine.IngestSummary  `json:"ingest"`
	Resolve  engine.ResolveSummary `json:"resolve"`
	Duration time.Duration         `json:"duration"`
}

// Indexer orchestrates batch graph construction.
type Indexer struct {
	engine  *engine.Engine
	workers int
	logger  *slog.Logger
}

// New creates an Indexer over eng.
func New(eng *engine.Engine, opts Options) *Indexer {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{engine: eng, workers: workers, logger: logger}
}

// IndexDir indexes every Python file under root. Per-file ingestion runs on
// the worker pool; call resolution starts only after the pool drains, since
// it needs the complete node set.
func (ix *Indexer) IndexDir(ctx context.Context, root string) (*Report, error) {
	start := time.Now()
	files, err := walker.Find(root)
	if err != nil {
		return nil, err
	}

	report := &Report{Root: root, Files: len(files), Failed: map[string]string{}}
	results := make(map[string]*extract.Result, len(files))

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan string)
	)
	for i := 0; i < ix.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// tree-sitter parsers are single-threaded; one per worker.
			ex := extract.New()
			defer ex.Close()
			for rel := range jobs {
				res, sum, err := ix.ingestOne(ctx, ex, root, rel)
				mu.Lock()
				if err != nil {
					report.Failed[rel] = err.Error()
				} else {
					results[rel] = res
					report.Ingest.Add(*sum)
				}
				mu.Unlock()
			}
		}()
	}

	for _, rel := range files {
		select {
		case jobs <- rel:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return report, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	rsum, err := ix.engine.ResolveCalls(ctx, results)
	if err != nil {
		return report, fmt.Errorf("resolve calls: %w", err)
	}
	report.Resolve = *rsum
	report.Duration = time.Since(start)
	ix.logger.Info("index complete",
		"root", root,
		"files", report.Files,
		"failed", len(report.Failed),
		"nodes_created", report.Ingest.NodesCreated,
		"edges_created", report.Ingest.EdgesCreated+report.Resolve.EdgesCreated,
		"unresolved_calls", report.Resolve.Unresolved,
		"duration", report.Duration)
	return report, nil
}

// ingestOne extracts and ingests a single file.
func (ix *Indexer) ingestOne(ctx context.Context, ex *extract.Extractor, root, rel string) (*extract.Result, *engine.IngestSummary, error) {
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, nil, fmt.Errorf("read: %w", err)
	}
	res := ex.Extract(content)
	if res.Err != "" {
		return nil, nil, fmt.Errorf("extract: %s", res.Err)
	}
	attrs := graph.FileAttrs{
		Path:     rel,
		Size:     int64(len(content)),
		Hash:     util.Digest(content),
		Language: "python",
	}
	sum, err := ix.engine.IngestFile(ctx, attrs, res)
	if err != nil {
		return nil, nil, err
	}
	if sum.Skipped > 0 {
		ix.logger.Warn("records skipped", "file", rel, "skipped", sum.Skipped)
	}
	return res, sum, nil
}
