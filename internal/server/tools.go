package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"codegraph/internal/graph"
	"codegraph/internal/schema"
	"codegraph/internal/store"
)

// Argument structs

type IndexArgs struct {
	Force bool `json:"force" jsonschema:"description:Re-index even if the graph is already built"`
}

type IndexStatusArgs struct{}

type SymbolsInFileArgs struct {
	FilePath string `json:"file_path" jsonschema:"required,description:Repository-relative path of the file"`
}

type CalleesArgs struct {
	FullName string `json:"full_name" jsonschema:"required,description:Identity of the function or method, e.g. pkg/mod.py::func"`
}

type CallersArgs struct {
	FullName string `json:"full_name" jsonschema:"required,description:Identity of the function or method, e.g. pkg/mod.py::func"`
}

type DependenciesArgs struct {
	FullName string `json:"full_name" jsonschema:"required,description:Identity of the function or method to start from"`
	MaxHops  int    `json:"max_hops" jsonschema:"description:Traversal bound; defaults to the configured maximum"`
}

type GetSymbolArgs struct {
	Name       string `json:"name" jsonschema:"required,description:Full identity (path::name) or bare symbol name"`
	WithSource bool   `json:"with_source" jsonschema:"description:Include the symbol's source block in the response"`
}

const indexWaitTimeout = 30 * time.Second

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "index",
		Description: "Builds or refreshes the code knowledge graph for the workspace",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args IndexArgs) (*mcp.CallToolResult, any, error) {
		status, _, _ := s.GetIndexStatus()
		if status == IndexStatusInProgress {
			return errorResult("Indexing already in progress"), nil, nil
		}
		if status == IndexStatusReady && !args.Force {
			return textResult("Index already built; pass force=true to rebuild"), nil, nil
		}

		s.runIndex(ctx)
		_, err, duration := s.GetIndexStatus()
		if err != nil {
			return errorResult(fmt.Sprintf("Indexing failed: %v", err)), nil, nil
		}
		s.indexMu.RLock()
		report := s.lastReport
		s.indexMu.RUnlock()
		msg := fmt.Sprintf("Indexed %d files (%d failed) in %.2fs: %d nodes and %d edges created, %d calls unresolved",
			report.Files, len(report.Failed), duration.Seconds(),
			report.Ingest.NodesCreated,
			report.Ingest.EdgesCreated+report.Resolve.EdgesCreated,
			report.Resolve.Unresolved)
		return textResult(msg), nil, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "index_status",
		Description: "Returns the current indexing status of the workspace",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args IndexStatusArgs) (*mcp.CallToolResult, any, error) {
		status, err, duration := s.GetIndexStatus()
		result := map[string]any{"status": string(status)}
		if duration > 0 {
			result["duration_seconds"] = duration.Seconds()
		}
		if err != nil {
			result["error"] = err.Error()
		}
		s.indexMu.RLock()
		if s.lastReport != nil {
			result["files"] = s.lastReport.Files
			result["failed_files"] = len(s.lastReport.Failed)
		}
		s.indexMu.RUnlock()
		if stats, statsErr := s.store.Stats(ctx); statsErr == nil {
			result["nodes_by_kind"] = stats.NodesByKind
			result["edges"] = stats.Edges
		}
		return jsonResult(result), nil, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "symbols_in_file",
		Description: "Lists the functions, classes, methods, and imports of a file",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args SymbolsInFileArgs) (*mcp.CallToolResult, any, error) {
		if result := s.gateOnIndex(ctx); result != nil {
			return result, nil, nil
		}
		fileRef := graph.Ref{Kind: schema.KindFile, Key: args.FilePath}
		children, err := s.store.Neighbors(ctx, fileRef, schema.RelContains, store.Outgoing)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errorResult(fmt.Sprintf("File not indexed: %s", args.FilePath)), nil, nil
			}
			return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
		}

		type symbol struct {
			Name     string `json:"name"`
			Kind     string `json:"kind"`
			FullName string `json:"full_name"`
			Lineno   any    `json:"lineno,omitempty"`
		}
		var symbols []symbol
		appendNode := func(n *graph.Node) {
			symbols = append(symbols, symbol{
				Name:     n.Name,
				Kind:     string(n.Kind),
				FullName: n.FullName,
				Lineno:   n.Attrs["lineno"],
			})
		}
		for _, n := range children {
			appendNode(n)
			if n.Kind != schema.KindClass {
				continue
			}
			methods, err := s.store.Neighbors(ctx, n.Ref(), schema.RelDefines, store.Outgoing)
			if err != nil {
				return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
			}
			for _, m := range methods {
				appendNode(m)
			}
		}
		if len(symbols) == 0 {
			return textResult("No symbols found."), nil, nil
		}
		return jsonResult(symbols), nil, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "callees",
		Description: "Lists the functions a function or method directly calls",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args CalleesArgs) (*mcp.CallToolResult, any, error) {
		if result := s.gateOnIndex(ctx); result != nil {
			return result, nil, nil
		}
		return s.namesResult(s.queries.CalleesOf(ctx, args.FullName))
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "callers",
		Description: "Lists the functions that directly call a function or method",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args CallersArgs) (*mcp.CallToolResult, any, error) {
		if result := s.gateOnIndex(ctx); result != nil {
			return result, nil, nil
		}
		return s.namesResult(s.queries.CallersOf(ctx, args.FullName))
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "dependencies",
		Description: "Lists everything transitively reachable over call edges from a function",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args DependenciesArgs) (*mcp.CallToolResult, any, error) {
		if result := s.gateOnIndex(ctx); result != nil {
			return result, nil, nil
		}
		return s.namesResult(s.queries.TransitiveDependencies(ctx, args.FullName, args.MaxHops))
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_symbol",
		Description: "Finds a symbol's attributes and optionally its source block",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args GetSymbolArgs) (*mcp.CallToolResult, any, error) {
		if result := s.gateOnIndex(ctx); result != nil {
			return result, nil, nil
		}
		nodes, err := s.lookupSymbol(ctx, args.Name)
		if err != nil {
			return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
		}
		if len(nodes) == 0 {
			return textResult("Symbol not found."), nil, nil
		}

		type symbolInfo struct {
			*graph.Node
			Source string `json:"source,omitempty"`
		}
		var info []symbolInfo
		for _, n := range nodes {
			si := symbolInfo{Node: n}
			if args.WithSource {
				source, err := s.readSource(n)
				if err != nil {
					s.logger.Warn("source unavailable", "symbol", n.FullName, "err", err)
				} else {
					si.Source = source
				}
			}
			info = append(info, si)
		}
		return jsonResult(info), nil, nil
	})
}

// gateOnIndex waits for the index to become usable; a non-nil result is the
// error to return to the client.
func (s *Server) gateOnIndex(ctx context.Context) *mcp.CallToolResult {
	waitCtx, cancel := context.WithTimeout(ctx, indexWaitTimeout)
	defer cancel()
	if err := s.WaitForIndex(waitCtx); err != nil {
		status, indexErr, _ := s.GetIndexStatus()
		if indexErr != nil {
			return errorResult(fmt.Sprintf("Indexing failed: %v", indexErr))
		}
		if status == IndexStatusInProgress {
			return errorResult("Indexing in progress, please try again")
		}
		return errorResult(fmt.Sprintf("Indexing wait failed: %v", err))
	}
	return nil
}

func (s *Server) namesResult(names []string, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return textResult("Symbol not found."), nil, nil
		}
		return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
	}
	if len(names) == 0 {
		return textResult("No results."), nil, nil
	}
	return jsonResult(names), nil, nil
}

// lookupSymbol resolves a tool argument to nodes: by identity first, then by
// bare name across the callable and class kinds.
func (s *Server) lookupSymbol(ctx context.Context, name string) ([]*graph.Node, error) {
	kinds := []schema.NodeKind{
		schema.KindFunction, schema.KindMethod, schema.KindClass,
		schema.KindFile, schema.KindImport,
	}
	for _, kind := range kinds {
		node, err := s.store.FindNode(ctx, graph.Ref{Kind: kind, Key: name})
		if err == nil {
			return []*graph.Node{node}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	var all []*graph.Node
	for _, kind := range kinds[:3] {
		nodes, err := s.store.FindNodesByName(ctx, kind, name)
		if err != nil {
			return nil, err
		}
		all = append(all, nodes...)
	}
	return all, nil
}

// readSource returns the symbol's block from its file: the definition line
// plus every following line that is blank or indented deeper.
func (s *Server) readSource(n *graph.Node) (string, error) {
	lineno, ok := n.Attrs["lineno"].(float64)
	if !ok || lineno < 1 {
		return "", fmt.Errorf("no line information")
	}
	path, ok := filePathOf(n)
	if !ok {
		return "", fmt.Errorf("no file information")
	}

	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(path)))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var (
		builder     strings.Builder
		baseIndent  = -1
		currentLine = 1
		start       = int(lineno)
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if currentLine >= start {
			if baseIndent < 0 {
				baseIndent = indentOf(line)
			} else if trimmed := strings.TrimSpace(line); trimmed != "" && indentOf(line) <= baseIndent {
				break
			}
			builder.WriteString(line)
			builder.WriteByte('\n')
		}
		currentLine++
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.TrimRight(builder.String(), "\n"), nil
}

// filePathOf derives the owning file path from a node's identity.
func filePathOf(n *graph.Node) (string, bool) {
	if n.Kind == schema.KindFile {
		return n.FullName, true
	}
	path, _, ok := strings.Cut(n.FullName, schema.Separator)
	return path, ok
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 8
		default:
			return n
		}
	}
	return n
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("Encoding failed: %v", err))
	}
	return textResult(string(raw))
}
