// Package cli wires the codegraph command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"codegraph/internal/config"
	"codegraph/internal/engine"
	"codegraph/internal/fetch"
	"codegraph/internal/indexer"
	"codegraph/internal/query"
	"codegraph/internal/server"
	"codegraph/internal/store"
	"codegraph/util"
)

// NewRootCommand builds the codegraph command tree.
func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "codegraph",
		Version: version,
		Short:   "Build and query a code knowledge graph of a Python repository",
		Long: `Codegraph statically indexes a Python repository into a typed graph of
files, functions, classes, methods, and imports, connected by containment,
definition, inheritance, import, and call edges. The graph backs dependency
queries and an MCP retrieval surface for coding assistants.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("repo", "r", ".", "Repository root or GitHub URL")
	rootCmd.PersistentFlags().String("db", "", "Graph database path (overrides config)")

	indexCmd := &cobra.Command{
		Use:   "index [path|url]",
		Short: "Index a repository into the graph database",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runIndex,
	}
	indexCmd.Flags().Int("workers", 0, "Concurrent ingestion workers (overrides config)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the graph over MCP on stdio",
		RunE:  runServe,
	}

	calleesCmd := &cobra.Command{
		Use:   "callees <fullName>",
		Short: "List the functions a function directly calls",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery(func(ctx context.Context, svc *query.Service, name string, _ int) ([]string, error) {
			return svc.CalleesOf(ctx, name)
		}),
	}

	callersCmd := &cobra.Command{
		Use:   "callers <fullName>",
		Short: "List the functions that directly call a function",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery(func(ctx context.Context, svc *query.Service, name string, _ int) ([]string, error) {
			return svc.CallersOf(ctx, name)
		}),
	}

	depsCmd := &cobra.Command{
		Use:   "deps <fullName>",
		Short: "List everything transitively reachable over call edges",
		Args:  cobra.ExactArgs(1),
		RunE: runQuery(func(ctx context.Context, svc *query.Service, name string, maxHops int) ([]string, error) {
			return svc.TransitiveDependencies(ctx, name, maxHops)
		}),
	}
	depsCmd.Flags().Int("max-hops", 0, "Traversal bound (defaults to config)")

	symbolCmd := &cobra.Command{
		Use:   "symbol <fullName>",
		Short: "Show a symbol's attributes",
		Args:  cobra.ExactArgs(1),
		RunE:  runSymbol,
	}

	rootCmd.AddCommand(indexCmd, serveCmd, calleesCmd, callersCmd, depsCmd, symbolCmd)
	return rootCmd
}

// setup resolves the repository root, configuration, logger, and store shared
// by every command. A non-empty repoOverride wins over the --repo flag.
func setup(cmd *cobra.Command, repoOverride string) (string, *config.Config, *slog.Logger, store.Store, error) {
	repo := repoOverride
	if repo == "" {
		repo, _ = cmd.Flags().GetString("repo")
	}
	root := util.FindGitRoot(repo)

	cfg, err := config.Discover(root)
	if err != nil {
		return "", nil, nil, nil, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DB.Path = db
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return "", nil, nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dbPath := cfg.DB.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(root, dbPath)
	}
	st, err := store.Open(dbPath, logger)
	if err != nil {
		return "", nil, nil, nil, err
	}
	if err := st.Init(cmd.Context()); err != nil {
		st.Close()
		return "", nil, nil, nil, err
	}
	return root, cfg, logger, st, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	ctx := cmd.Context()

	if fetch.IsRemote(target) {
		cfg, err := config.Discover(".")
		if err != nil {
			return err
		}
		fetcher, err := fetch.New(cfg.Fetch.CacheDir, slog.Default())
		if err != nil {
			return err
		}
		local, err := fetcher.Fetch(ctx, target)
		if err != nil {
			return err
		}
		target = local
	}

	root, cfg, logger, st, err := setup(cmd, target)
	if err != nil {
		return err
	}
	defer st.Close()

	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Index.Workers = workers
	}

	eng := engine.New(st, engine.Options{CrossFileCalls: cfg.Resolver.CrossFile, Logger: logger})
	ix := indexer.New(eng, indexer.Options{Workers: cfg.Index.Workers, Logger: logger})
	report, err := ix.IndexDir(ctx, root)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Indexed %d files (%d failed) in %s\nNodes created: %d, edges created: %d, calls unresolved: %d\n",
		report.Files, len(report.Failed), report.Duration.Round(time.Millisecond),
		report.Ingest.NodesCreated,
		report.Ingest.EdgesCreated+report.Resolve.EdgesCreated,
		report.Resolve.Unresolved)
	for path, reason := range report.Failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s: %s\n", path, reason)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	root, cfg, logger, st, err := setup(cmd, "")
	if err != nil {
		return err
	}
	defer st.Close()

	srv, err := server.New(root, cfg, st, logger)
	if err != nil {
		return err
	}
	return srv.Run(cmd.Context())
}

func runQuery(f func(ctx context.Context, svc *query.Service, name string, maxHops int) ([]string, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		_, cfg, logger, st, err := setup(cmd, "")
		if err != nil {
			return err
		}
		defer st.Close()

		svc, err := query.New(st, query.Options{
			CacheSize: cfg.Query.CacheSize,
			MaxHops:   cfg.Query.MaxHops,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		maxHops := cfg.Query.MaxHops
		if flag := cmd.Flags().Lookup("max-hops"); flag != nil {
			if v, _ := cmd.Flags().GetInt("max-hops"); v > 0 {
				maxHops = v
			}
		}
		names, err := f(cmd.Context(), svc, args[0], maxHops)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no results")
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}
}
