package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ivanmarin/codegraph/internal/config"
	"github.com/ivanmarin/codegraph/internal/graph"
	"github.com/ivanmarin/codegraph/pkg/models"
)

var (
	version   = "dev"
	cfgFile   string
	logFormat string
	logLevel  string
	logger    *slog.Logger
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "codegraph",
		Short: "codegraph — code property graph store",
		Long:  "Persistence, caching, and search over a code property graph stored in a network graph engine.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			opts := &slog.HandlerOptions{Level: level}
			switch logFormat {
			case "json":
				logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
			case "text":
				logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
			default:
				return fmt.Errorf("invalid --log-format %q (use: text, json)", logFormat)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./codegraph.yaml)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format (text, json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		statsCmd(),
		searchCmd(),
		relatedCmd(),
		pathCmd(),
		analyzeCmd(),
		spaceCmd(),
		snapshotCmd(),
		versionCmd(),
		completionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid --log-level %q (use: debug, info, warn, error)", s)
	}
}

// openStore wires an engine-backed store and search facade from config.
func openStore() (*graph.Store, *graph.SearchFacade, *config.Config) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}

	engine, err := graph.NewBoltEngine(cfg.Engine.URI, cfg.Engine.Username, cfg.Engine.Password, logger)
	if err != nil {
		logger.Error("connecting to graph engine", "error", err)
		os.Exit(1)
	}

	cache := graph.NewCache(graph.CacheConfig{
		DefaultTTL:    cfg.Cache.DefaultTTL,
		SweepInterval: cfg.Cache.SweepInterval,
		MaxEntries:    cfg.Cache.MaxEntries,
	}, logger)
	cache.Start()

	executor := graph.NewBatchExecutor(graph.ExecutorConfig{
		BaseBatchSize:   cfg.Batch.BaseSize,
		MinBatchSize:    cfg.Batch.MinSize,
		MaxBatchSize:    cfg.Batch.MaxSize,
		MemoryThreshold: cfg.Batch.MemoryThreshold,
		MaxRetries:      cfg.Batch.MaxRetries,
		RetryDelay:      cfg.Batch.RetryDelay,
		Timeout:         cfg.Batch.Timeout,
		RateLimit:       rate.Limit(cfg.Batch.RateLimit),
		RateBurst:       cfg.Batch.RateBurst,
	}, logger)

	recovery := graph.NewCoordinator(1000, logger)
	recovery.RegisterEngineProbes(engine, cfg.Batch.RetryDelay)

	store := graph.NewStore(engine, graph.NewCatalog(), executor, cache,
		graph.NewPerformanceTracker(), recovery, graph.SpaceConfig{
			Name:          cfg.Space.Name,
			PartitionNum:  cfg.Space.PartitionNum,
			ReplicaFactor: cfg.Space.ReplicaFactor,
			VidType:       cfg.Space.VidType,
		}, logger)

	return store, graph.NewSearchFacade(store, logger), cfg
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show graph statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			stats, err := store.GetGraphStats(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Total nodes:\t%d\n", stats.TotalNodes)
			fmt.Fprintf(w, "Total relationships:\t%d\n", stats.TotalRelationships)
			for _, tag := range stats.Tags {
				fmt.Fprintf(w, "  %s:\t%d\n", tag, stats.NodeCounts[tag])
			}
			for _, edge := range stats.EdgeTypes {
				fmt.Fprintf(w, "  %s:\t%d\n", edge, stats.EdgeCounts[edge])
			}
			return w.Flush()
		},
	}
}

func searchCmd() *cobra.Command {
	var searchType string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, facade, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			results, err := facade.Search(cmd.Context(), args[0], graph.SearchOptions{
				Type:  graph.SearchType(searchType),
				Limit: limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tTYPE\tNAME\tID")
			for _, r := range results {
				if r.Node != nil {
					fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\n", r.Score, r.Node.Type, r.Node.Name, r.Node.ID)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&searchType, "type", "semantic", "search type (semantic, relationship, path, fuzzy)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func relatedCmd() *cobra.Command {
	var depth int
	var relTypes []string

	cmd := &cobra.Command{
		Use:   "related <node-id>",
		Short: "Show nodes related to a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			types := make([]models.RelationshipType, len(relTypes))
			for i, t := range relTypes {
				types[i] = models.RelationshipType(strings.ToUpper(t))
			}

			nodes, err := store.FindRelatedNodes(cmd.Context(), args[0], types, depth)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tNAME\tID")
			for _, n := range nodes {
				fmt.Fprintf(w, "%s\t%s\t%s\n", n.Type, n.Name, n.ID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 2, "maximum traversal depth")
	cmd.Flags().StringSliceVar(&relTypes, "rel-type", nil, "relationship types to follow (default: all)")
	return cmd
}

func pathCmd() *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "path <source-id> <target-id>",
		Short: "Find the shortest path between two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			rels, err := store.FindPath(cmd.Context(), args[0], args[1], depth)
			if err != nil {
				return err
			}
			if len(rels) == 0 {
				fmt.Printf("No path between %s and %s within %d hops\n", args[0], args[1], depth)
				return nil
			}
			for _, r := range rels {
				fmt.Printf("%s -[%s]-> %s\n", r.SourceID, r.Type, r.TargetID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 5, "maximum path length")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var communities, pagerank bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run graph algorithms (community detection, PageRank)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, facade, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			analysis, err := facade.AnalyzeGraph(cmd.Context(), graph.AnalyzeOptions{
				Communities: communities,
				PageRank:    pagerank,
			})
			if err != nil {
				return err
			}

			b, err := json.MarshalIndent(analysis, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}

	cmd.Flags().BoolVar(&communities, "communities", true, "run community detection")
	cmd.Flags().BoolVar(&pagerank, "pagerank", true, "run PageRank")
	return cmd
}

func spaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "space",
		Short: "Manage the graph space",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create the space and apply the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup
			return store.EnsureSpace(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drop",
		Short: "Drop the space without recreating it",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, cfg := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			fmt.Print("This erases the entire graph. Type the space name to confirm: ")
			var confirm string
			if _, err := fmt.Scanln(&confirm); err != nil {
				return err
			}
			if confirm != cfg.Space.Name {
				return fmt.Errorf("confirmation %q does not match space %q", confirm, cfg.Space.Name)
			}
			return store.DropSpace(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop and recreate the space, erasing all data",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, cfg := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			fmt.Print("This erases the entire graph. Type the space name to confirm: ")
			var confirm string
			if _, err := fmt.Scanln(&confirm); err != nil {
				return err
			}
			if confirm != cfg.Space.Name {
				return fmt.Errorf("confirmation %q does not match space %q", confirm, cfg.Space.Name)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			return store.ClearGraph(ctx)
		},
	})

	return cmd
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Snapshot the graph to local storage, or restore it",
	}

	var format string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Snapshot the live graph and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, cfg := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			snap, err := graph.NewSnapshotStore(cfg.Snapshot.Path)
			if err != nil {
				return err
			}
			defer snap.Close() //nolint:errcheck // best-effort cleanup

			ctx := cmd.Context()
			if err := snap.Init(ctx); err != nil {
				return err
			}
			if err := graph.SnapshotFromStore(ctx, store, snap, logger); err != nil {
				return err
			}

			data, err := graph.CollectGraphData(ctx, snap)
			if err != nil {
				return err
			}

			var out string
			switch format {
			case "json":
				out, err = graph.ExportJSON(data)
			case "yaml":
				out, err = graph.ExportYAML(data)
			case "dot":
				out = graph.ExportDOT(data)
			default:
				return fmt.Errorf("invalid --format %q (use: json, yaml, dot)", format)
			}
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	exportCmd.Flags().StringVar(&format, "format", "json", "output format (json, yaml, dot)")
	cmd.AddCommand(exportCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "restore",
		Short: "Replay the local snapshot into the graph engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, cfg := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			snap, err := graph.NewSnapshotStore(cfg.Snapshot.Path)
			if err != nil {
				return err
			}
			defer snap.Close() //nolint:errcheck // best-effort cleanup

			ctx := cmd.Context()
			if err := snap.Init(ctx); err != nil {
				return err
			}
			return graph.RestoreToStore(ctx, snap, store, logger)
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("codegraph %s\n", version)
		},
	}
}

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:                   "completion [bash|zsh|fish|powershell]",
		Short:                 "Generate shell completion scripts",
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
