package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yungbote/citegraph/internal/app"
	"github.com/yungbote/citegraph/internal/ingest"
	"github.com/yungbote/citegraph/internal/progress"
)

var (
	ingestWorkers   int
	ingestBatchSize int
	ingestDryRun    bool
	schemaDryRun    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Load a paper corpus file into the graph",
	Long: `Ingest reads one JSON paper record per line (an enclosing "[" on the first
line and a lone "]" are tolerated) and merges papers, authors, venues and
fields of study into the graph. Re-running the same file is safe.

The path defaults to ingest.path from the config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: loadRunE(func(ctx context.Context, a *app.App, path string, opts ingest.Options) (ingest.Report, error) {
		opts.DryRun = opts.DryRun || ingestDryRun
		return a.Ingest(ctx, path, opts)
	}),
}

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Load a paper corpus file into the Marqo search index",
	Long: `Index reads the same record file as ingest and upserts every paper into the
structured Marqo index named by search.index, creating the index when it is
missing. Author, organization, venue and keyword n-grams are derived for the
search filters. Documents are sent in requests of at most 100.

The path defaults to ingest.path from the config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: loadRunE(func(ctx context.Context, a *app.App, path string, opts ingest.Options) (ingest.Report, error) {
		opts.DryRun = false
		return a.Index(ctx, path, opts)
	}),
}

// loadRunE resolves the input path and pool options shared by ingest and
// index, then prints the run report.
func loadRunE(load func(ctx context.Context, a *app.App, path string, opts ingest.Options) (ingest.Report, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			opts := ingest.Options{
				Workers:      a.Config.Ingest.Workers,
				BatchSize:    a.Config.Ingest.BatchSize,
				MaxLineBytes: a.Config.Ingest.MaxLineBytes,
				DryRun:       a.Config.Ingest.DryRun,
			}
			path := a.Config.Ingest.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no input file: pass a path or set ingest.path")
			}
			if cmd.Flags().Changed("workers") {
				opts.Workers = ingestWorkers
			}
			if cmd.Flags().Changed("batch-size") {
				opts.BatchSize = ingestBatchSize
			}
			if opts.Workers < 1 || opts.BatchSize < 1 {
				return fmt.Errorf("--workers and --batch-size must be at least 1")
			}

			rep, err := load(ctx, a, path, opts)
			if perr := printJSON(rep); perr != nil && err == nil {
				err = perr
			}
			if errors.Is(err, context.Canceled) {
				a.Log.Warn("Run interrupted; re-run the same file to resume", "run_id", rep.RunID)
			}
			return err
		})
	}
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create graph uniqueness constraints and indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			rep, err := a.EnsureSchema(ctx, schemaDryRun)
			if err != nil {
				return err
			}
			return printJSON(rep)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow ingestion progress published to Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			pc := a.Config.Progress
			if pc.RedisAddr == "" {
				return fmt.Errorf("progress.redis_addr (REDIS_ADDR) is not set")
			}
			err := progress.Watch(ctx, a.Log, pc.RedisAddr, pc.Channel, func(u progress.Update) {
				fmt.Fprintf(os.Stdout, "run=%s batch=%d records=%d committed=%d failed=%d %.1f%% %.0f rec/s eta=%s\n",
					u.RunID, u.Batch, u.Records, u.Committed, u.Failed, u.Percent(), u.RecordsPerSecond, u.ETA())
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{ingestCmd, indexCmd} {
		c.Flags().IntVar(&ingestWorkers, "workers", 4, "Concurrent batch workers")
		c.Flags().IntVar(&ingestBatchSize, "batch-size", 100, "Records per batch")
	}
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Write to an in-memory graph instead of Neo4j")
	schemaCmd.Flags().BoolVar(&schemaDryRun, "dry-run", false, "Apply to an in-memory graph instead of Neo4j")

	rootCmd.AddCommand(ingestCmd, indexCmd, schemaCmd, watchCmd)
}
