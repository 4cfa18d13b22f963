// Package main provides the citegraph CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungbote/citegraph/internal/app"
	"github.com/yungbote/citegraph/internal/config"
	"github.com/yungbote/citegraph/internal/platform/shutdown"
)

var Version = "dev"

var configPath string

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "citegraph",
	Short: "Citation graph ingestion and lineage queries",
	Long: `citegraph loads a newline-delimited paper corpus into Neo4j and answers
lineage questions over it: which papers cite a paper, which papers a paper
is rooted in, and both at once.

Query commands print JSON to stdout.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or JSON config file (default $CITEGRAPH_CONFIG or ./config/citegraph.yaml)")
	rootCmd.Version = Version
}

// withApp loads config, builds the App under a signal-aware context and
// closes it when fn returns.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.Log.Warn("shutdown incomplete", "error", err)
		}
	}()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
