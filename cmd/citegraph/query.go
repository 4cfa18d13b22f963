package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yungbote/citegraph/internal/app"
	"github.com/yungbote/citegraph/internal/domain/paper"
	"github.com/yungbote/citegraph/internal/search"
)

var (
	lineageTitle string
	lineageHops  int
	lineagePred  int
	lineageSucc  int

	paperID    int64
	paperTitle string

	searchQuery search.Query
	runsLimit   int
)

var lineageCmd = &cobra.Command{
	Use:   "lineage",
	Short: "Build citation trees around a paper found by title",
}

func lineageRunE(build func(ctx context.Context, a *app.App) (*paper.Node, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(lineageTitle) == "" {
			return fmt.Errorf("--title is required")
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			node, err := build(ctx, a)
			if err != nil {
				return err
			}
			return printJSON(node)
		})
	}
}

var citedByCmd = &cobra.Command{
	Use:   "cited-by",
	Short: "Papers that cite the root, transitively",
	RunE: lineageRunE(func(ctx context.Context, a *app.App) (*paper.Node, error) {
		eng, err := a.Lineage(ctx)
		if err != nil {
			return nil, err
		}
		return eng.CitedBy(ctx, lineageTitle, lineageHops)
	}),
}

var rootedInCmd = &cobra.Command{
	Use:   "rooted-in",
	Short: "Papers the root references, transitively",
	RunE: lineageRunE(func(ctx context.Context, a *app.App) (*paper.Node, error) {
		eng, err := a.Lineage(ctx)
		if err != nil {
			return nil, err
		}
		return eng.RootedIn(ctx, lineageTitle, lineageHops)
	}),
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Predecessors and successors of the root",
	RunE: lineageRunE(func(ctx context.Context, a *app.App) (*paper.Node, error) {
		eng, err := a.Lineage(ctx)
		if err != nil {
			return nil, err
		}
		return eng.LiteratureGraph(ctx, lineageTitle, lineagePred, lineageSucc)
	}),
}

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Look up one paper by id or best title match",
	RunE: func(cmd *cobra.Command, args []string) error {
		byID := cmd.Flags().Changed("id")
		if byID == (strings.TrimSpace(paperTitle) != "") {
			return fmt.Errorf("exactly one of --id or --title is required")
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			svc, err := a.Search(ctx)
			if err != nil {
				return err
			}
			var rec *paper.Record
			if byID {
				rec, err = svc.GetByID(ctx, paperID)
			} else {
				rec, err = svc.SearchBestMatch(ctx, paperTitle)
			}
			if err != nil {
				return err
			}
			return printJSON(rec)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <topic>",
	Short: "Topic search with year, citation and text filters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := searchQuery
		q.Topic = args[0]
		flags := cmd.Flags()
		for name, dst := range map[string]**int{
			"min-year":     &q.MinYear,
			"max-year":     &q.MaxYear,
			"min-citation": &q.MinCitation,
			"max-citation": &q.MaxCitation,
		} {
			if !flags.Changed(name) {
				continue
			}
			v, err := flags.GetInt(name)
			if err != nil {
				return err
			}
			*dst = &v
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			svc, err := a.Search(ctx)
			if err != nil {
				return err
			}
			page, err := svc.Search(ctx, q)
			if err != nil {
				return err
			}
			return printJSON(page)
		})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingestion runs from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			runs, err := a.Runs()
			if err != nil {
				return err
			}
			if runs == nil {
				return fmt.Errorf("runlog.dsn (RUNLOG_DSN) is not set")
			}
			recent, err := runs.ListRecent(ctx, runsLimit)
			if err != nil {
				return err
			}
			return printJSON(recent)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the lookup and lineage HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			return a.Serve(ctx)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{citedByCmd, rootedInCmd, graphCmd} {
		c.Flags().StringVar(&lineageTitle, "title", "", "Title text used to find the root paper")
	}
	citedByCmd.Flags().IntVar(&lineageHops, "hops", 1, "Levels of citing papers (clamped to 1..3)")
	rootedInCmd.Flags().IntVar(&lineageHops, "hops", 1, "Levels of referenced papers (clamped to 1..3)")
	graphCmd.Flags().IntVar(&lineagePred, "pred", 1, "Predecessor hops (clamped to 1..3)")
	graphCmd.Flags().IntVar(&lineageSucc, "succ", 1, "Successor hops (clamped to 1..3)")
	lineageCmd.AddCommand(citedByCmd, rootedInCmd, graphCmd)

	paperCmd.Flags().Int64Var(&paperID, "id", 0, "Paper id")
	paperCmd.Flags().StringVar(&paperTitle, "title", "", "Title text; the best match is returned")

	sf := searchCmd.Flags()
	sf.Int("min-year", search.DefaultMinYear, "Earliest publication year")
	sf.Int("max-year", search.DefaultMaxYear, "Latest publication year")
	sf.Int("min-citation", search.DefaultMinCitation, "Minimum citation count")
	sf.Int("max-citation", search.DefaultMaxCitation, "Maximum citation count")
	sf.StringVar(&searchQuery.DocType, "publication-type", "", "Document type, e.g. Journal or Conference")
	sf.StringVar(&searchQuery.AuthorName, "author", "", "Author name")
	sf.StringVar(&searchQuery.AuthorOrg, "org", "", "Author organization")
	sf.StringVar(&searchQuery.VenueName, "venue", "", "Venue name")
	sf.StringVar(&searchQuery.Keywords, "keywords", "", "Field of study keywords")
	sf.IntVar(&searchQuery.Limit, "limit", search.DefaultLimit, "Maximum results")

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to list")

	rootCmd.AddCommand(lineageCmd, paperCmd, searchCmd, runsCmd, serveCmd)
}
