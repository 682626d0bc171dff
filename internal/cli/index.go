package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/code-indexer/internal/indexer"
)

var (
	fullFlag       bool
	dryRunFlag     bool
	productionFlag bool
)

// indexOptions are the index command's own flags.
type indexOptions struct {
	Full       bool
	DryRun     bool
	Production bool
}

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Bring the index up to date with the working tree",
	Long: `Index syncs the vector index with the current branch.

By default only changed files are embedded. A full rebuild happens when it is
requested with --full or when the decision rules call for one: too many files
changed, configuration or project structure changed, the index is corrupted,
its search accuracy dropped or it is too old.

Examples:
  # Sync the current directory
  cidx index

  # Rebuild everything
  cidx index --full

  # Show what would happen without writing anything
  cidx index --dry-run
`,
	RunE: runIndex,
}

// analyzeCmd prints the reindex decision without syncing.
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Explain whether the next sync would rebuild the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		opts, err := optionsFromFlags()
		if err != nil {
			return err
		}
		_, err = executeIndex(ctx, cmd.OutOrStdout(), opts, indexOptions{DryRun: true, Full: fullFlag, Production: productionFlag})
		return err
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(analyzeCmd)
	for _, c := range []*cobra.Command{indexCmd, analyzeCmd} {
		c.Flags().BoolVar(&fullFlag, "full", false, "force a full rebuild")
		c.Flags().BoolVar(&productionFlag, "production", false, "the index serves live searches; prefer blue/green rebuilds")
	}
	indexCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "decide and report without writing")
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	opts, err := optionsFromFlags()
	if err != nil {
		return err
	}
	_, err = executeIndex(ctx, cmd.OutOrStdout(), opts, indexOptions{
		Full:       fullFlag,
		DryRun:     dryRunFlag,
		Production: productionFlag,
	})
	return err
}

func executeIndex(ctx context.Context, out io.Writer, opts appOptions, req indexOptions) (*indexer.Report, error) {
	if opts.Progress == nil {
		opts.Progress = NewCLIProgressReporter(out, opts.Quiet || req.DryRun)
	}
	a, err := openApp(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	if !req.DryRun {
		if err := a.initEmbedder(ctx); err != nil {
			return nil, err
		}
	}

	report, err := a.orch.Sync(ctx, indexer.SyncRequest{
		ForceFull:  req.Full,
		DryRun:     req.DryRun,
		Production: req.Production,
	})
	if err != nil {
		if errors.Is(err, indexer.ErrIndexingCancelled) || ctx.Err() != nil {
			return report, fmt.Errorf("indexing cancelled")
		}
		return report, fmt.Errorf("indexing failed: %w", err)
	}
	if req.DryRun {
		printDecision(out, report)
	}
	return report, nil
}

// printDecision renders the decision and the signals behind it.
func printDecision(out io.Writer, r *indexer.Report) {
	d := r.Decision
	fmt.Fprintf(out, "Branch:      %s", r.Branch)
	if r.Commit != "" {
		fmt.Fprintf(out, " @ %s", shortCommit(r.Commit))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Collection:  %s (%s)\n", r.Collection, r.Schema.State)

	c := r.DecisionChanges
	fmt.Fprintf(out, "Changes:     %d of %d files (%.1f%%): %d modified, %d added, %d deleted, %d moved\n",
		c.ChangeCount(), c.TotalFiles, c.PercentageChanged()*100,
		len(c.FilesChanged), len(c.FilesAdded), len(c.FilesDeleted), len(c.FileMoves))
	var signals []string
	if c.HasConfigChanges {
		signals = append(signals, "configuration files")
	}
	if c.HasStructuralChanges {
		signals = append(signals, "project structure")
	}
	if c.HasSchemaChanges {
		signals = append(signals, "index schema")
	}
	if len(signals) > 0 {
		fmt.Fprintf(out, "Signals:     %s changed\n", strings.Join(signals, ", "))
	}

	m := r.Metrics
	health := fmt.Sprintf("%s (quality %.2f): %d documents, accuracy %.2f, %d days old",
		m.HealthStatus(), m.QualityScore(), m.DocumentCount, m.SearchAccuracy, m.IndexAgeDays)
	if r.MetricsFallback {
		health += " (estimated)"
	}
	fmt.Fprintf(out, "Index:       %s\n", health)

	fmt.Fprintln(out)
	if !d.ShouldReindex {
		fmt.Fprintln(out, "Decision:    incremental update")
	} else {
		fmt.Fprintf(out, "Decision:    full reindex, %s strategy, ~%d min\n", d.RecommendedStrategy, d.EstimatedMinutes)
		for _, reason := range d.Explain() {
			fmt.Fprintf(out, "  - %s\n", reason)
		}
	}
	fmt.Fprintf(out, "Confidence:  %.2f\n", d.ConfidenceScore)
}
