package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/code-indexer/internal/indexer"
)

var (
	statusJSON bool
	statusRuns int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the index, its branches and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := optionsFromFlags()
		if err != nil {
			return err
		}
		_, err = executeStatus(cmd.Context(), cmd.OutOrStdout(), opts, statusRuns, statusJSON)
		return err
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "number of recent runs to show")
}

func executeStatus(ctx context.Context, out io.Writer, opts appOptions, runs int, asJSON bool) (*indexer.IndexStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	st, err := a.orch.Status(ctx, runs)
	if err != nil {
		return nil, err
	}

	if asJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return st, nil
	}

	now := time.Now()
	fmt.Fprintf(out, "Collection: %s (%s)\n", st.Collection, st.Schema.State)
	fmt.Fprintf(out, "Branch:     %s\n", st.Branch)
	fmt.Fprintf(out, "Documents:  %s total, %s visible on %s\n",
		formatNumber(st.Documents), formatNumber(st.VisibleOnBranch), st.Branch)
	last := time.Time{}
	if st.LastSuccess != nil {
		last = *st.LastSuccess
	}
	fmt.Fprintf(out, "Last sync:  %s\n", formatTimeSince(last, now))
	if st.LastFull != nil {
		fmt.Fprintf(out, "Last full:  %s, took %s\n",
			formatTimeSince(st.LastFull.FinishedAt, now), formatDuration(st.LastFull.Duration()))
	}
	if st.Schema.NeedsMigration() {
		fmt.Fprintln(out, "            collection uses an older layout; run 'cidx migrate'")
	}

	if len(st.KnownBranches) > 0 {
		fmt.Fprintf(out, "\nBranches (%d):\n", len(st.KnownBranches))
		for _, b := range st.KnownBranches {
			fmt.Fprintf(out, "  %-24s %-8s %6s files  indexed %s\n",
				b.Name, shortCommit(b.LastCommit), formatNumber(b.FileCount), formatTimeSince(b.LastIndexedAt, now))
		}
	}

	if len(st.RecentRuns) > 0 {
		fmt.Fprintf(out, "\nRecent runs:\n")
		for _, r := range st.RecentRuns {
			line := fmt.Sprintf("  %s  %-10s %-11s %-11s %-16s files %s, embedded %s, reused %s, took %s",
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, r.Mode, r.Strategy, r.Branch,
				formatNumber(r.FilesProcessed), formatNumber(r.ChunksEmbedded), formatNumber(r.ChunksReused),
				formatDuration(r.Duration()))
			if len(r.TriggerReasons) > 0 {
				line += " [" + strings.Join(r.TriggerReasons, ", ") + "]"
			}
			if r.Error != "" {
				line += ": " + r.Error
			}
			fmt.Fprintln(out, line)
		}
	}
	return st, nil
}
