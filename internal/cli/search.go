package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/code-indexer/internal/storage"
)

var (
	searchBranch   string
	searchLimit    int
	searchLanguage string
	searchPath     string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index for code matching a natural-language query",
	Long: `Search embeds the query and returns the closest chunks visible on a branch.

Examples:
  cidx search "where are retries configured"
  cidx search --branch main --language go "connection pool"
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		opts, err := optionsFromFlags()
		if err != nil {
			return err
		}
		_, err = executeSearch(ctx, cmd.OutOrStdout(), opts, searchBranch, strings.Join(args, " "), storage.SearchOptions{
			Limit:      searchLimit,
			Language:   searchLanguage,
			PathPrefix: searchPath,
		})
		return err
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchBranch, "branch", "b", "", "branch to search (default is the current branch)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().StringVar(&searchLanguage, "language", "", "only results in this language")
	searchCmd.Flags().StringVar(&searchPath, "path", "", "only results under this path prefix")
}

func executeSearch(ctx context.Context, out io.Writer, opts appOptions, branch, query string, so storage.SearchOptions) ([]storage.SearchResult, error) {
	a, err := openApp(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	if err := a.initEmbedder(ctx); err != nil {
		return nil, err
	}

	results, err := a.orch.Search(ctx, branch, query, so)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results")
		return results, nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%2d. %s:%d-%d  (%.3f)\n", i+1, r.Path, r.LineStart, r.LineEnd, r.Score)
		if !opts.Quiet {
			fmt.Fprintf(out, "    %s\n", firstLine(r.Content))
		}
	}
	return results, nil
}

// firstLine returns the first non-blank line of s, trimmed for display.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 100 {
			line = line[:97] + "..."
		}
		return line
	}
	return ""
}
