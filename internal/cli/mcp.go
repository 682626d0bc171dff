package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/code-indexer/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve search and index status to MCP clients over stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout.

Tools:
  search_code      semantic search scoped to a branch
  index_status     schema, counts, branches and recent runs
  analyze_reindex  the reindex decision for the current tree (read-only)

Logs go to stderr so they never interleave with protocol messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		opts, err := optionsFromFlags()
		if err != nil {
			return err
		}
		return runMCP(ctx, opts, cmd.InOrStdin(), os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(ctx context.Context, opts appOptions, in io.Reader, out io.Writer) error {
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.initEmbedder(ctx); err != nil {
		return err
	}
	return mcp.NewServer(a.orch, Version, a.logger).Serve(ctx, in, out)
}
