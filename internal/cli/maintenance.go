package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/code-indexer/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert a collection written by an older indexer to the current layout",
	Long: `Migrate folds legacy flat records and per-branch visibility records into
content records that carry the branches hiding them. Syncs migrate
automatically; this command does it without indexing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		opts, err := optionsFromFlags()
		if err != nil {
			return err
		}
		_, err = executeMigrate(ctx, cmd.OutOrStdout(), opts)
		return err
	},
}

var cleanOrphansCmd = &cobra.Command{
	Use:   "clean-orphans",
	Short: "Forget deleted branches and delete content no branch can see",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		opts, err := optionsFromFlags()
		if err != nil {
			return err
		}
		_, err = executeCleanOrphans(ctx, cmd.OutOrStdout(), opts)
		return err
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanOrphansCmd)
}

func executeMigrate(ctx context.Context, out io.Writer, opts appOptions) (*storage.MigrationReport, error) {
	a, err := openApp(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	schema, mr, err := a.orch.Migrate(ctx)
	if err != nil {
		return mr, err
	}
	if mr == nil {
		fmt.Fprintf(out, "Collection is %s; nothing to migrate\n", schema.State)
		return nil, nil
	}
	fmt.Fprintf(out, "✓ Migrated %s legacy records and %s visibility records\n",
		formatNumber(mr.LegacyRecords), formatNumber(mr.VisibilityFolded))
	fmt.Fprintf(out, "  Content: %s created, %s merged\n", formatNumber(mr.ContentCreated), formatNumber(mr.ContentMerged))
	if mr.DanglingVisibility > 0 {
		fmt.Fprintf(out, "  Dropped %s visibility records without content\n", formatNumber(mr.DanglingVisibility))
	}
	return mr, nil
}

func executeCleanOrphans(ctx context.Context, out io.Writer, opts appOptions) (int, error) {
	a, err := openApp(ctx, opts)
	if err != nil {
		return 0, err
	}
	defer a.Close()

	removed, pruned, err := a.orch.CleanOrphans(ctx)
	if err != nil {
		return removed, err
	}
	if len(pruned) > 0 {
		fmt.Fprintf(out, "Forgot deleted branches: %s\n", strings.Join(pruned, ", "))
	}
	fmt.Fprintf(out, "✓ Removed %s orphaned records\n", formatNumber(removed))
	return removed, nil
}
