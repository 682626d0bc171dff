package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	rootDir string
	verbose bool
	quiet   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cidx",
	Short: "Branch-aware semantic code index",
	Long: `cidx keeps a semantic search index of a codebase in a vector store.

Content is stored once and shared between git branches; each branch sees
only the files it actually has. Every sync decides between an incremental
update and a full rebuild from the size of the change, configuration and
structural edits, index health and age.

Configuration is read from .code-indexer/config.yml in the project root and
can be overridden with CIDX_* environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "C", "", "project root (default is the current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "disable progress bars and non-error output")
}

// optionsFromFlags resolves the global flags into app options.
func optionsFromFlags() (appOptions, error) {
	root := rootDir
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return appOptions{}, fmt.Errorf("failed to get working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return appOptions{}, fmt.Errorf("failed to resolve project root: %w", err)
	}
	return appOptions{RootDir: abs, Verbose: verbose, Quiet: quiet}, nil
}
