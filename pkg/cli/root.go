// Package cli implements the xframe command-line surface: one-shot
// commands for inspecting, converting, and reshaping frames on disk.
package cli

import (
	"github.com/spf13/cobra"

	"xframe/pkg/config"
	"xframe/pkg/logging"
	"xframe/pkg/tempfile"
)

// NewRootCommand builds the xframe command tree.
func NewRootCommand() *cobra.Command {
	var configFile string
	var verbose bool

	root := &cobra.Command{
		Use:   "xframe",
		Short: "Out-of-core columnar frame engine",
		Long: `xframe stores named, typed columns in segmented files on disk and
evaluates lazy row-level transformations over frames larger than memory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if verbose {
				level = logging.LevelDebug
			}
			if err := logging.Init(logging.Config{Level: level}); err != nil {
				// Already initialized (tests); keep going.
				logging.Debug("logger reinit skipped", "error", err)
			}
			if configFile != "" {
				return config.Load(configFile)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			tempfile.DefaultManager().CleanupAll()
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "engine config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newInfoCommand())
	root.AddCommand(newHeadCommand())
	root.AddCommand(newSortCommand())
	root.AddCommand(newShuffleCommand())
	root.AddCommand(newCompactCommand())
	root.AddCommand(newImportCommand())
	root.AddCommand(newExportCommand())
	return root
}
