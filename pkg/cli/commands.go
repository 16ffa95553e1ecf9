package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"xframe/pkg/csvio"
	"xframe/pkg/engine"
	"xframe/pkg/xframe"
)

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <frame-dir>",
		Short: "Describe a saved frame: rows, columns, segmentation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := engine.Load(args[0])
			if err != nil {
				return err
			}
			f, err := x.Materialize()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "rows:     %d\n", f.NumRows())
			fmt.Fprintf(cmd.OutOrStdout(), "columns:  %d\n", f.NumColumns())
			fmt.Fprintf(cmd.OutOrStdout(), "segments: %v\n", f.SegmentSizes())

			names := f.ColumnNames()
			colTypes := f.ColumnTypes()
			var b strings.Builder
			for i, n := range names {
				fmt.Fprintf(&b, "  %-20s %s\n", n, colTypes[i])
			}
			fmt.Fprint(cmd.OutOrStdout(), b.String())
			return nil
		},
	}
}

func newHeadCommand() *cobra.Command {
	var n int64
	cmd := &cobra.Command{
		Use:   "head <frame-dir>",
		Short: "Print the first rows of a frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := engine.Load(args[0])
			if err != nil {
				return err
			}
			head, err := x.Head(n)
			if err != nil {
				return err
			}
			f, err := head.Materialize()
			if err != nil {
				return err
			}
			var rows []xframe.Row
			if _, err := f.ReadRows(0, f.NumRows(), &rows); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(f.ColumnNames(), rows))
			return nil
		},
	}
	cmd.Flags().Int64VarP(&n, "rows", "n", 10, "number of rows to print")
	return cmd
}

func newSortCommand() *cobra.Command {
	var keys []string
	var descending bool
	cmd := &cobra.Command{
		Use:   "sort <in-dir> <out-dir>",
		Short: "Sort a frame by key columns into a new frame",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(keys) == 0 {
				return fmt.Errorf("at least one --key is required")
			}
			x, err := engine.Load(args[0])
			if err != nil {
				return err
			}
			ascending := make([]bool, len(keys))
			for i := range ascending {
				ascending[i] = !descending
			}
			sorted, err := x.Sort(keys, ascending)
			if err != nil {
				return err
			}
			return sorted.Save(args[1])
		},
	}
	cmd.Flags().StringSliceVarP(&keys, "key", "k", nil, "sort key column (repeatable)")
	cmd.Flags().BoolVarP(&descending, "descending", "d", false, "sort descending")
	return cmd
}

func newShuffleCommand() *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "shuffle <in-dir> <out-dir>",
		Short: "Write a frame's rows in random order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := engine.Load(args[0])
			if err != nil {
				return err
			}
			shuffled, err := x.ShuffleRows(seed)
			if err != nil {
				return err
			}
			return shuffled.Save(args[1])
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "shuffle seed")
	return cmd
}

func newCompactCommand() *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "compact <frame-dir> <out-dir>",
		Short: "Bound a frame's segment fan-out",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := engine.Load(args[0])
			if err != nil {
				return err
			}
			f, err := x.Materialize()
			if err != nil {
				return err
			}
			compacted, err := xframe.Compact(f, target)
			if err != nil {
				return err
			}
			return engine.FromFrame(compacted).Save(args[1])
		},
	}
	cmd.Flags().IntVarP(&target, "target", "t", 8, "target segment count")
	return cmd
}

func newImportCommand() *cobra.Command {
	var delimiter string
	var noHeader bool
	cmd := &cobra.Command{
		Use:   "import-csv <csv-file> <out-dir>",
		Short: "Import a CSV file into a saved frame",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			cfg := csvio.DefaultConfig()
			if delimiter != "" {
				cfg.Delimiter = rune(delimiter[0])
			}
			cfg.HasHeader = !noHeader

			tok, err := csvio.NewTokenizer(in, cfg)
			if err != nil {
				return err
			}
			stage, err := os.MkdirTemp("", "xframe-import")
			if err != nil {
				return err
			}
			defer os.RemoveAll(stage)

			f, err := csvio.ImportFrame(stage, tok)
			if err != nil {
				return err
			}
			return engine.FromFrame(f).Save(args[1])
		},
	}
	cmd.Flags().StringVar(&delimiter, "delimiter", "", "field delimiter (default comma)")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "input has no header row")
	return cmd
}

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-csv <frame-dir> <csv-file>",
		Short: "Export a saved frame to CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := engine.Load(args[0])
			if err != nil {
				return err
			}
			f, err := x.Materialize()
			if err != nil {
				return err
			}
			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer out.Close()
			return csvio.ExportFrame(f, csvio.NewWriter(out, csvio.DefaultConfig()))
		},
	}
	return cmd
}
