package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r3nzsec/irflow-timeline/internal/analytics"
	"github.com/r3nzsec/irflow-timeline/internal/engine"
	"github.com/r3nzsec/irflow-timeline/internal/export"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

var (
	exportFormat string
	exportOut    string
	mergeColumns []string
	mergeOut     string
)

// exportCmd imports a file and writes its rows back out in the chosen
// format, applying any query flags.
var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export rows to CSV, TSV, or XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOut == "" {
			return fmt.Errorf("--out is required")
		}
		return withTab(args, func(eng *engine.Engine, tab *tabstore.Tab) (interface{}, error) {
			n, err := eng.Export(tab.ID, export.Options{
				Filter:     buildFilterModel(),
				SortColumn: querySortCol,
				SortDir:    querySortDir,
				Format:     export.Format(exportFormat),
				OutPath:    exportOut,
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"rows": n, "path": exportOut}, nil
		})
	},
}

// reportCmd imports a file and writes its HTML report.
var reportCmd = &cobra.Command{
	Use:   "report <file>",
	Short: "Write the self-contained HTML report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOut == "" {
			return fmt.Errorf("--out is required")
		}
		return withTab(args, func(eng *engine.Engine, tab *tabstore.Tab) (interface{}, error) {
			if err := eng.Report(tab.ID, exportOut); err != nil {
				return nil, err
			}
			return map[string]interface{}{"path": exportOut}, nil
		})
	},
}

// mergeCmd imports several files and builds a merged super-timeline.
// Each --timestamp entry is file=column; unlisted files use their first
// detected timestamp column.
var mergeCmd = &cobra.Command{
	Use:   "merge <file>...",
	Short: "Merge files into one super-timeline",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := setupEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		tsByFile := make(map[string]string)
		for _, spec := range mergeColumns {
			if idx := strings.IndexByte(spec, '='); idx > 0 {
				tsByFile[spec[:idx]] = spec[idx+1:]
			}
		}

		var sources []analytics.MergeSource
		for _, path := range args {
			tab, err := eng.ImportAndWait(path, "")
			if err != nil {
				return err
			}
			tsCol := tsByFile[path]
			if tsCol == "" {
				if ts := tab.TimestampColumns(); len(ts) > 0 {
					tsCol = ts[0]
				} else {
					return fmt.Errorf("%s has no timestamp column; pass --timestamp %s=<column>", path, path)
				}
			}
			sources = append(sources, analytics.MergeSource{
				TabID:           tab.ID,
				DisplayName:     tab.Name,
				TimestampColumn: tsCol,
			})
		}

		merged, err := eng.Merge("merged", sources, func(p analytics.MergeProgress) {
			fmt.Printf("merged %s (%d/%d): %d rows\n", p.Source, p.SourceNum, p.Total, p.Rows)
		})
		if err != nil {
			return err
		}
		fmt.Printf("merged timeline: %d rows, %d columns\n", merged.RowCount(), len(merged.Headers()))

		if exportOut != "" {
			n, err := eng.Export(merged.ID, export.Options{
				SortColumn: "datetime",
				Format:     export.Format(exportFormat),
				OutPath:    exportOut,
			})
			if err != nil {
				return err
			}
			fmt.Printf("wrote %d rows to %s\n", n, exportOut)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format (csv, tsv, xlsx)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path")
	exportCmd.Flags().StringVar(&querySortCol, "sort", "", "sort column")
	exportCmd.Flags().StringVar(&querySortDir, "dir", "asc", "sort direction")
	exportCmd.Flags().StringArrayVar(&queryWhere, "where", nil, "substring filter column=value (repeatable)")
	exportCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name for multi-sheet workbooks")

	reportCmd.Flags().StringVar(&exportOut, "out", "", "output path")
	reportCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name for multi-sheet workbooks")

	mergeCmd.Flags().StringArrayVar(&mergeColumns, "timestamp", nil, "per-file timestamp column as file=column (repeatable)")
	mergeCmd.Flags().StringVar(&exportOut, "out", "", "also export the merged timeline to this path")
	mergeCmd.Flags().StringVar(&exportFormat, "format", "csv", "export format when --out is set")

	rootCmd.AddCommand(exportCmd, reportCmd, mergeCmd)
}
