package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/r3nzsec/irflow-timeline/internal/ingest"
)

var importSheet string

// importCmd ingests one or more files sequentially and prints the
// resulting tabs.
var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import artifact files into tab stores",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := setupEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "TAB\tROWS\tCOLUMNS\tID")

		var failed bool
		for _, path := range args {
			tab, err := eng.ImportAndWait(path, importSheet)
			if err != nil {
				var sheetErr *ingest.SheetChoiceError
				if errors.As(err, &sheetErr) {
					fmt.Fprintf(os.Stderr, "%s has multiple sheets %v; pick one with --sheet\n", path, sheetErr.Sheets)
				} else {
					fmt.Fprintf(os.Stderr, "import of %s failed: %v\n", path, err)
				}
				failed = true
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", tab.Name, tab.RowCount(), len(tab.Headers()), tab.ID)
		}
		if failed {
			return fmt.Errorf("one or more imports failed")
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name for multi-sheet workbooks")
	rootCmd.AddCommand(importCmd)
}
