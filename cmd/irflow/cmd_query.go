package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/query"
	"github.com/r3nzsec/irflow-timeline/internal/search"
)

var (
	querySortCol    string
	querySortDir    string
	queryOffset     int64
	queryLimit      int64
	queryWhere      []string
	querySearchTerm string
	querySearchMode string
	queryCondition  string
	queryColumns    []string
)

// queryCmd imports a file and runs one windowed query against it.
var queryCmd = &cobra.Command{
	Use:   "query <file>",
	Short: "Import a file and run a windowed query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := setupEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		tab, err := eng.ImportAndWait(args[0], importSheet)
		if err != nil {
			return err
		}

		model := buildFilterModel()
		result, err := eng.Query(tab.ID, &query.Request{
			Filter:     model,
			SortColumn: querySortCol,
			SortDir:    querySortDir,
			Offset:     queryOffset,
			Limit:      queryLimit,
		})
		if err != nil {
			return err
		}

		headers := tab.Headers()
		shown := headers
		if len(queryColumns) > 0 {
			shown = queryColumns
		}
		colIdx := make([]int, 0, len(shown))
		for _, want := range shown {
			for i, h := range headers {
				if strings.EqualFold(h, want) {
					colIdx = append(colIdx, i)
					break
				}
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintf(w, "#\t%s\n", strings.Join(shown, "\t"))
		for _, row := range result.Rows {
			cells := make([]string, len(colIdx))
			for i, ci := range colIdx {
				cells[i] = row.Cells[ci]
			}
			fmt.Fprintf(w, "%d\t%s\n", row.ID, strings.Join(cells, "\t"))
		}
		fmt.Fprintf(w, "\n%d of %d rows (offset %d)\n", len(result.Rows), result.TotalFiltered, queryOffset)
		return nil
	},
}

// buildFilterModel assembles the filter model from the query flags.
func buildFilterModel() *filter.Model {
	model := &filter.Model{}
	if len(queryWhere) > 0 {
		model.Columns = make(map[string]string)
		for _, clause := range queryWhere {
			if idx := strings.IndexByte(clause, '='); idx > 0 {
				model.Columns[clause[:idx]] = clause[idx+1:]
			}
		}
	}
	if querySearchTerm != "" {
		model.Search = &search.Spec{
			Term:      querySearchTerm,
			Mode:      search.Mode(querySearchMode),
			Condition: search.Condition(queryCondition),
		}
	}
	if model.IsEmpty() {
		return nil
	}
	return model
}

func init() {
	queryCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name for multi-sheet workbooks")
	queryCmd.Flags().StringVar(&querySortCol, "sort", "", "sort column")
	queryCmd.Flags().StringVar(&querySortDir, "dir", "asc", "sort direction (asc, desc)")
	queryCmd.Flags().Int64Var(&queryOffset, "offset", 0, "window offset")
	queryCmd.Flags().Int64Var(&queryLimit, "limit", 25, "window size")
	queryCmd.Flags().StringArrayVar(&queryWhere, "where", nil, "substring filter column=value (repeatable)")
	queryCmd.Flags().StringVar(&querySearchTerm, "search", "", "global search term")
	queryCmd.Flags().StringVar(&querySearchMode, "mode", "mixed", "search mode (mixed, and, or, exact, regex)")
	queryCmd.Flags().StringVar(&queryCondition, "match", "contains", "match condition (contains, startswith, like, equals, fuzzy)")
	queryCmd.Flags().StringSliceVar(&queryColumns, "columns", nil, "columns to display")
	rootCmd.AddCommand(queryCmd)
}
