package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r3nzsec/irflow-timeline/internal/analytics"
	"github.com/r3nzsec/irflow-timeline/internal/engine"
	"github.com/r3nzsec/irflow-timeline/internal/lateral"
	"github.com/r3nzsec/irflow-timeline/internal/persistence"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

var (
	analyzeColumn      string
	analyzeGranularity string
	analyzeThreshold   int64
	analyzeWindow      int64
	analyzeMultiplier  float64
	analyzeSourceCol   string
	analyzeByValue     bool
	analyzeIOCFile     string
	analyzeIOCs        []string
	analyzeJSON        bool
)

// analyzeCmd groups the analytics subcommands. Each imports its file
// and prints the result.
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run timeline analytics against an artifact file",
}

// withTab imports the file argument and hands the tab to fn.
func withTab(args []string, fn func(*engine.Engine, *tabstore.Tab) (interface{}, error)) error {
	eng, _, err := setupEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	tab, err := eng.ImportAndWait(args[0], importSheet)
	if err != nil {
		return err
	}

	result, err := fn(eng, tab)
	if err != nil {
		return err
	}
	return printResult(result)
}

func printResult(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// timestampColumn picks the requested or first detected timestamp column.
func timestampColumn(tab *tabstore.Tab) (string, error) {
	if analyzeColumn != "" {
		return analyzeColumn, nil
	}
	if ts := tab.TimestampColumns(); len(ts) > 0 {
		return ts[0], nil
	}
	return "", fmt.Errorf("no timestamp column detected; pass --column")
}

var histogramCmd = &cobra.Command{
	Use:   "histogram <file>",
	Short: "Event counts per day or hour",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTab(args, func(eng *engine.Engine, tab *tabstore.Tab) (interface{}, error) {
			col, err := timestampColumn(tab)
			if err != nil {
				return nil, err
			}
			return eng.Histogram(tab.ID, nil, col, analytics.Granularity(analyzeGranularity))
		})
	},
}

var gapsCmd = &cobra.Command{
	Use:   "gaps <file>",
	Short: "Silent intervals and activity sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTab(args, func(eng *engine.Engine, tab *tabstore.Tab) (interface{}, error) {
			col, err := timestampColumn(tab)
			if err != nil {
				return nil, err
			}
			return eng.Gaps(tab.ID, nil, col, analyzeThreshold)
		})
	},
}

var burstsCmd = &cobra.Command{
	Use:   "bursts <file>",
	Short: "Windows of anomalous event volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTab(args, func(eng *engine.Engine, tab *tabstore.Tab) (interface{}, error) {
			col, err := timestampColumn(tab)
			if err != nil {
				return nil, err
			}
			return eng.Bursts(tab.ID, nil, col, analyzeWindow, analyzeMultiplier)
		})
	},
}

var stackingCmd = &cobra.Command{
	Use:   "stacking <file>",
	Short: "Value frequency stacking for a column",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if analyzeColumn == "" {
			return fmt.Errorf("--column is required")
		}
		return withTab(args, func(eng *engine.Engine, tab *tabstore.Tab) (interface{}, error) {
			return eng.Stacking(tab.ID, nil, analyzeColumn, analyzeByValue)
		})
	},
}

var coverageCmd = &cobra.Command{
	Use:   "coverage <file>",
	Short: "Per-source event counts and time extents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if analyzeSourceCol == "" {
			return fmt.Errorf("--source-column is required")
		}
		return withTab(args, func(eng *engine.Engine, tab *tabstore.Tab) (interface{}, error) {
			col, err := timestampColumn(tab)
			if err != nil {
				return nil, err
			}
			return eng.Coverage(tab.ID, nil, analyzeSourceCol, col)
		})
	},
}

var iocCmd = &cobra.Command{
	Use:   "ioc <file>",
	Short: "Match indicator patterns against every column",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patterns := append([]string(nil), analyzeIOCs...)
		if analyzeIOCFile != "" {
			data, err := os.ReadFile(analyzeIOCFile)
			if err != nil {
				return fmt.Errorf("failed to read IOC file: %w", err)
			}
			for _, line := range strings.Split(string(data), "\n") {
				line = strings.TrimSpace(line)
				if line != "" && !strings.HasPrefix(line, "#") {
					patterns = append(patterns, line)
				}
			}
		}
		if len(patterns) == 0 {
			return fmt.Errorf("no patterns; pass --ioc or --ioc-file")
		}
		return withTab(args, func(eng *engine.Engine, tab *tabstore.Tab) (interface{}, error) {
			return eng.MatchIOCs(tab.ID, nil, patterns, "")
		})
	},
}

var processTreeCmd = &cobra.Command{
	Use:   "process-tree <file>",
	Short: "Reconstruct process ancestry with detections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTab(args, func(eng *engine.Engine, tab *tabstore.Tab) (interface{}, error) {
			return eng.ProcessTree(tab.ID, nil)
		})
	},
}

var lateralCmd = &cobra.Command{
	Use:   "lateral <file>",
	Short: "Build the lateral movement graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTab(args, func(eng *engine.Engine, tab *tabstore.Tab) (interface{}, error) {
			return eng.LateralMovement(tab.ID, nil, lateral.Options{})
		})
	},
}

var persistenceCmd = &cobra.Command{
	Use:   "persistence <file>",
	Short: "Scan for persistence mechanisms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTab(args, func(eng *engine.Engine, tab *tabstore.Tab) (interface{}, error) {
			return eng.PersistenceScan(tab.ID, nil, persistence.Options{})
		})
	},
}

func init() {
	analyzeCmd.PersistentFlags().StringVar(&importSheet, "sheet", "", "worksheet name for multi-sheet workbooks")
	analyzeCmd.PersistentFlags().StringVar(&analyzeColumn, "column", "", "target column (defaults to the first timestamp column)")
	analyzeCmd.PersistentFlags().BoolVar(&analyzeJSON, "json", true, "emit JSON")

	histogramCmd.Flags().StringVar(&analyzeGranularity, "granularity", "day", "bucket granularity (day, hour)")
	gapsCmd.Flags().Int64Var(&analyzeThreshold, "threshold", 60, "gap threshold in minutes")
	burstsCmd.Flags().Int64Var(&analyzeWindow, "window", 1, "window width in minutes")
	burstsCmd.Flags().Float64Var(&analyzeMultiplier, "multiplier", 5, "burst threshold multiplier over baseline")
	stackingCmd.Flags().BoolVar(&analyzeByValue, "by-value", false, "sort by value instead of count")
	coverageCmd.Flags().StringVar(&analyzeSourceCol, "source-column", "", "log source column")
	iocCmd.Flags().StringArrayVar(&analyzeIOCs, "ioc", nil, "indicator pattern (repeatable)")
	iocCmd.Flags().StringVar(&analyzeIOCFile, "ioc-file", "", "file with one pattern per line")

	analyzeCmd.AddCommand(histogramCmd, gapsCmd, burstsCmd, stackingCmd, coverageCmd,
		iocCmd, processTreeCmd, lateralCmd, persistenceCmd)
	rootCmd.AddCommand(analyzeCmd)
}
