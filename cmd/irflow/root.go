package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/r3nzsec/irflow-timeline/internal/engine"
	"github.com/r3nzsec/irflow-timeline/internal/logging"
	"github.com/r3nzsec/irflow-timeline/pkg/config"
)

var (
	// Version is set during build
	Version = "1.4.0"

	logLevel string
	quiet    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "irflow",
	Short: "Forensic timeline analysis engine",
	Long: `irflow ingests DFIR artifacts (CSV/TSV, XLSX, EVTX, Plaso) into
embedded per-tab stores and runs interactive timeline analytics:
windowed queries, full-text search, histograms, burst and gap
detection, IOC matching, process trees, lateral movement graphs,
persistence scanning, merged super-timelines, and HTML reports.

Examples:
  irflow import security.evtx triage.csv
  irflow query security.evtx --sort timestamp --limit 20
  irflow analyze bursts timeline.csv --column timestamp --window 1
  irflow export timeline.csv --format xlsx --out filtered.xlsx
  irflow serve                 # REST API for the desktop shell`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log_level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress output")
}

// setupEngine loads configuration, initializes logging, and builds the
// engine. Every subcommand starts here.
func setupEngine() (*engine.Engine, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	if quiet {
		level = "error"
	}
	logging.Init(logging.Config{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	eng, err := engine.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	return eng, cfg, nil
}

func main() {
	Execute()
}
