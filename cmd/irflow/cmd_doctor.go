package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
	"github.com/r3nzsec/irflow-timeline/pkg/config"
)

// doctorCmd checks the environment: config, scratch directory
// writability, SQLite driver features, and FTS5 availability.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment and storage setup",
	RunE: func(cmd *cobra.Command, args []string) error {
		ok := true
		check := func(name string, err error) {
			if err != nil {
				ok = false
				fmt.Printf("FAIL  %s: %v\n", name, err)
				return
			}
			fmt.Printf("ok    %s\n", name)
		}

		cfg, err := config.Load()
		check("config", err)
		if err != nil {
			return fmt.Errorf("cannot continue without config")
		}

		check("directories", cfg.EnsureDirs())

		// Scratch writability via a real tab store round trip.
		probe := func() error {
			tab, err := tabstore.Create(cfg.Storage.ScratchDir, "doctor-probe", "probe", "", []string{"ts", "value"})
			if err != nil {
				return err
			}
			defer tab.Close()
			if err := tab.InsertBatch([]string{"2026-01-01 00:00:00", "1"}); err != nil {
				return err
			}
			return tab.Finalize()
		}
		check("scratch store", probe())

		// Registered functions and FTS5.
		features := func() error {
			path := filepath.Join(cfg.Storage.ScratchDir, "doctor-features.db")
			defer os.Remove(path)
			tab, err := tabstore.Create(cfg.Storage.ScratchDir, "doctor-features", "features", "", []string{"c"})
			if err != nil {
				return err
			}
			defer tab.Close()

			var d sql.NullString
			if err := tab.DB().QueryRow("SELECT extract_date('2026-01-17 10:00:00')").Scan(&d); err != nil {
				return fmt.Errorf("extract_date: %w", err)
			}
			if d.String != "2026-01-17" {
				return fmt.Errorf("extract_date returned %q", d.String)
			}
			if _, err := tab.DB().Exec("CREATE VIRTUAL TABLE probe_fts USING fts5(c)"); err != nil {
				return fmt.Errorf("fts5: %w", err)
			}
			return nil
		}
		check("scalar functions + fts5", features())

		if !ok {
			return fmt.Errorf("environment problems found")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
