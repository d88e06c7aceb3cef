package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// sessionCmd groups session operations.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Restore saved analysis sessions",
}

// sessionLoadCmd re-imports a session's files and restores bookmarks,
// tags, and color rules. Missing files fail individually.
var sessionLoadCmd = &cobra.Command{
	Use:   "load <session.json>",
	Short: "Load a session file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := setupEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		result, err := eng.LoadSession(args[0])
		if err != nil {
			return err
		}

		for name, id := range result.Restored {
			fmt.Printf("restored %s (tab %s)\n", name, id)
		}
		for name, msg := range result.Failed {
			fmt.Printf("FAILED  %s: %s\n", name, msg)
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d of %d tabs failed to restore", len(result.Failed), len(result.Session.Tabs))
		}
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionLoadCmd)
	rootCmd.AddCommand(sessionCmd)
}
