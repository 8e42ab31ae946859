package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	runsJSON  bool
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded sync and reprocess runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := OpenLedger(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer d.Close()

		runs, err := d.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}
		if runsJSON {
			return writeJSON(os.Stdout, runs)
		}
		printRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Output as JSON")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")
	rootCmd.AddCommand(runsCmd)
}
