package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	statusJSON  bool
	statusYAML  bool
	statusHDF5  string
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-stage counts with pending and stale rows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusJSON && statusYAML {
			return fmt.Errorf("--json and --yaml are mutually exclusive")
		}
		d, err := OpenLedger(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer d.Close()

		l, err := newLedger(d, needs{})
		if err != nil {
			return err
		}
		st, err := l.Status(cmd.Context(), definition, statusHDF5)
		if err != nil {
			return fmt.Errorf("status %s: %w", definition, err)
		}

		switch {
		case statusJSON:
			return writeJSON(os.Stdout, st)
		case statusYAML:
			return writeYAML(os.Stdout, st)
		}
		printStatus(os.Stdout, st, statusLimit)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVar(&statusYAML, "yaml", false, "Output as YAML")
	statusCmd.Flags().StringVar(&statusHDF5, "hdf5", "", "Directory of intermediate files, enables the staleness check")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Maximum pending and stale rows to list")
	rootCmd.AddCommand(statusCmd)
}
