package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <ref>",
	Short: "Print one row's lineage: parent, source, intermediate, final and standard",
	Long:  "The reference is a source name, an intermediate file name, or a unique source-name prefix.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := OpenLedger(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer d.Close()

		row, err := ResolveRow(cmd.Context(), d, args[0])
		if err != nil {
			return err
		}
		if showJSON {
			return writeJSON(os.Stdout, row)
		}
		printLineage(os.Stdout, row)
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(showCmd)
}
