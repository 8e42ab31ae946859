package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	reprocessHDF5 string
	reprocessFlat string
	reprocessJSON bool
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <ref>",
	Short: "Re-run the conversion for one row regardless of staleness",
	Long:  "Resolves the row from a source name, intermediate file name or unique prefix and runs merge and flatten again, overwriting its final artifact.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if reprocessHDF5 == "" || reprocessFlat == "" {
			return fmt.Errorf("--hdf5 and --flat are required")
		}
		d, err := OpenLedger(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer d.Close()

		row, err := ResolveRow(cmd.Context(), d, args[0])
		if err != nil {
			return fmt.Errorf("cannot find row: %w", err)
		}

		l, err := newLedger(d, needs{catalog: true, converter: true})
		if err != nil {
			return err
		}

		if !reprocessJSON {
			fmt.Printf("[reprocess] %s (%s)\n", row.SourceName, deref(row.IntermediateName))
		}
		rep, err := l.Reprocess(cmd.Context(), definition, "reprocess "+row.SourceName, *row, reprocessHDF5, reprocessFlat)
		if reprocessJSON {
			if werr := writeJSON(os.Stdout, rep); werr != nil {
				return werr
			}
		} else if rep != nil && len(rep.Steps) > 0 {
			printReport(os.Stdout, rep)
		}
		if err != nil {
			return err
		}
		if n := len(rep.Failures()); n > 0 {
			return errPartial(n)
		}
		return nil
	},
}

func init() {
	reprocessCmd.Flags().StringVar(&reprocessHDF5, "hdf5", "", "Directory of intermediate (HDF5) files")
	reprocessCmd.Flags().StringVar(&reprocessFlat, "flat", "", "Directory to write the final (flat CAF) file into")
	reprocessCmd.Flags().BoolVar(&reprocessJSON, "json", false, "Output the run report as JSON")
	rootCmd.AddCommand(reprocessCmd)
}
