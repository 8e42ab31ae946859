package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"spineprod/cafledger/internal/ledger"
)

var (
	syncUpdate bool
	syncHDF5   string
	syncFlat   string
	syncJSON   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ingest from the catalog, link local files and produce or refresh flat files",
	Long: `Runs the ledger batch for one definition:

  --update           ingest <definition>_larcv and link <definition>_caf
  --hdf5 <dir>       link intermediate files found in dir
  --hdf5 and --flat  produce missing final artifacts, then refresh stale ones

Exits 2 when the batch finished with per-row failures.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncFlat != "" && syncHDF5 == "" {
			return fmt.Errorf("--flat requires --hdf5")
		}
		if !syncUpdate && syncHDF5 == "" {
			return fmt.Errorf("nothing to do: pass --update and/or --hdf5")
		}

		d, err := OpenLedger(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer d.Close()

		produce := syncHDF5 != "" && syncFlat != ""
		l, err := newLedger(d, needs{catalog: syncUpdate || produce, converter: produce})
		if err != nil {
			return err
		}

		rep, err := l.Run(cmd.Context(), ledger.RunOptions{
			Definition: definition,
			Command:    syncCommandLine(),
			Update:     syncUpdate,
			SourceDir:  syncHDF5,
			DestDir:    syncFlat,
		})
		if syncJSON {
			if werr := writeJSON(os.Stdout, rep); werr != nil {
				return werr
			}
		} else if rep != nil && len(rep.Steps) > 0 {
			printReport(os.Stdout, rep)
		}
		if err != nil {
			return fmt.Errorf("sync %s: %w", definition, err)
		}
		if n := len(rep.Failures()); n > 0 {
			return errPartial(n)
		}
		return nil
	},
}

func syncCommandLine() string {
	parts := []string{"sync"}
	if syncUpdate {
		parts = append(parts, "--update")
	}
	if syncHDF5 != "" {
		parts = append(parts, "--hdf5", syncHDF5)
	}
	if syncFlat != "" {
		parts = append(parts, "--flat", syncFlat)
	}
	return strings.Join(parts, " ")
}

func init() {
	syncCmd.Flags().BoolVar(&syncUpdate, "update", false, "Ingest source files and link standard files from the catalog")
	syncCmd.Flags().StringVar(&syncHDF5, "hdf5", "", "Directory of intermediate (HDF5) files")
	syncCmd.Flags().StringVar(&syncFlat, "flat", "", "Directory to write final (flat CAF) files into")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "Output the run report as JSON")
	rootCmd.AddCommand(syncCmd)
}
