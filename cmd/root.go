package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spineprod/cafledger/internal/config"
	"spineprod/cafledger/internal/db"
)

// EnvDB overrides the per-definition ledger path.
const EnvDB = "CAFLEDGER_DB"

var (
	cfgFile    string
	definition string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "cafledger",
	Short:         "Track LArCV to CAF, HDF5 and flat CAF provenance and drive the converters",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := config.New(cfgFile)
		if err := v.BindPFlag("db_dir", cmd.Flags().Lookup("db-dir")); err != nil {
			return err
		}
		if err := v.BindPFlag("log.level", cmd.Flags().Lookup("log-level")); err != nil {
			return err
		}
		loaded, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := config.InitLogger(loaded.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// exitError carries a non-default exit status out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// errPartial reports a batch that completed with per-row failures.
func errPartial(n int) error {
	return &exitError{code: 2, msg: fmt.Sprintf("completed with %d failure(s)", n)}
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to cafledger.yaml (default ./cafledger.yaml or ~/.config/cafledger/cafledger.yaml)")
	rootCmd.PersistentFlags().String("db-dir", "db", "Directory holding one ledger file per definition")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&definition, "definition", "d", "", "Catalog dataset definition the ledger belongs to")
}

// LedgerPath returns the ledger file for a definition.
// Priority: CAFLEDGER_DB env > <db_dir>/<definition>.db
func LedgerPath(dbDir, def string) (string, error) {
	if envPath := os.Getenv(EnvDB); envPath != "" {
		return envPath, nil
	}
	if def == "" {
		return "", fmt.Errorf("--definition is required")
	}
	if strings.ContainsAny(def, `/\`) {
		return "", fmt.Errorf("definition %q must not contain a path separator", def)
	}
	return filepath.Join(dbDir, def+".db"), nil
}

// OpenLedger opens the ledger for the current definition and brings its
// schema up to date. With create set a missing file is created along with
// its directory; otherwise a missing ledger is an error.
func OpenLedger(ctx context.Context, create bool) (*db.DB, error) {
	path, err := LedgerPath(cfg.DBDir, definition)
	if err != nil {
		return nil, err
	}
	if create {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger dir: %w", err)
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no ledger for %q at %s (run sync --update first)", definition, path)
	}
	d, err := db.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := d.EnsureSchema(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// ResolveRow finds a row by exact source name, exact intermediate name or
// unique source-name prefix.
func ResolveRow(ctx context.Context, d *db.DB, reference string) (*db.DatasetRow, error) {
	// 1. Exact source name
	row, err := d.GetRow(ctx, reference)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	// 2. Exact intermediate name
	row, err = d.GetByIntermediate(ctx, filepath.Base(reference))
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	// 3. Source name prefix
	if reference != "" {
		matches, err := d.SearchByPrefix(ctx, reference, 10)
		if err != nil {
			return nil, err
		}
		switch len(matches) {
		case 0:
		case 1:
			return &matches[0], nil
		default:
			lines := make([]string, len(matches))
			for i, m := range matches {
				lines[i] = "  " + m.SourceName
			}
			return nil, fmt.Errorf("ambiguous reference '%s'. %d matches:\n%s\nUse a full source name instead.",
				reference, len(matches), strings.Join(lines, "\n"))
		}
	}

	return nil, fmt.Errorf("row not found: %s", reference)
}
