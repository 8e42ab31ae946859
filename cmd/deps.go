package cmd

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"spineprod/cafledger/internal/catalog"
	"spineprod/cafledger/internal/convert"
	"spineprod/cafledger/internal/db"
	"spineprod/cafledger/internal/ledger"
	"spineprod/cafledger/internal/scan"
)

// needs selects which external collaborators a command wires up.
type needs struct {
	catalog   bool
	converter bool
}

// newLedger builds a Ledger over d from the loaded config.
func newLedger(d *db.DB, n needs) (*ledger.Ledger, error) {
	mapper, err := scan.NewMapper(cfg.Naming.IntermediateSuffix, cfg.Naming.SourceExt, cfg.Naming.FinalSuffix)
	if err != nil {
		return nil, fmt.Errorf("naming config: %w", err)
	}

	opts := ledger.Options{
		Mapper:         mapper,
		SourceSuffix:   cfg.Catalog.SourceSuffix,
		StandardSuffix: cfg.Catalog.StandardSuffix,
		LookupWorkers:  cfg.Catalog.LookupWorkers,
		ProgressEvery:  cfg.Log.ProgressEvery,
		Logger:         zap.L(),
	}

	if n.catalog {
		opts.Catalog = catalog.NewSAMWeb(cfg.Catalog.Endpoint(),
			catalog.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Catalog.TimeoutSecs) * time.Second}),
			catalog.WithRateLimit(cfg.Catalog.RatePerSec),
			catalog.WithMaxAttempts(cfg.Catalog.MaxAttempts),
		)
	}

	if n.converter {
		runner, err := convert.NewRunner(convert.Config{
			MergeBin:    cfg.Convert.MergeBin,
			FlattenBin:  cfg.Convert.FlattenBin,
			WorkDir:     cfg.Convert.WorkDir,
			Timeout:     time.Duration(cfg.Convert.TimeoutSecs) * time.Second,
			StderrLimit: cfg.Convert.StderrLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("locating converters: %w", err)
		}
		zap.L().Debug("converters",
			zap.String("merge", runner.MergePath()),
			zap.String("flatten", runner.FlattenPath()),
		)
		opts.Converter = runner
	}

	return ledger.New(d, opts), nil
}
