package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"spineprod/cafledger/internal/db"
)

// RunOptions selects the steps of a batch run.
type RunOptions struct {
	Definition string
	Command    string // recorded in the run log
	Update     bool   // ingest sources and link standard names from the catalog
	SourceDir  string // link intermediates from here when set
	DestDir    string // produce and refresh finals here when SourceDir is also set
}

// Run executes one batch and records it in the run log. Steps run in order:
// ingest, link standard, link intermediate, produce, refresh. The returned
// error ends the batch early; per-row failures are only in the report.
func (l *Ledger) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	if err := l.store.EnsureSchema(ctx); err != nil {
		return &Report{Definition: opts.Definition}, err
	}
	return l.logged(ctx, opts.Definition, opts.Command, func(rep *Report) error {
		return l.runSteps(ctx, rep, opts)
	})
}

// Reprocess runs ForceReprocess on one row as a logged run.
func (l *Ledger) Reprocess(ctx context.Context, definition, command string, row db.DatasetRow, srcDir, dstDir string) (*Report, error) {
	return l.logged(ctx, definition, command, func(rep *Report) error {
		s, err := l.ForceReprocess(ctx, row, srcDir, dstDir)
		rep.add(s)
		return err
	})
}

// logged wraps steps with StartRun and FinishRun or FailRun.
func (l *Ledger) logged(ctx context.Context, definition, command string, steps func(*Report) error) (*Report, error) {
	start := time.Now()
	rep := &Report{Definition: definition}

	runID, err := l.store.StartRun(ctx, definition, command)
	if err != nil {
		return rep, err
	}
	rep.RunID = runID
	log := l.log.With(zap.String("run_id", runID), zap.String("definition", definition))
	log.Info("run started", zap.String("command", command))

	err = steps(rep)
	rep.Duration = time.Since(start)
	if err != nil {
		log.Error("run failed", zap.Error(err))
		// The run context may already be cancelled.
		if ferr := l.store.FailRun(context.WithoutCancel(ctx), runID, rep.Counts(), err.Error()); ferr != nil {
			log.Warn("record failed run", zap.Error(ferr))
		}
		return rep, err
	}
	return rep, l.finish(ctx, rep, log)
}

func (l *Ledger) runSteps(ctx context.Context, rep *Report, opts RunOptions) error {
	if opts.Update {
		s, err := l.IngestSources(ctx, opts.Definition)
		rep.add(s)
		if err != nil {
			return err
		}
		s, err = l.LinkStandardNames(ctx, opts.Definition)
		rep.add(s)
		if err != nil {
			return err
		}
	}
	if opts.SourceDir == "" {
		return nil
	}
	s, err := l.LinkIntermediates(ctx, opts.SourceDir)
	rep.add(s)
	if err != nil {
		return err
	}
	if opts.DestDir == "" {
		return nil
	}
	s, err = l.ProduceFinals(ctx, opts.SourceDir, opts.DestDir)
	rep.add(s)
	if err != nil {
		return err
	}
	s, err = l.RefreshStale(ctx, opts.SourceDir, opts.DestDir)
	rep.add(s)
	return err
}

// finish writes the completed run to the log.
func (l *Ledger) finish(ctx context.Context, rep *Report, log *zap.Logger) error {
	failures, err := rep.failuresJSON()
	if err != nil {
		return err
	}
	if err := l.store.FinishRun(ctx, rep.RunID, rep.Counts(), failures); err != nil {
		return err
	}
	c := rep.Counts()
	log.Info("run finished",
		zap.Int("inserted", c.Inserted),
		zap.Int("linked_standard", c.LinkedStandard),
		zap.Int("linked_intermediate", c.LinkedIntermediate),
		zap.Int("produced", c.Produced),
		zap.Int("refreshed", c.Refreshed),
		zap.Int("failures", len(rep.Failures())),
		zap.Duration("elapsed", rep.Duration),
	)
	return nil
}
