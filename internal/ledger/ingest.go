package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"spineprod/cafledger/internal/catalog"
	"spineprod/cafledger/internal/db"
)

// listWithParents lists a catalog definition and resolves each member's
// lineage parent. Catalog errors are returned as-is and end the batch.
func (l *Ledger) listWithParents(ctx context.Context, definition, msg string) ([]string, []string, error) {
	if l.opts.Catalog == nil {
		return nil, nil, eris.New("ledger: no catalog configured")
	}

	files, err := l.opts.Catalog.ListFiles(ctx, definition)
	if err != nil {
		return nil, nil, err
	}
	l.log.Info("listed catalog definition",
		zap.String("definition", definition),
		zap.Int("files", len(files)),
	)

	p := l.progress(msg, len(files))
	parents, err := catalog.ResolveParents(ctx, l.opts.Catalog, files, l.opts.LookupWorkers, p.tick)
	if err != nil {
		return nil, nil, err
	}
	return files, parents, nil
}

// IngestSources inserts a row for every file of <definition><SourceSuffix>
// keyed by file name, with its lineage parent. Files already in the ledger
// are counted as skipped; other store errors become per-row failures.
func (l *Ledger) IngestSources(ctx context.Context, definition string) (*StepReport, error) {
	start := time.Now()
	rep := &StepReport{Step: StepIngest}

	files, parents, err := l.listWithParents(ctx, definition+l.opts.SourceSuffix, "looking up parents of source files")
	if err != nil {
		return rep, err
	}
	rep.Candidates = len(files)

	for i, f := range files {
		err := l.store.InsertSource(ctx, f, parents[i])
		switch {
		case err == nil:
			rep.Updated++
		case errors.Is(err, db.ErrDuplicate):
			rep.Skipped++
		default:
			l.log.Warn("insert source failed", zap.String("source", f), zap.Error(err))
			rep.fail(newFailure(StepIngest, f, err))
		}
	}

	rep.Duration = time.Since(start)
	l.log.Info("ingested source files",
		zap.Int("inserted", rep.Updated),
		zap.Int("already_present", rep.Skipped),
		zap.Int("failed", len(rep.Failures)),
	)
	return rep, nil
}

// LinkStandardNames sets standard_name on every row whose parent_name equals
// the lineage parent of a file in <definition><StandardSuffix>. Files whose
// parent matches no row are counted as unmatched.
func (l *Ledger) LinkStandardNames(ctx context.Context, definition string) (*StepReport, error) {
	start := time.Now()
	rep := &StepReport{Step: StepLinkStandard}

	files, parents, err := l.listWithParents(ctx, definition+l.opts.StandardSuffix, "looking up parents of standard files")
	if err != nil {
		return rep, err
	}
	rep.Candidates = len(files)

	for i, f := range files {
		n, err := l.store.SetStandardName(ctx, parents[i], f)
		if err != nil {
			l.log.Warn("link standard file failed", zap.String("standard", f), zap.Error(err))
			rep.fail(newFailure(StepLinkStandard, f, err))
			continue
		}
		if n == 0 {
			rep.Unmatched++
			continue
		}
		rep.Updated += int(n)
	}

	rep.Duration = time.Since(start)
	l.log.Info("linked standard files",
		zap.Int("rows_updated", rep.Updated),
		zap.Int("unmatched", rep.Unmatched),
		zap.Int("failed", len(rep.Failures)),
	)
	return rep, nil
}
