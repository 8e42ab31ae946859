package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LinkIntermediates scans dir for files carrying the intermediate suffix and
// links each to the row named by the mapper. Files with no matching row are
// counted as unmatched. An empty directory links nothing.
func (l *Ledger) LinkIntermediates(ctx context.Context, dir string) (*StepReport, error) {
	start := time.Now()
	rep := &StepReport{Step: StepLinkIntermediate}

	names, err := l.opts.FS.List(dir, l.opts.Mapper.IntermediateSuffix)
	if err != nil {
		return rep, err
	}
	rep.Candidates = len(names)
	if len(names) > 0 {
		src, _ := l.opts.Mapper.SourceName(names[0])
		l.log.Debug("intermediate name mapping", zap.String("example", names[0]), zap.String("source", src))
	}

	p := l.progress("linking intermediate files", len(names))
	for i, name := range names {
		source, err := l.opts.Mapper.SourceName(name)
		if err != nil {
			rep.fail(newFailure(StepLinkIntermediate, name, err))
			continue
		}
		n, err := l.store.SetIntermediateName(ctx, source, name)
		switch {
		case err != nil:
			l.log.Warn("link intermediate file failed", zap.String("file", name), zap.Error(err))
			rep.fail(newFailure(StepLinkIntermediate, name, err))
		case n == 0:
			rep.Unmatched++
		default:
			rep.Updated += int(n)
		}
		p.tick(i + 1)
	}

	rep.Duration = time.Since(start)
	l.log.Info("linked intermediate files",
		zap.String("dir", dir),
		zap.Int("rows_updated", rep.Updated),
		zap.Int("unmatched", rep.Unmatched),
	)
	return rep, nil
}
