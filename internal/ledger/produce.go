package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"spineprod/cafledger/internal/catalog"
	"spineprod/cafledger/internal/convert"
	"spineprod/cafledger/internal/db"
)

// ErrNotReady is returned when a row lacks the intermediate or standard
// name needed for conversion.
var ErrNotReady = errors.New("row has no intermediate or standard file")

// ProduceFinals converts every row whose intermediate and standard names are
// known but which has no final artifact. Intermediate files are read from
// srcDir and finals written to dstDir.
func (l *Ledger) ProduceFinals(ctx context.Context, srcDir, dstDir string) (*StepReport, error) {
	start := time.Now()
	rep := &StepReport{Step: StepProduce}

	rows, err := l.store.PendingFinal(ctx)
	if err != nil {
		return rep, err
	}
	rep.Candidates = len(rows)

	p := l.progress("producing final artifacts", len(rows))
	for i, row := range rows {
		if err := l.process(ctx, rep, row, srcDir, dstDir); err != nil {
			return rep, err
		}
		p.tick(i + 1)
	}

	rep.Duration = time.Since(start)
	l.log.Info("produced final artifacts",
		zap.Int("produced", rep.Updated),
		zap.Int("failed", len(rep.Failures)),
		zap.Duration("elapsed", rep.Duration),
	)
	return rep, nil
}

// RefreshStale reconverts rows whose intermediate file was modified after
// their final artifact was recorded. Without modified files nothing is
// written.
func (l *Ledger) RefreshStale(ctx context.Context, srcDir, dstDir string) (*StepReport, error) {
	start := time.Now()
	rep := &StepReport{Step: StepRefresh}

	rows, err := l.store.WithFinal(ctx)
	if err != nil {
		return rep, err
	}
	stale, failures := FindStale(rows, srcDir, l.opts.FS)
	for _, f := range failures {
		l.log.Warn("stat intermediate failed", zap.String("source", f.Key), zap.String("error", f.Error))
		rep.fail(f)
	}
	rep.Candidates = len(stale)

	p := l.progress("refreshing stale artifacts", len(stale))
	for i, s := range stale {
		l.log.Debug("stale row", zap.String("source", s.Row.SourceName), zap.Duration("drift", s.Drift))
		if err := l.process(ctx, rep, s.Row, srcDir, dstDir); err != nil {
			return rep, err
		}
		p.tick(i + 1)
	}

	rep.Duration = time.Since(start)
	l.log.Info("refreshed stale artifacts",
		zap.Int("refreshed", rep.Updated),
		zap.Int("failed", len(rep.Failures)),
		zap.Duration("elapsed", rep.Duration),
	)
	return rep, nil
}

// ForceReprocess converts one row regardless of staleness.
func (l *Ledger) ForceReprocess(ctx context.Context, row db.DatasetRow, srcDir, dstDir string) (*StepReport, error) {
	start := time.Now()
	rep := &StepReport{Step: StepReprocess, Candidates: 1}
	if !row.ReadyForFinal() {
		return rep, eris.Wrapf(ErrNotReady, "ledger: reprocess %s", row.SourceName)
	}
	if err := l.process(ctx, rep, row, srcDir, dstDir); err != nil {
		return rep, err
	}
	rep.Duration = time.Since(start)
	return rep, nil
}

// process converts one row and records the result. Per-row problems are
// added to rep; the returned error is one that should end the batch.
func (l *Ledger) process(ctx context.Context, rep *StepReport, row db.DatasetRow, srcDir, dstDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.opts.Converter == nil || l.opts.Catalog == nil {
		return eris.New("ledger: conversion needs a catalog and a converter")
	}
	key := row.SourceName
	failRow := func(err error) {
		l.log.Warn("conversion failed", zap.String("source", key), zap.String("step", string(rep.Step)), zap.Error(err))
		rep.fail(newFailure(rep.Step, key, err))
	}
	if !row.ReadyForFinal() {
		failRow(ErrNotReady)
		return nil
	}

	intermediate := *row.IntermediateName
	intermediatePath := filepath.Join(srcDir, intermediate)
	finalPath, err := l.opts.Mapper.FinalPath(dstDir, intermediate)
	if err != nil {
		failRow(err)
		return nil
	}

	// Taken before converting so a write during conversion shows up as stale next run.
	mtime, err := l.opts.FS.ModTime(intermediatePath)
	if err != nil {
		failRow(err)
		return nil
	}

	stdDir, err := l.opts.Catalog.Locate(ctx, *row.StandardName)
	if errors.Is(err, catalog.ErrNoLocation) {
		failRow(err)
		return nil
	}
	if err != nil {
		return err
	}

	res, err := l.opts.Converter.Convert(ctx, convert.Job{
		SourceName:       key,
		StandardPath:     filepath.Join(stdDir, *row.StandardName),
		IntermediatePath: intermediatePath,
		FinalPath:        finalPath,
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		failRow(err)
		return nil
	}

	if err := l.store.RecordFinal(ctx, key, res.FinalPath, mtime.UnixNano()); err != nil {
		failRow(err)
		return nil
	}
	rep.Updated++
	l.log.Debug("final artifact recorded",
		zap.String("source", key),
		zap.String("final", res.FinalPath),
		zap.Duration("elapsed", res.Duration),
	)
	return nil
}
