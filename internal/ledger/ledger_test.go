package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spineprod/cafledger/internal/catalog"
	"spineprod/cafledger/internal/convert"
	"spineprod/cafledger/internal/db"
	"spineprod/cafledger/internal/scan"
)

var baseTime = time.Unix(1_700_000_000, 0)

type fakeCatalog struct {
	lists     map[string][]string
	parents   map[string]string
	locations map[string]string
	listErr   error
}

func (f *fakeCatalog) ListFiles(_ context.Context, definition string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.lists[definition], nil
}

func (f *fakeCatalog) Parent(_ context.Context, filename string) (string, error) {
	p, ok := f.parents[filename]
	if !ok {
		return "", fmt.Errorf("%s: %w", filename, catalog.ErrNoParent)
	}
	return p, nil
}

func (f *fakeCatalog) Locate(_ context.Context, filename string) (string, error) {
	dir, ok := f.locations[filename]
	if !ok {
		return "", fmt.Errorf("%s: %w", filename, catalog.ErrNoLocation)
	}
	return dir, nil
}

type fakeConverter struct {
	mu   sync.Mutex
	jobs []convert.Job
	fail map[string]error
}

func (f *fakeConverter) Convert(_ context.Context, job convert.Job) (*convert.Result, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if err := f.fail[job.SourceName]; err != nil {
		return nil, err
	}
	if err := os.WriteFile(job.FinalPath, []byte("flat"), 0o644); err != nil {
		return nil, err
	}
	return &convert.Result{FinalPath: job.FinalPath}, nil
}

func (f *fakeConverter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fixture struct {
	ledger *Ledger
	db     *db.DB
	cat    *fakeCatalog
	conv   *fakeConverter
	src    string
	dst    string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	d, err := db.OpenDB(filepath.Join(dir, "mc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.EnsureSchema(context.Background()))

	mapper, err := scan.NewMapper("_lite.h5", ".root", "_flat.root")
	require.NoError(t, err)

	f := &fixture{
		db: d,
		cat: &fakeCatalog{
			lists: map[string][]string{
				"mc_larcv": {"a.root", "b.root"},
				"mc_caf":   {"a_caf.root", "b_caf.root", "x_caf.root"},
			},
			parents: map[string]string{
				"a.root":     "gen_a.root",
				"b.root":     "gen_b.root",
				"a_caf.root": "gen_a.root",
				"b_caf.root": "gen_b.root",
				"x_caf.root": "gen_x.root",
			},
			locations: map[string]string{
				"a_caf.root": "/pnfs/caf",
				"b_caf.root": "/pnfs/caf",
			},
		},
		conv: &fakeConverter{fail: map[string]error{}},
		src:  filepath.Join(dir, "hdf5"),
		dst:  filepath.Join(dir, "flat"),
	}
	require.NoError(t, os.MkdirAll(f.src, 0o755))
	require.NoError(t, os.MkdirAll(f.dst, 0o755))

	f.ledger = New(d, Options{
		Catalog:        f.cat,
		Converter:      f.conv,
		Mapper:         mapper,
		SourceSuffix:   "_larcv",
		StandardSuffix: "_caf",
		ProgressEvery:  1,
		Logger:         zap.NewNop(),
	})
	return f
}

// writeIntermediate creates an intermediate file with a fixed mtime.
func (f *fixture) writeIntermediate(t *testing.T, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(f.src, name)
	require.NoError(t, os.WriteFile(path, []byte("h5"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// prepare ingests, links both names and writes intermediates for a and b.
func (f *fixture) prepare(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.IngestSources(ctx, "mc")
	require.NoError(t, err)
	_, err = f.ledger.LinkStandardNames(ctx, "mc")
	require.NoError(t, err)
	f.writeIntermediate(t, "a_lite.h5", baseTime)
	f.writeIntermediate(t, "b_lite.h5", baseTime)
	_, err = f.ledger.LinkIntermediates(ctx, f.src)
	require.NoError(t, err)
}

func (f *fixture) row(t *testing.T, source string) *db.DatasetRow {
	t.Helper()
	r, err := f.db.GetRow(context.Background(), source)
	require.NoError(t, err)
	return r
}

func TestIngestSources_Twice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.ledger.IngestSources(ctx, "mc")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Candidates)
	assert.Equal(t, 2, first.Updated)
	assert.Zero(t, first.Skipped)

	second, err := f.ledger.IngestSources(ctx, "mc")
	require.NoError(t, err)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 2, second.Skipped)
	assert.Empty(t, second.Failures)

	stats, err := f.db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, "gen_a.root", f.row(t, "a.root").ParentName)
}

func TestIngestSources_CatalogErrorEndsBatch(t *testing.T) {
	f := setup(t)
	f.cat.listErr = errors.New("samweb down")

	_, err := f.ledger.IngestSources(context.Background(), "mc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "samweb down")
}

func TestIngestSources_MissingParentEndsBatch(t *testing.T) {
	f := setup(t)
	f.cat.lists["mc_larcv"] = []string{"a.root", "orphan.root"}

	_, err := f.ledger.IngestSources(context.Background(), "mc")
	assert.ErrorIs(t, err, catalog.ErrNoParent)
}

func TestLinkStandardNames(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.cat.lists["mc_larcv"] = []string{"a.root", "b.root"}
	_, err := f.ledger.IngestSources(ctx, "mc")
	require.NoError(t, err)
	f.cat.lists["mc_caf"] = []string{"a_caf.root", "x_caf.root"}

	rep, err := f.ledger.LinkStandardNames(ctx, "mc")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, 1, rep.Unmatched)

	a := f.row(t, "a.root")
	require.NotNil(t, a.StandardName)
	assert.Equal(t, "a_caf.root", *a.StandardName)
	assert.Nil(t, f.row(t, "b.root").StandardName)
}

func TestLinkIntermediates_EmptyDir(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.ledger.IngestSources(ctx, "mc")
	require.NoError(t, err)

	rep, err := f.ledger.LinkIntermediates(ctx, f.src)
	require.NoError(t, err)
	assert.Zero(t, rep.Candidates)
	assert.Zero(t, rep.Updated)
	assert.Empty(t, rep.Failures)
}

func TestLinkIntermediates_Unmatched(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.ledger.IngestSources(ctx, "mc")
	require.NoError(t, err)
	f.writeIntermediate(t, "a_lite.h5", baseTime)
	f.writeIntermediate(t, "zzz_lite.h5", baseTime)
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "notes.txt"), nil, 0o644))

	rep, err := f.ledger.LinkIntermediates(ctx, f.src)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Candidates)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, 1, rep.Unmatched)

	a := f.row(t, "a.root")
	require.NotNil(t, a.IntermediateName)
	assert.Equal(t, "a_lite.h5", *a.IntermediateName)
}

func TestLinkIntermediates_MissingDir(t *testing.T) {
	f := setup(t)
	_, err := f.ledger.LinkIntermediates(context.Background(), filepath.Join(f.src, "nope"))
	assert.Error(t, err)
}

func TestProduceFinals(t *testing.T) {
	f := setup(t)
	f.prepare(t)
	ctx := context.Background()

	rep, err := f.ledger.ProduceFinals(ctx, f.src, f.dst)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Candidates)
	assert.Equal(t, 2, rep.Updated)
	assert.Empty(t, rep.Failures)

	for _, stem := range []string{"a", "b"} {
		r := f.row(t, stem+".root")
		require.NotNil(t, r.FinalName)
		assert.Equal(t, filepath.Join(f.dst, stem+"_flat.root"), *r.FinalName)
		assert.Equal(t, baseTime.UnixNano(), r.FinalTimestamp)
	}

	require.Len(t, f.conv.jobs, 2)
	job := f.conv.jobs[0]
	assert.Equal(t, "a.root", job.SourceName)
	assert.Equal(t, "/pnfs/caf/a_caf.root", job.StandardPath)
	assert.Equal(t, filepath.Join(f.src, "a_lite.h5"), job.IntermediatePath)

	again, err := f.ledger.ProduceFinals(ctx, f.src, f.dst)
	require.NoError(t, err)
	assert.Zero(t, again.Candidates)
}

func TestProduceFinals_ConverterFailure(t *testing.T) {
	f := setup(t)
	f.prepare(t)
	f.conv.fail["b.root"] = &convert.ExecError{
		Stage:    convert.StageMerge,
		Binary:   "merge_sources_simulation",
		ExitCode: 3,
		Stderr:   "segfault in merge",
	}

	rep, err := f.ledger.ProduceFinals(context.Background(), f.src, f.dst)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)
	require.Len(t, rep.Failures, 1)
	fail := rep.Failures[0]
	assert.Equal(t, StepProduce, fail.Step)
	assert.Equal(t, "b.root", fail.Key)
	assert.Equal(t, 3, fail.ExitCode)
	assert.Equal(t, "segfault in merge", fail.Stderr)

	b := f.row(t, "b.root")
	assert.Nil(t, b.FinalName)
	assert.Zero(t, b.FinalTimestamp)
}

func TestProduceFinals_NoLocationIsRowFailure(t *testing.T) {
	f := setup(t)
	f.prepare(t)
	delete(f.cat.locations, "a_caf.root")

	rep, err := f.ledger.ProduceFinals(context.Background(), f.src, f.dst)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "a.root", rep.Failures[0].Key)
	assert.Nil(t, f.row(t, "a.root").FinalName)
}

func TestProduceFinals_MissingIntermediateIsRowFailure(t *testing.T) {
	f := setup(t)
	f.prepare(t)
	require.NoError(t, os.Remove(filepath.Join(f.src, "a_lite.h5")))

	rep, err := f.ledger.ProduceFinals(context.Background(), f.src, f.dst)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, 1, f.conv.calls())
}

func TestRefreshStale_NoChanges(t *testing.T) {
	f := setup(t)
	f.prepare(t)
	ctx := context.Background()
	_, err := f.ledger.ProduceFinals(ctx, f.src, f.dst)
	require.NoError(t, err)
	calls := f.conv.calls()

	rep, err := f.ledger.RefreshStale(ctx, f.src, f.dst)
	require.NoError(t, err)
	assert.Zero(t, rep.Candidates)
	assert.Zero(t, rep.Updated)
	assert.Equal(t, calls, f.conv.calls())
}

func TestRefreshStale_TouchedFile(t *testing.T) {
	f := setup(t)
	f.prepare(t)
	ctx := context.Background()
	_, err := f.ledger.ProduceFinals(ctx, f.src, f.dst)
	require.NoError(t, err)

	touched := baseTime.Add(time.Hour)
	f.writeIntermediate(t, "b_lite.h5", touched)

	rep, err := f.ledger.RefreshStale(ctx, f.src, f.dst)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, touched.UnixNano(), f.row(t, "b.root").FinalTimestamp)
	assert.Equal(t, baseTime.UnixNano(), f.row(t, "a.root").FinalTimestamp)

	again, err := f.ledger.RefreshStale(ctx, f.src, f.dst)
	require.NoError(t, err)
	assert.Zero(t, again.Updated)
}

func TestFindStale(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, mtime time.Time) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	write("new_lite.h5", baseTime.Add(2*time.Hour))
	write("old_lite.h5", baseTime)
	write("legacy_lite.h5", baseTime.Add(500*time.Millisecond))
	write("drift_lite.h5", baseTime.Add(time.Hour))

	str := func(s string) *string { return &s }
	rows := []db.DatasetRow{
		{SourceName: "new.root", IntermediateName: str("new_lite.h5"), FinalName: str("f"), FinalTimestamp: baseTime.UnixNano()},
		{SourceName: "old.root", IntermediateName: str("old_lite.h5"), FinalName: str("f"), FinalTimestamp: baseTime.UnixNano()},
		{SourceName: "legacy.root", IntermediateName: str("legacy_lite.h5"), FinalName: str("f"), FinalTimestamp: baseTime.Unix()},
		{SourceName: "drift.root", IntermediateName: str("drift_lite.h5"), FinalName: str("f"), FinalTimestamp: baseTime.UnixNano()},
		{SourceName: "gone.root", IntermediateName: str("gone_lite.h5"), FinalName: str("f")},
		{SourceName: "nofinal.root", IntermediateName: str("old_lite.h5")},
	}

	stale, failures := FindStale(rows, dir, scan.OS{})
	require.Len(t, stale, 2)
	assert.Equal(t, "new.root", stale[0].Row.SourceName)
	assert.Equal(t, 2*time.Hour, stale[0].Drift)
	assert.Equal(t, "drift.root", stale[1].Row.SourceName)
	require.Len(t, failures, 1)
	assert.Equal(t, "gone.root", failures[0].Key)
}

func TestForceReprocess(t *testing.T) {
	f := setup(t)
	f.prepare(t)
	ctx := context.Background()
	_, err := f.ledger.ProduceFinals(ctx, f.src, f.dst)
	require.NoError(t, err)

	rep, err := f.ledger.ForceReprocess(ctx, *f.row(t, "a.root"), f.src, f.dst)
	require.NoError(t, err)
	assert.Equal(t, StepReprocess, rep.Step)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, 3, f.conv.calls())
}

func TestForceReprocess_NotReady(t *testing.T) {
	f := setup(t)
	_, err := f.ledger.IngestSources(context.Background(), "mc")
	require.NoError(t, err)

	_, err = f.ledger.ForceReprocess(context.Background(), *f.row(t, "a.root"), f.src, f.dst)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, f.conv.calls())
}

func TestRun_Full(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.writeIntermediate(t, "a_lite.h5", baseTime)
	f.writeIntermediate(t, "b_lite.h5", baseTime)
	opts := RunOptions{Definition: "mc", Command: "sync", Update: true, SourceDir: f.src, DestDir: f.dst}

	rep, err := f.ledger.Run(ctx, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.Len(t, rep.Steps, 5)
	assert.Equal(t, db.RunCounts{Inserted: 2, LinkedStandard: 2, LinkedIntermediate: 2, Produced: 2}, rep.Counts())
	assert.Empty(t, rep.Failures())

	second, err := f.ledger.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Step(StepIngest).Skipped)
	assert.Zero(t, second.Counts().Produced)
	assert.Zero(t, second.Counts().Refreshed)

	runs, err := f.db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].ID)
	assert.Equal(t, db.RunComplete, runs[0].Status)
	assert.Equal(t, 2, runs[1].Produced)
}

func TestRun_StepsFollowFlags(t *testing.T) {
	f := setup(t)
	rep, err := f.ledger.Run(context.Background(), RunOptions{Definition: "mc", Command: "sync", Update: true})
	require.NoError(t, err)
	assert.Len(t, rep.Steps, 2)
	assert.Nil(t, rep.Step(StepProduce))
	assert.Zero(t, f.conv.calls())
}

func TestRun_PartialAndFailed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.writeIntermediate(t, "a_lite.h5", baseTime)
	f.conv.fail["a.root"] = &convert.ExecError{Stage: convert.StageFlatten, Binary: "flatten_caf", ExitCode: 1, Stderr: "bad input"}

	rep, err := f.ledger.Run(ctx, RunOptions{Definition: "mc", Command: "sync", Update: true, SourceDir: f.src, DestDir: f.dst})
	require.NoError(t, err)
	require.Len(t, rep.Failures(), 1)

	run, err := f.db.GetRun(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunPartial, run.Status)
	require.NotNil(t, run.Failures)
	assert.Contains(t, *run.Failures, "bad input")

	f.cat.listErr = errors.New("samweb down")
	rep, err = f.ledger.Run(ctx, RunOptions{Definition: "mc", Command: "sync", Update: true})
	require.Error(t, err)
	run, err = f.db.GetRun(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "samweb down")
}

func TestReprocess_Logged(t *testing.T) {
	f := setup(t)
	f.prepare(t)
	ctx := context.Background()

	rep, err := f.ledger.Reprocess(ctx, "mc", "reprocess a.root", *f.row(t, "a.root"), f.src, f.dst)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Counts().Refreshed)

	run, err := f.db.GetRun(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunComplete, run.Status)
	assert.Equal(t, 1, run.Refreshed)
}

func TestStatus(t *testing.T) {
	f := setup(t)
	f.prepare(t)
	ctx := context.Background()
	f.conv.fail["b.root"] = errors.New("boom")
	_, err := f.ledger.ProduceFinals(ctx, f.src, f.dst)
	require.NoError(t, err)
	f.writeIntermediate(t, "a_lite.h5", baseTime.Add(time.Minute))

	st, err := f.ledger.Status(ctx, "mc", "")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Stats.Total)
	assert.Equal(t, 1, st.Stats.WithFinal)
	assert.Equal(t, 1, st.Stats.Pending)
	require.Len(t, st.Pending, 1)
	assert.Equal(t, "b.root", st.Pending[0].SourceName)
	assert.False(t, st.Checked)

	st, err = f.ledger.Status(ctx, "mc", f.src)
	require.NoError(t, err)
	assert.True(t, st.Checked)
	assert.Equal(t, 1, st.Stale)
	assert.Equal(t, "a.root", st.StaleRows[0].Row.SourceName)
}

func TestNewFailure_ExecError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &convert.ExecError{Stage: convert.StageMerge, ExitCode: 2, Stderr: "oops"})
	fail := newFailure(StepProduce, "a.root", err)
	assert.Equal(t, 2, fail.ExitCode)
	assert.Equal(t, "oops", fail.Stderr)
	assert.Contains(t, fail.Error, "exit code 2")
}
