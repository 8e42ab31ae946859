// Package ledger implements the dataset ledger batch: catalog ingest,
// standard and intermediate linking, and production or refresh of final
// artifacts through the external converters.
package ledger

import (
	"context"

	"go.uber.org/zap"

	"spineprod/cafledger/internal/catalog"
	"spineprod/cafledger/internal/convert"
	"spineprod/cafledger/internal/db"
	"spineprod/cafledger/internal/scan"
)

// Store is the persistent ledger. *db.DB implements it.
type Store interface {
	EnsureSchema(ctx context.Context) error
	InsertSource(ctx context.Context, sourceName, parentName string) error
	SetStandardName(ctx context.Context, parentName, standardName string) (int64, error)
	SetIntermediateName(ctx context.Context, sourceName, intermediateName string) (int64, error)
	PendingFinal(ctx context.Context) ([]db.DatasetRow, error)
	WithFinal(ctx context.Context) ([]db.DatasetRow, error)
	RecordFinal(ctx context.Context, sourceName, finalName string, intermediateMTime int64) error
	Stats(ctx context.Context) (*db.Stats, error)

	StartRun(ctx context.Context, definition, command string) (string, error)
	FinishRun(ctx context.Context, runID string, counts db.RunCounts, failures []byte) error
	FailRun(ctx context.Context, runID string, counts db.RunCounts, errMsg string) error
}

// Options carries the collaborators of a Ledger. Catalog and Converter may
// be nil when the caller never runs the steps that need them.
type Options struct {
	Catalog   catalog.Catalog
	Converter convert.Converter
	FS        scan.FS
	Mapper    *scan.Mapper

	SourceSuffix   string // appended to the definition for the source listing
	StandardSuffix string // appended to the definition for the standard listing
	LookupWorkers  int
	ProgressEvery  int

	Logger *zap.Logger
}

// Ledger runs ledger operations against one store.
type Ledger struct {
	store Store
	opts  Options
	log   *zap.Logger
}

// New returns a Ledger. Unset FS, Mapper and Logger get the local
// filesystem, the default naming and zap.L().
func New(store Store, opts Options) *Ledger {
	if opts.FS == nil {
		opts.FS = scan.OS{}
	}
	if opts.Mapper == nil {
		opts.Mapper = &scan.Mapper{IntermediateSuffix: "_lite.h5", SourceExt: ".root", FinalSuffix: "_flat.root"}
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.LookupWorkers < 1 {
		opts.LookupWorkers = 1
	}
	return &Ledger{store: store, opts: opts, log: opts.Logger}
}

// EnsureSchema creates the ledger tables if absent.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	return l.store.EnsureSchema(ctx)
}
