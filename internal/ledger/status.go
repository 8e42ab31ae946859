package ledger

import (
	"context"

	"spineprod/cafledger/internal/db"
)

// StatusReport describes how far a ledger has progressed.
type StatusReport struct {
	Definition string          `json:"definition" yaml:"definition"`
	Stats      db.Stats        `json:"stats" yaml:"stats"`
	Stale      int             `json:"stale" yaml:"stale"`
	Pending    []db.DatasetRow `json:"pending,omitempty" yaml:"pending,omitempty"`
	StaleRows  []StaleRow      `json:"stale_rows,omitempty" yaml:"stale_rows,omitempty"`
	Unchecked  []Failure       `json:"unchecked,omitempty" yaml:"unchecked,omitempty"`
	Checked    bool            `json:"staleness_checked" yaml:"staleness_checked"`
}

// Status counts rows per stage and lists the pending ones. Staleness is only
// checked when srcDir is set, since it needs the intermediate files.
func (l *Ledger) Status(ctx context.Context, definition, srcDir string) (*StatusReport, error) {
	stats, err := l.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := l.store.PendingFinal(ctx)
	if err != nil {
		return nil, err
	}
	rep := &StatusReport{Definition: definition, Stats: *stats, Pending: pending}
	if srcDir == "" {
		return rep, nil
	}

	rows, err := l.store.WithFinal(ctx)
	if err != nil {
		return nil, err
	}
	rep.StaleRows, rep.Unchecked = FindStale(rows, srcDir, l.opts.FS)
	rep.Stale = len(rep.StaleRows)
	rep.Checked = true
	return rep, nil
}
