package db

import (
	"context"

	"github.com/rotisserie/eris"
)

const createDataset = `
CREATE TABLE IF NOT EXISTS dataset(
	larcv_name    TEXT NOT NULL PRIMARY KEY,
	parent_name   TEXT NOT NULL,
	standard_name TEXT,
	hdf5_name     TEXT,
	flat_name     TEXT,
	flat_time     INTEGER DEFAULT 0
);
`

const createRuns = `
CREATE TABLE IF NOT EXISTS ledger_runs(
	id                  TEXT PRIMARY KEY,
	definition          TEXT NOT NULL,
	command             TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'running',
	started_at          INTEGER NOT NULL,
	completed_at        INTEGER,
	inserted            INTEGER NOT NULL DEFAULT 0,
	linked_standard     INTEGER NOT NULL DEFAULT 0,
	linked_intermediate INTEGER NOT NULL DEFAULT 0,
	produced            INTEGER NOT NULL DEFAULT 0,
	refreshed           INTEGER NOT NULL DEFAULT 0,
	failures            TEXT,
	error               TEXT
);
CREATE INDEX IF NOT EXISTS idx_dataset_parent ON dataset(parent_name);
CREATE INDEX IF NOT EXISTS idx_dataset_hdf5 ON dataset(hdf5_name);
CREATE INDEX IF NOT EXISTS idx_ledger_runs_started ON ledger_runs(started_at);
`

// EnsureSchema creates the ledger tables if absent and upgrades ledgers
// written before flat_time existed. Safe to call on every open.
func (d *DB) EnsureSchema(ctx context.Context) error {
	if _, err := d.conn.ExecContext(ctx, createDataset); err != nil {
		return eris.Wrap(err, "db: create dataset table")
	}

	has, err := d.hasColumn(ctx, "dataset", "flat_time")
	if err != nil {
		return err
	}
	if !has {
		if _, err := d.conn.ExecContext(ctx, `ALTER TABLE dataset ADD COLUMN flat_time INTEGER DEFAULT 0`); err != nil {
			return eris.Wrap(err, "db: add flat_time column")
		}
	}

	if _, err := d.conn.ExecContext(ctx, createRuns); err != nil {
		return eris.Wrap(err, "db: create ledger_runs table")
	}
	return nil
}

func (d *DB) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, eris.Wrapf(err, "db: table info for %s", table)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, eris.Wrapf(err, "db: scan table info for %s", table)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
