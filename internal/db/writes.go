package db

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
)

// ErrDuplicate is returned by InsertSource when the source name is already
// present. The existing row is left untouched.
var ErrDuplicate = errors.New("source already in ledger")

// InsertSource adds a (source, parent) pair. Inserting an existing source
// returns ErrDuplicate and changes nothing.
func (d *DB) InsertSource(ctx context.Context, sourceName, parentName string) error {
	if sourceName == "" {
		return eris.New("db: insert source: empty source name")
	}
	if parentName == "" {
		return eris.Errorf("db: insert source %s: empty parent name", sourceName)
	}

	res, err := d.conn.ExecContext(ctx,
		`INSERT INTO dataset(larcv_name, parent_name) VALUES(?, ?) ON CONFLICT(larcv_name) DO NOTHING`,
		sourceName, parentName,
	)
	if err != nil {
		return eris.Wrapf(err, "db: insert source %s", sourceName)
	}
	n, err := rowsAffected(res, sourceName)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// SetStandardName sets standard_name on every row whose parent_name equals
// parentName and returns the number of rows touched (possibly zero).
func (d *DB) SetStandardName(ctx context.Context, parentName, standardName string) (int64, error) {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE dataset SET standard_name = ? WHERE parent_name = ?`,
		standardName, parentName,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "db: set standard name for parent %s", parentName)
	}
	return rowsAffected(res, parentName)
}

// SetIntermediateName links an intermediate file to its source row and
// returns the number of rows touched (zero when no row matches).
func (d *DB) SetIntermediateName(ctx context.Context, sourceName, intermediateName string) (int64, error) {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE dataset SET hdf5_name = ? WHERE larcv_name = ?`,
		intermediateName, sourceName,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "db: set intermediate name for %s", sourceName)
	}
	return rowsAffected(res, sourceName)
}

// RecordFinal stores the final artifact path and the intermediate mtime it
// was produced from, keyed by the source name.
func (d *DB) RecordFinal(ctx context.Context, sourceName, finalName string, intermediateMTime int64) error {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE dataset SET flat_name = ?, flat_time = ? WHERE larcv_name = ?`,
		finalName, intermediateMTime, sourceName,
	)
	if err != nil {
		return eris.Wrapf(err, "db: record final for %s", sourceName)
	}
	n, err := rowsAffected(res, sourceName)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
