package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when no dataset row matches a lookup.
var ErrNotFound = errors.New("dataset row not found")

// flat_time is cast because older ledgers stored it as a float of seconds.
const rowColumns = `larcv_name, parent_name, standard_name, hdf5_name, flat_name, CAST(COALESCE(flat_time, 0) AS INTEGER)`

// scanRow scans a row into a DatasetRow. The row must have the rowColumns in order.
func scanRow(scanner interface{ Scan(dest ...any) error }) (DatasetRow, error) {
	var r DatasetRow
	err := scanner.Scan(
		&r.SourceName, &r.ParentName, &r.StandardName,
		&r.IntermediateName, &r.FinalName, &r.FinalTimestamp,
	)
	return r, err
}

func (d *DB) queryRows(ctx context.Context, query string, args ...any) ([]DatasetRow, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "db: query dataset")
	}
	defer rows.Close()

	var out []DatasetRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "db: scan dataset row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "db: iterate dataset rows")
}

// AllRows returns every row ordered by source name
func (d *DB) AllRows(ctx context.Context) ([]DatasetRow, error) {
	return d.queryRows(ctx, `SELECT `+rowColumns+` FROM dataset ORDER BY larcv_name`)
}

// GetRow returns a single row by source name, or ErrNotFound.
func (d *DB) GetRow(ctx context.Context, sourceName string) (*DatasetRow, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+rowColumns+` FROM dataset WHERE larcv_name = ?`, sourceName)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "db: get row %s", sourceName)
	}
	return &r, nil
}

// GetByIntermediate returns the row whose hdf5_name equals name, or ErrNotFound.
func (d *DB) GetByIntermediate(ctx context.Context, name string) (*DatasetRow, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+rowColumns+` FROM dataset WHERE hdf5_name = ? LIMIT 1`, name)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "db: get row by intermediate %s", name)
	}
	return &r, nil
}

// SearchByPrefix finds rows whose source name starts with the given prefix.
func (d *DB) SearchByPrefix(ctx context.Context, prefix string, limit int) ([]DatasetRow, error) {
	return d.queryRows(ctx,
		`SELECT `+rowColumns+` FROM dataset WHERE substr(larcv_name, 1, length(?1)) = ?1 ORDER BY larcv_name LIMIT ?2`,
		prefix, limit)
}

// PendingFinal returns rows whose conversion inputs are both known but
// which have no final artifact yet.
func (d *DB) PendingFinal(ctx context.Context) ([]DatasetRow, error) {
	return d.queryRows(ctx, `
		SELECT `+rowColumns+` FROM dataset
		WHERE flat_name IS NULL AND hdf5_name IS NOT NULL AND standard_name IS NOT NULL
		ORDER BY larcv_name`)
}

// WithFinal returns rows that already carry a final artifact. These are the
// candidates for the staleness check.
func (d *DB) WithFinal(ctx context.Context) ([]DatasetRow, error) {
	return d.queryRows(ctx, `
		SELECT `+rowColumns+` FROM dataset
		WHERE hdf5_name IS NOT NULL AND flat_name IS NOT NULL
		ORDER BY larcv_name`)
}

// Stats counts rows by how far along the pipeline they are.
func (d *DB) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := d.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(standard_name),
		       COUNT(hdf5_name),
		       COUNT(flat_name),
		       COALESCE(SUM(CASE WHEN flat_name IS NULL AND hdf5_name IS NOT NULL AND standard_name IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM dataset`).Scan(&s.Total, &s.WithStandard, &s.WithIntermediate, &s.WithFinal, &s.Pending)
	if err != nil {
		return nil, eris.Wrap(err, "db: stats")
	}
	return &s, nil
}
