package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// StartRun records the beginning of a batch run and returns its ID.
func (d *DB) StartRun(ctx context.Context, definition, command string) (string, error) {
	id := uuid.New().String()
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO ledger_runs(id, definition, command, status, started_at) VALUES(?, ?, ?, ?, ?)`,
		id, definition, command, string(RunRunning), time.Now().UnixMilli(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "db: start run for %s", definition)
	}
	return id, nil
}

// FinishRun marks a run complete, or partial when failures (a JSON array)
// is non-empty.
func (d *DB) FinishRun(ctx context.Context, runID string, counts RunCounts, failures []byte) error {
	status := RunComplete
	var failJSON *string
	if len(failures) > 0 {
		status = RunPartial
		s := string(failures)
		failJSON = &s
	}

	_, err := d.conn.ExecContext(ctx, `
		UPDATE ledger_runs
		SET status = ?, completed_at = ?, inserted = ?, linked_standard = ?,
		    linked_intermediate = ?, produced = ?, refreshed = ?, failures = ?
		WHERE id = ?`,
		string(status), time.Now().UnixMilli(), counts.Inserted, counts.LinkedStandard,
		counts.LinkedIntermediate, counts.Produced, counts.Refreshed, failJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "db: finish run %s", runID)
	}
	return nil
}

// FailRun marks a run as terminated by errMsg.
func (d *DB) FailRun(ctx context.Context, runID string, counts RunCounts, errMsg string) error {
	_, err := d.conn.ExecContext(ctx, `
		UPDATE ledger_runs
		SET status = ?, completed_at = ?, inserted = ?, linked_standard = ?,
		    linked_intermediate = ?, produced = ?, refreshed = ?, error = ?
		WHERE id = ?`,
		string(RunFailed), time.Now().UnixMilli(), counts.Inserted, counts.LinkedStandard,
		counts.LinkedIntermediate, counts.Produced, counts.Refreshed, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "db: fail run %s", runID)
	}
	return nil
}

const runColumns = `id, definition, command, status, started_at, completed_at,
	inserted, linked_standard, linked_intermediate, produced, refreshed, failures, error`

func scanRun(scanner interface{ Scan(dest ...any) error }) (RunEntry, error) {
	var e RunEntry
	var status string
	err := scanner.Scan(
		&e.ID, &e.Definition, &e.Command, &status, &e.StartedAt, &e.CompletedAt,
		&e.Inserted, &e.LinkedStandard, &e.LinkedIntermediate, &e.Produced, &e.Refreshed,
		&e.Failures, &e.Error,
	)
	e.Status = RunStatus(status)
	return e, err
}

// GetRun returns a run by ID, or ErrNotFound.
func (d *DB) GetRun(ctx context.Context, runID string) (*RunEntry, error) {
	e, err := scanRun(d.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM ledger_runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "db: get run %s", runID)
	}
	return &e, nil
}

// ListRuns returns run log entries newest first. limit <= 0 means 50.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM ledger_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "db: list runs")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		e, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "db: scan run")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "db: iterate runs")
}
