package db

import (
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite ledger connection
type DB struct {
	conn *sql.DB
	Path string
}

// OpenDB opens a SQLite ledger with WAL mode and a busy timeout.
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "db: open")
	}

	// One writer at a time; the batch is sequential anyway.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(err, "db: exec %s", pragma)
		}
	}

	return &DB{conn: conn, Path: path}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// rowsAffected reports how many rows an UPDATE touched.
func rowsAffected(res sql.Result, what string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrapf(err, "db: rows affected for %s", what)
	}
	return n, nil
}
