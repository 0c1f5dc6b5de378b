package outcome

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

var _ Log = (*SQLiteLog)(nil)

// SQLiteLog is a durable Log backed by SQLite in WAL mode with a single
// writer connection.
type SQLiteLog struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite creates or opens the log at path. Safe to call repeatedly on
// the same file.
func OpenSQLite(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("outcome: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("outcome: connect %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("outcome: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("outcome: apply schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append inserts o. Re-appending an existing ID is a no-op that returns the
// stored record's Seq.
func (l *SQLiteLog) Append(ctx context.Context, o Outcome) (Outcome, error) {
	stamp(&o)
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO outcomes (id, request_id, unit_id, worker_id, capability, attempt, success,
		                      payload, error, error_kind, latency_ns, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		o.ID, o.RequestID, o.UnitID, o.WorkerID, o.Capability, o.Attempt, boolToInt(o.Success),
		o.Payload, o.Error, o.ErrorKind, int64(o.Latency), o.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Outcome{}, fmt.Errorf("outcome: append: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Outcome{}, fmt.Errorf("outcome: append: %w", err)
	}
	if n == 0 {
		if err := l.db.QueryRowContext(ctx, `SELECT seq FROM outcomes WHERE id = ?`, o.ID).Scan(&o.Seq); err != nil {
			return Outcome{}, fmt.Errorf("outcome: lookup %s: %w", o.ID, err)
		}
		return o, nil
	}
	if o.Seq, err = res.LastInsertId(); err != nil {
		return Outcome{}, fmt.Errorf("outcome: append: %w", err)
	}
	return o, nil
}

func (l *SQLiteLog) Since(ctx context.Context, seq int64) ([]Outcome, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, id, request_id, unit_id, worker_id, capability, attempt, success,
		       payload, error, error_kind, latency_ns, ts
		FROM outcomes WHERE seq > ? ORDER BY seq`, seq)
	if err != nil {
		return nil, fmt.Errorf("outcome: query: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o       Outcome
			success int
			latency int64
			ts      string
		)
		if err := rows.Scan(&o.Seq, &o.ID, &o.RequestID, &o.UnitID, &o.WorkerID, &o.Capability,
			&o.Attempt, &success, &o.Payload, &o.Error, &o.ErrorKind, &latency, &ts); err != nil {
			return nil, fmt.Errorf("outcome: scan: %w", err)
		}
		o.Success = success != 0
		o.Latency = time.Duration(latency)
		if o.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("outcome: parse timestamp %q: %w", ts, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
