// Package taskdb records per-session run statistics in a local SQLite file:
// how many tool tasks a session has executed, how many turns it has run, and
// how many times it was compacted. The agent increments counters as it goes;
// the CLI reads them back for `opal sessions`.
package taskdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Stats is one session's accumulated counters.
type Stats struct {
	SessionID   string
	Tasks       int64
	Turns       int64
	Compactions int64
	UpdatedAt   int64 // unix seconds
}

// DB wraps the SQLite handle. Safe for concurrent use; all goroutines
// serialize through a single connection so concurrent writers never hit
// SQLITE_BUSY.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the stats database at path and ensures the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("taskdb: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS session_stats (
		session_id TEXT PRIMARY KEY,
		tasks INTEGER NOT NULL DEFAULT 0,
		turns INTEGER NOT NULL DEFAULT 0,
		compactions INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("taskdb: create table: %w", err)
	}
	return &DB{db: db}, nil
}

// IncrTasks adds n to the session's task counter.
func (d *DB) IncrTasks(ctx context.Context, sessionID string, n int64) error {
	return d.incr(ctx, "tasks", sessionID, n)
}

// IncrTurns adds one to the session's turn counter.
func (d *DB) IncrTurns(ctx context.Context, sessionID string) error {
	return d.incr(ctx, "turns", sessionID, 1)
}

// IncrCompactions adds one to the session's compaction counter.
func (d *DB) IncrCompactions(ctx context.Context, sessionID string) error {
	return d.incr(ctx, "compactions", sessionID, 1)
}

// incr is a single atomic upsert; the column name is fixed by the callers
// above, never user input.
func (d *DB) incr(ctx context.Context, column, sessionID string, n int64) error {
	q := fmt.Sprintf(`INSERT INTO session_stats (session_id, %[1]s, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			%[1]s = %[1]s + excluded.%[1]s,
			updated_at = excluded.updated_at`, column)
	if _, err := d.db.ExecContext(ctx, q, sessionID, n, time.Now().Unix()); err != nil {
		return fmt.Errorf("taskdb: incr %s: %w", column, err)
	}
	return nil
}

// Get returns the counters for one session. A session that never ran
// anything returns zero-valued Stats, not an error.
func (d *DB) Get(ctx context.Context, sessionID string) (Stats, error) {
	s := Stats{SessionID: sessionID}
	err := d.db.QueryRowContext(ctx,
		`SELECT tasks, turns, compactions, updated_at FROM session_stats WHERE session_id = ?`,
		sessionID,
	).Scan(&s.Tasks, &s.Turns, &s.Compactions, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("taskdb: get: %w", err)
	}
	return s, nil
}

// List returns all sessions ordered by most recently updated first.
func (d *DB) List(ctx context.Context) ([]Stats, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT session_id, tasks, turns, compactions, updated_at
		 FROM session_stats ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("taskdb: list: %w", err)
	}
	defer rows.Close()

	var out []Stats
	for rows.Next() {
		var s Stats
		if err := rows.Scan(&s.SessionID, &s.Tasks, &s.Turns, &s.Compactions, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("taskdb: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a session's counters.
func (d *DB) Delete(ctx context.Context, sessionID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM session_stats WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("taskdb: delete: %w", err)
	}
	return nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}
