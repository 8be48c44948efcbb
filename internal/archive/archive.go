// Package archive persists door events to SQLite so the event history
// survives restarts and stream gaps.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/door-panel-bridge/runtime/internal/event"
)

// Record is one archived door event.
type Record struct {
	ID      int64     `json:"id"`
	DoorID  int       `json:"doorId"`
	Kind    string    `json:"kind"`
	Actor   string    `json:"actor,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Archive is an append-only event log backed by SQLite.
type Archive struct {
	db *sql.DB
}

// Open creates or opens the archive database at path. ":memory:" opens
// an ephemeral database for tests.
func Open(path string) (*Archive, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
	}

	// WAL for concurrent reads, busy timeout so the refresher and the
	// API surface can share the file.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening archive database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to archive database: %w", err)
	}
	if path == ":memory:" {
		// An in-memory database is per connection; a pool of them would
		// be five separate empty databases.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS door_events (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			door_id  INTEGER NOT NULL,
			kind     TEXT    NOT NULL,
			actor    TEXT    NOT NULL DEFAULT '',
			message  TEXT    NOT NULL DEFAULT '',
			at       TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_door_events_door_at ON door_events(door_id, at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrating archive schema: %w", err)
	}
	return nil
}

// Append stores one canonical event. Pure snapshot refreshes are not
// archived; only push-sourced changes are history.
func (a *Archive) Append(ctx context.Context, evt event.Event) error {
	if evt.Source != event.SourcePush {
		return nil
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO door_events (door_id, kind, actor, message, at)
		VALUES (?, ?, ?, ?, ?)
	`, evt.DoorID, evt.Kind.String(), evt.Actor, evt.Message, evt.At.UTC())
	if err != nil {
		return fmt.Errorf("inserting door event: %w", err)
	}
	return nil
}

// Recent returns up to limit events for one door, newest first.
func (a *Archive) Recent(ctx context.Context, doorID, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, door_id, kind, actor, message, at
		FROM door_events WHERE door_id = ?
		ORDER BY at DESC, id DESC LIMIT ?
	`, doorID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying door events: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Latest returns the newest event per door across the partition.
func (a *Archive) Latest(ctx context.Context) ([]Record, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT e.id, e.door_id, e.kind, e.actor, e.message, e.at
		FROM door_events e
		JOIN (
			SELECT door_id, MAX(at) AS max_at FROM door_events GROUP BY door_id
		) latest ON latest.door_id = e.door_id AND latest.max_at = e.at
		GROUP BY e.door_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying latest door events: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Prune deletes events older than cutoff and returns how many went.
func (a *Archive) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM door_events WHERE at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning door events: %w", err)
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.DoorID, &r.Kind, &r.Actor, &r.Message, &r.At); err != nil {
			return nil, fmt.Errorf("scanning door event: %w", err)
		}
		r.At = r.At.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
