// Package storage persists bus events to a SQLite audit log. Task state
// itself is never persisted; the log is a queryable trail of what
// happened, useful after the process is gone.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"warden/internal/events"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id   TEXT NOT NULL,
	task_id    TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	source     TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
`

// LoggedEvent is one row of the audit log.
type LoggedEvent struct {
	ID        int64
	EventID   string
	TaskID    string
	Type      string
	Source    string
	Payload   map[string]any
	CreatedAt time.Time
}

// QueryOpts specifies filter criteria for querying logged events.
type QueryOpts struct {
	// TaskID filters events to a specific task.
	TaskID string

	// Type filters to a specific event type (e.g. "task.checkpoint").
	Type string

	// After filters events created at or after this time.
	After *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// EventLog subscribes to all bus events and writes them to SQLite.
type EventLog struct {
	db          *sql.DB
	unsubscribe func()
}

// Open opens (or creates) the event log database at path and, when bus
// is non-nil, starts recording every published event.
func Open(path string, bus *events.Bus) (*EventLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	// Single writer keeps modernc's sqlite happy under concurrency.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event log schema: %w", err)
	}

	el := &EventLog{db: db}
	if bus != nil {
		el.unsubscribe = bus.Subscribe(el.record)
	}
	return el, nil
}

// Close unsubscribes from the bus and releases the database. Safe to
// call multiple times.
func (el *EventLog) Close() error {
	if el.unsubscribe != nil {
		el.unsubscribe()
		el.unsubscribe = nil
	}
	if el.db != nil {
		return el.db.Close()
	}
	return nil
}

func (el *EventLog) record(e events.Event) {
	payload := ""
	if len(e.Payload) > 0 {
		if data, err := json.Marshal(e.Payload); err == nil {
			payload = string(data)
		}
	}

	_, err := el.db.Exec(
		`INSERT INTO events (event_id, task_id, type, source, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, string(e.Type), string(e.Source), payload, e.Timestamp.UnixNano(),
	)
	if err != nil {
		slog.Warn("event log insert failed", "event_id", e.ID, "error", err)
	}
}

// Query retrieves logged events matching opts, newest first.
func (el *EventLog) Query(ctx context.Context, opts QueryOpts) ([]LoggedEvent, error) {
	query, args := buildQuery(opts)

	rows, err := el.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []LoggedEvent
	for rows.Next() {
		var (
			le        LoggedEvent
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&le.ID, &le.EventID, &le.TaskID, &le.Type, &le.Source, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		le.CreatedAt = time.Unix(0, createdAt)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &le.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		out = append(out, le)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Prune deletes logged events older than the retention window and
// returns how many rows were removed.
func (el *EventLog) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixNano()
	res, err := el.db.Exec(`DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("pruned event log", "removed", n)
	}
	return n, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, event_id, task_id, type, source, payload, created_at FROM events WHERE 1=1"

	if opts.TaskID != "" {
		conditions = append(conditions, "task_id = ?")
		args = append(args, opts.TaskID)
	}
	if opts.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.UnixNano())
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, args
}
