// Package journal keeps a best-effort audit trail of task lifecycle
// events in SQLite. Journal failures never block task progress: callers
// log the error and continue.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/conductor/internal/shared"
	_ "github.com/mattn/go-sqlite3"
)

// Event types appended by the task manager.
const (
	EventTaskCreated     = "task.created"
	EventTaskInProgress  = "task.in_progress"
	EventTaskCompleted   = "task.completed"
	EventTaskFailed      = "task.failed"
	EventTaskCancelled   = "task.cancelled"
	EventResultDiscarded = "task.result_discarded"
)

// Event is one row of the task event trail.
type Event struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	EventType string    `json:"event_type"`
	StateFrom string    `json:"state_from,omitempty"`
	StateTo   string    `json:"state_to"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal is a SQLite-backed append-only event trail.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("set pragma: %w", err)
	}
	if _, err := j.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS task_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			agent_id TEXT,
			trace_id TEXT,
			event_type TEXT NOT NULL,
			state_from TEXT,
			state_to TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create task_events: %w", err)
	}
	if _, err := j.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_task_events_task_id ON task_events(task_id, id);
	`); err != nil {
		return fmt.Errorf("create task_events index: %w", err)
	}
	return nil
}

// Append records one event. Detail is redacted before persistence.
func (j *Journal) Append(ctx context.Context, taskID, agentID, eventType, stateFrom, stateTo, detail string) error {
	detail = shared.Redact(detail)
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO task_events (task_id, agent_id, trace_id, event_type, state_from, state_to, detail, created_at)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), ?, NULLIF(?, ''), CURRENT_TIMESTAMP);
	`, taskID, agentID, shared.TraceID(ctx), eventType, stateFrom, stateTo, detail)
	if err != nil {
		return fmt.Errorf("insert task_event: %w", err)
	}
	return nil
}

// Recent returns up to limit events for the task, oldest first.
func (j *Journal) Recent(ctx context.Context, taskID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, task_id, COALESCE(agent_id, ''), COALESCE(trace_id, ''),
		       event_type, COALESCE(state_from, ''), state_to, COALESCE(detail, ''), created_at
		FROM task_events
		WHERE task_id = ?
		ORDER BY id ASC
		LIMIT ?;
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("query task_events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.AgentID, &ev.TraceID,
			&ev.EventType, &ev.StateFrom, &ev.StateTo, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task_event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RunRetention deletes events older than the retention window.
// days <= 0 keeps everything.
func (j *Journal) RunRetention(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := j.db.ExecContext(ctx, `DELETE FROM task_events WHERE created_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge task_events: %w", err)
	}
	purged, _ := res.RowsAffected()
	return purged, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
