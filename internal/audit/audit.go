// Package audit persists the append-only trail of agent actions. Recording
// is fire-and-forget: a failed write is logged but never affects the
// orchestration loop.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ActionType categorizes what an agent was doing.
type ActionType string

const (
	ActionAnalysis ActionType = "analysis"
	ActionFix      ActionType = "fix"
	ActionDebug    ActionType = "debug"
)

// Status is the outcome of a recorded action.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusPartial Status = "PARTIAL"
)

// Event is one audit record. Detail carries the structured payload,
// including the prompt and response text for model calls.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Role      string         `json:"role"`
	Model     string         `json:"model"`
	Action    ActionType     `json:"action"`
	Status    Status         `json:"status"`
	Detail    map[string]any `json:"detail"`
}

// Recorder accepts audit events. Implementations must not let a recording
// failure propagate into control flow.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// NopRecorder discards every event. Useful in tests.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	timestamp  DATETIME NOT NULL,
	role       TEXT NOT NULL,
	model      TEXT NOT NULL,
	action     TEXT NOT NULL,
	status     TEXT NOT NULL,
	detail     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_role ON audit_events(role);
`

// Store is a SQLite-backed audit trail.
type Store struct {
	db *sql.DB
}

// Open creates or opens the audit database at path, initializing the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("audit database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record appends one event. Missing ID and timestamp are filled in; any
// storage error is logged and swallowed.
func (s *Store) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	detailJSON, err := json.Marshal(event.Detail)
	if err != nil {
		slog.Warn("failed to marshal audit detail", "role", event.Role, "error", err)
		detailJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, timestamp, role, model, action, status, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Timestamp,
		event.Role,
		event.Model,
		string(event.Action),
		string(event.Status),
		string(detailJSON),
	)
	if err != nil {
		slog.Warn("failed to record audit event", "role", event.Role, "action", event.Action, "error", err)
	}
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, role, model, action, status, detail
		FROM audit_events
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ByRole returns events for a single role, oldest first.
func (s *Store) ByRole(ctx context.Context, role string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, role, model, action, status, detail
		FROM audit_events
		WHERE role = ?
		ORDER BY timestamp ASC, id ASC`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events by role: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var event Event
		var action, status, detail string
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.Role, &event.Model, &action, &status, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Action = ActionType(action)
		event.Status = Status(status)
		if err := json.Unmarshal([]byte(detail), &event.Detail); err != nil {
			event.Detail = map[string]any{"unparsed": detail}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}
