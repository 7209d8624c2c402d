package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ExportJSONL streams every event to w as one JSON object per line, oldest
// first. This mirrors the on-disk experiment log format some downstream
// tooling expects.
func (s *Store) ExportJSONL(ctx context.Context, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, role, model, action, status, detail
		FROM audit_events
		ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return fmt.Errorf("failed to query audit events for export: %w", err)
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	for rows.Next() {
		var (
			event          Event
			action, status string
			detail         string
			ts             time.Time
		)
		if err := rows.Scan(&event.ID, &ts, &event.Role, &event.Model, &action, &status, &detail); err != nil {
			return fmt.Errorf("failed to scan audit event for export: %w", err)
		}
		event.Timestamp = ts
		event.Action = ActionType(action)
		event.Status = Status(status)
		if err := json.Unmarshal([]byte(detail), &event.Detail); err != nil {
			event.Detail = map[string]any{"unparsed": detail}
		}
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to encode audit event: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate audit events for export: %w", err)
	}
	return nil
}

// Count returns the total number of recorded events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return n, nil
}
