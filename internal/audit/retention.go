package audit

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy bounds the audit trail so long-running use does not grow
// the database without limit. Zero values disable the corresponding rule.
type RetentionPolicy struct {
	// MaxAgeDays deletes events older than this many days.
	MaxAgeDays int
	// MaxEvents keeps at most this many events, newest first.
	MaxEvents int
	// BatchSize caps rows deleted per statement so pruning never holds a
	// long write lock. Defaults to 1000.
	BatchSize int
}

// DefaultRetentionPolicy returns the standard pruning bounds.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxAgeDays: 30,
		MaxEvents:  100000,
		BatchSize:  1000,
	}
}

// Prune applies the policy and returns the number of events deleted. Age
// pruning runs first, then the count cap.
func (s *Store) Prune(ctx context.Context, policy RetentionPolicy) (int64, error) {
	batch := policy.BatchSize
	if batch <= 0 {
		batch = 1000
	}

	var total int64
	if policy.MaxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -policy.MaxAgeDays)
		for {
			res, err := s.db.ExecContext(ctx, `
				DELETE FROM audit_events WHERE id IN (
					SELECT id FROM audit_events
					WHERE timestamp < ?
					ORDER BY timestamp ASC
					LIMIT ?)`, cutoff, batch)
			if err != nil {
				return total, fmt.Errorf("failed to prune audit events by age: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return total, err
			}
			total += n
			if n < int64(batch) {
				break
			}
		}
	}

	if policy.MaxEvents > 0 {
		for {
			res, err := s.db.ExecContext(ctx, `
				DELETE FROM audit_events WHERE id IN (
					SELECT id FROM audit_events
					ORDER BY timestamp DESC, id DESC
					LIMIT ? OFFSET ?)`, batch, policy.MaxEvents)
			if err != nil {
				return total, fmt.Errorf("failed to prune audit events by count: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return total, err
			}
			total += n
			if n < int64(batch) {
				break
			}
		}
	}
	return total, nil
}
