package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Update outcome statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// UpdateRecord is one journaled Update Engine invocation.
type UpdateRecord struct {
	Seq       int64         `json:"seq"`
	RunID     string        `json:"run_id"`
	Dataset   string        `json:"dataset"`
	Action    string        `json:"action"`
	Ref       *int64        `json:"ref,omitempty"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// RecordUpdate appends an invocation outcome to the journal.
// Uses ON CONFLICT(run_id) DO NOTHING - recording the same run twice is a no-op.
func (s *Store) RecordUpdate(ctx context.Context, rec UpdateRecord) error {
	var ref sql.NullInt64
	if rec.Ref != nil {
		ref = sql.NullInt64{Int64: *rec.Ref, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO updates
		(run_id, dataset, action, ref, status, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		rec.RunID,
		rec.Dataset,
		rec.Action,
		ref,
		rec.Status,
		rec.Error,
		rec.StartedAt.UnixMilli(),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record update %s: %w", rec.RunID, err)
	}
	return nil
}

// Filter narrows RecentUpdates.
type Filter struct {
	// Dataset restricts results to one dataset when non-empty.
	Dataset string

	// Limit bounds the number of rows; values <= 0 mean 50.
	Limit int
}

// RecentUpdates returns journaled invocations, newest first.
func (s *Store) RecentUpdates(ctx context.Context, f Filter) ([]UpdateRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT seq, run_id, dataset, action, ref, status, error, started_at, duration_ms
		FROM updates`
	args := []any{}
	if f.Dataset != "" {
		query += ` WHERE dataset = ?`
		args = append(args, f.Dataset)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	var out []UpdateRecord
	for rows.Next() {
		rec, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return out, nil
}

func scanUpdate(rows *sql.Rows) (UpdateRecord, error) {
	var (
		rec        UpdateRecord
		ref        sql.NullInt64
		startedMs  int64
		durationMs int64
	)
	if err := rows.Scan(
		&rec.Seq,
		&rec.RunID,
		&rec.Dataset,
		&rec.Action,
		&ref,
		&rec.Status,
		&rec.Error,
		&startedMs,
		&durationMs,
	); err != nil {
		return UpdateRecord{}, fmt.Errorf("scan update: %w", err)
	}
	if ref.Valid {
		v := ref.Int64
		rec.Ref = &v
	}
	rec.StartedAt = time.UnixMilli(startedMs).UTC()
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	return rec, nil
}
