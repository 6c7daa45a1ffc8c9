package storage

import (
	"context"
	"fmt"
	"time"
)

// Build statuses.
const (
	BuildSucceeded = "succeeded"
	BuildFailed    = "failed"
)

// BuildRecord is one pipeline run.
type BuildRecord struct {
	ID        string        `json:"id"`
	Mode      string        `json:"mode"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Entries   int           `json:"entries"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// RecordBuild appends a build to the log.
func (db *DB) RecordBuild(ctx context.Context, rec BuildRecord) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO builds (id, mode, started_at, duration_ms, entries, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Mode, rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.Duration.Milliseconds(), rec.Entries, rec.Status, rec.Error)
	if err != nil {
		return fmt.Errorf("failed to record build: %w", err)
	}
	return nil
}

// RecentBuilds returns up to limit builds, newest first.
func (db *DB) RecentBuilds(ctx context.Context, limit int) ([]BuildRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, mode, started_at, duration_ms, entries, status, error
		FROM builds
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query builds: %w", err)
	}
	defer rows.Close()

	var out []BuildRecord
	for rows.Next() {
		var rec BuildRecord
		var started string
		var ms int64
		if err := rows.Scan(&rec.ID, &rec.Mode, &started, &ms, &rec.Entries, &rec.Status, &rec.Error); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}
