package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// AnalysisCache stores serialized manifest entries by output file name and
// content key.
type AnalysisCache struct {
	db      *DB
	buildID string
}

// NewAnalysisCache creates a cache over db.
func NewAnalysisCache(db *DB) *AnalysisCache {
	return &AnalysisCache{db: db}
}

// ForBuild returns a cache that tags the rows it writes with buildID.
func (c *AnalysisCache) ForBuild(buildID string) *AnalysisCache {
	return &AnalysisCache{db: c.db, buildID: buildID}
}

// Get returns the stored entry, if any.
func (c *AnalysisCache) Get(ctx context.Context, moduleFile, key string) ([]byte, bool, error) {
	var entry string
	err := c.db.conn.QueryRowContext(ctx, `
		SELECT entry_json FROM analysis_cache
		WHERE module_file = ? AND content_key = ?
	`, moduleFile, key).Scan(&entry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read analysis cache: %w", err)
	}
	return []byte(entry), true, nil
}

// Put stores value, replacing any previous row for the same file and key.
func (c *AnalysisCache) Put(ctx context.Context, moduleFile, key string, value []byte) error {
	_, err := c.db.conn.ExecContext(ctx, `
		INSERT INTO analysis_cache (module_file, content_key, entry_json, build_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(module_file, content_key) DO UPDATE SET
			entry_json = excluded.entry_json,
			build_id = excluded.build_id,
			created_at = datetime('now')
	`, moduleFile, key, string(value), c.buildID)
	if err != nil {
		return fmt.Errorf("failed to write analysis cache: %w", err)
	}
	return nil
}

// Retain deletes every row whose output file is not in moduleFiles and
// returns the number of rows removed.
func (c *AnalysisCache) Retain(ctx context.Context, moduleFiles []string) (int64, error) {
	var res sql.Result
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		if len(moduleFiles) == 0 {
			res, err = tx.ExecContext(ctx, `DELETE FROM analysis_cache`)
			return err
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(moduleFiles)), ",")
		args := make([]any, len(moduleFiles))
		for i, f := range moduleFiles {
			args[i] = f
		}
		res, err = tx.ExecContext(ctx, `DELETE FROM analysis_cache WHERE module_file NOT IN (`+placeholders+`)`, args...)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to trim analysis cache: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of cached entries.
func (c *AnalysisCache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_cache`).Scan(&n)
	return n, err
}
