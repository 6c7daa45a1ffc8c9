package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

func (db *DB) initializeSchema() error {
	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS analysis_cache (
				module_file TEXT NOT NULL,
				content_key TEXT NOT NULL,
				entry_json  TEXT NOT NULL,
				build_id    TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				PRIMARY KEY (module_file, content_key)
			)`,
			`CREATE TABLE IF NOT EXISTS builds (
				id          TEXT PRIMARY KEY,
				mode        TEXT NOT NULL,
				started_at  TEXT NOT NULL,
				duration_ms INTEGER NOT NULL,
				entries     INTEGER NOT NULL,
				status      TEXT NOT NULL,
				error       TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at)`,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
		return nil
	})
}

func (db *DB) schemaVersion() (int, error) {
	var version int
	err := db.conn.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// runMigrations upgrades an existing database. A database written by a newer
// release is rejected rather than guessed at.
func (db *DB) runMigrations() error {
	version, err := db.schemaVersion()
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("cache schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if version < currentSchemaVersion {
		db.logger.Info("Migrating analysis cache", "from_version", version, "to_version", currentSchemaVersion)
	}
	return nil
}
