package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// migrate applies the schema idempotently. It never assumes a fresh
// database: base tables use IF NOT EXISTS and additive column changes
// tolerate an already-present column, so a database created by any prior
// version upgrades in place. The meta schema_version value is owned by
// the sync controller, not by migration.
func migrate(db *sql.DB) error {
	base := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			path TEXT NOT NULL,
			source TEXT NOT NULL,
			project TEXT NOT NULL DEFAULT '',
			hash TEXT NOT NULL,
			PRIMARY KEY (path, source)
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			source TEXT NOT NULL,
			project TEXT NOT NULL DEFAULT '',
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			hash TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			embedding TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_path_source ON chunks(path, source)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_model ON chunks(model)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			text,
			id UNINDEXED,
			path UNINDEXED,
			source UNINDEXED,
			project UNINDEXED,
			model UNINDEXED,
			start_line UNINDEXED,
			end_line UNINDEXED,
			tokenize='porter unicode61'
		)`,
		`CREATE TABLE IF NOT EXISTS embedding_cache (
			hash TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			embedding TEXT NOT NULL,
			dims INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
			PRIMARY KEY (hash, provider, model)
		)`,
	}

	for _, stmt := range base {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}

	// v2: the project column was added after the first release. ALTERs on
	// a v1 database; a no-op (duplicate column) everywhere else.
	additive := []string{
		`ALTER TABLE files ADD COLUMN project TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE chunks ADD COLUMN project TEXT NOT NULL DEFAULT ''`,
	}
	for _, stmt := range additive {
		if _, err := db.Exec(stmt); err != nil && !isDuplicateColumn(err) {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}

	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column")
}
