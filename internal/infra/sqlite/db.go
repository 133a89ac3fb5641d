// Package sqlite provides the durable local ledger cache and the outbox of
// not-yet-synced actions. The local copy is the read-path source of truth for
// the UI; the remote store is the durability backstop.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// DB wraps the SQLite connection.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
// Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY on the shared file.
	conn.SetMaxOpenConns(1)

	d := &DB{db: conn}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.db.Close() }

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Per-user ledger header
		`CREATE TABLE IF NOT EXISTS ledgers (
			user_id        TEXT PRIMARY KEY,
			points         INTEGER NOT NULL DEFAULT 0,
			last_synced_at TEXT
		)`,

		// Append-only action log; synced=0 rows form the outbox
		`CREATE TABLE IF NOT EXISTS actions (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			category     TEXT NOT NULL,
			display_name TEXT NOT NULL,
			emoji        TEXT NOT NULL DEFAULT '',
			points       INTEGER NOT NULL,
			co2_grams    INTEGER NOT NULL DEFAULT 0,
			ts           TEXT NOT NULL,
			image_ref    TEXT NOT NULL DEFAULT '',
			confidence   INTEGER NOT NULL DEFAULT 0,
			reasoning    TEXT NOT NULL DEFAULT '',
			synced       INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_user ON actions(user_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_unsynced ON actions(synced) WHERE synced = 0`,
	}
}

func (d *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
