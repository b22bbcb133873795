// Package sqlite implements the repository interfaces on SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the server builds
// without a C toolchain. Use ":memory:" for tests.
package sqlite

import (
	"database/sql"
	"fmt"

	// registers the "sqlite" driver with database/sql
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements both
// repository.SnippetRepository and repository.UserRepository.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/snippetvault.db"  file-based, persistent
//   - ":memory:"              in-memory, lost on Close
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable; used by /healthz.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate is idempotent: CREATE ... IF NOT EXISTS plus column checks.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS snippets (
			id       TEXT PRIMARY KEY,
			title    TEXT NOT NULL,
			content  TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL,
			tags     TEXT NOT NULL DEFAULT '[]',
			date     TEXT NOT NULL,
			user_id  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snippets_user_date ON snippets(user_id, date);
	`)
	if err != nil {
		return fmt.Errorf("creating snippets table: %w", err)
	}

	// github_id is UNIQUE: each GitHub account maps to exactly one row.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			github_id  INTEGER NOT NULL UNIQUE,
			login      TEXT NOT NULL,
			email      TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// Correlation token of the client that created the snippet, echoed on the
	// change feed. Added after the first schema, hence the column check.
	if err := db.addColumnIfNotExists("snippets", "client_token",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding client_token to snippets: %w", err)
	}

	return nil
}

// addColumnIfNotExists makes ALTER TABLE migrations safe to run repeatedly.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
