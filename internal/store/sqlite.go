// Package store persists support desk sessions, transcripts, and client-local
// state in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/customermindiq/affchat/internal/logging"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// pragmas run on open, in order.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// DB is a migrated SQLite handle.
type DB struct {
	sql *sql.DB
	log *logging.Logger
}

// Open opens or creates the database at path and brings its schema up to
// date. The desk and the chat client each keep their own file.
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if path == MemoryPath {
		// each pooled connection would see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	db := &DB{sql: sqlDB, log: log.Sub("store").With("db", filepath.Base(path))}
	if err := db.init(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db.log.Debug().Str("path", path).Msg("database opened")
	return db, nil
}

func (db *DB) init() error {
	for _, p := range pragmas {
		if _, err := db.sql.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := db.migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (db *DB) Close() error {
	db.log.Debug().Msg("closing database")
	return db.sql.Close()
}

// SQL exposes the handle for ad hoc queries.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// migrate applies every migration newer than the recorded schema version.
func (db *DB) migrate() error {
	if _, err := db.sql.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	current, err := db.schemaVersion()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) schemaVersion() (int, error) {
	var v sql.NullInt64
	if err := db.sql.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(v.Int64), nil
}

// apply runs one migration and records it in the same transaction.
func (db *DB) apply(m migration) error {
	db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

	tx, err := db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("recording migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}
