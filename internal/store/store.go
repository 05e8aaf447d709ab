package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// journalMigrations upgrade an existing journal in order. Entry i moves the
// file from user_version i to i+1.
//
//	0 -> 1: (dataset, seq) index backing `tilesync history --dataset`
var journalMigrations = []string{
	`CREATE INDEX IF NOT EXISTS idx_updates_dataset_seq ON updates(dataset, seq)`,
}

// Store is the update journal: one row per Update Engine invocation, kept
// next to the archives (JOURNAL_PATH, default OUTPUT_PATH/.tilesync.db).
//
// The service writes through a single connection while `tilesync history`
// may read the same file from another process, so the journal runs in WAL
// mode.
type Store struct {
	db *sql.DB
}

// Open opens the journal at path, creating the file and the updates table
// when missing and upgrading older journals in place. Opening an up-to-date
// journal changes nothing.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	// Recorders from every dataset queue share this one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepareJournal(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare journal %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the journal. A zero Store closes cleanly.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func prepareJournal(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create updates table: %w", err)
	}
	return migrateJournal(db)
}

// migrateJournal runs the migrations newer than the journal's user_version.
func migrateJournal(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read journal version: %w", err)
	}

	for v := version; v < len(journalMigrations); v++ {
		if _, err := db.Exec(journalMigrations[v]); err != nil {
			return fmt.Errorf("migrate journal to v%d: %w", v+1, err)
		}
	}

	if version < len(journalMigrations) {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(journalMigrations))); err != nil {
			return fmt.Errorf("write journal version: %w", err)
		}
	}
	return nil
}

// verifyPragma checks a journal pragma in tests.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
