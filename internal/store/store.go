package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// Store is the SQLite mutation journal. It implements engine.Journal.
type Store struct {
	db   *sql.DB
	path string
}

// pragma is one connection setting applied on Open.
type pragma struct {
	name  string
	value string
	// fileOnly pragmas are skipped for in-memory journals, where SQLite
	// silently keeps its own value.
	fileOnly bool
}

var pragmas = []pragma{
	{name: "journal_mode", value: "WAL", fileOnly: true},
	{name: "synchronous", value: "NORMAL"},
	{name: "busy_timeout", value: "5000"},
	{name: "foreign_keys", value: "ON"},
}

// migration upgrades a journal created by an older build. schema.sql
// always describes the latest layout, so every statement must be a no-op
// on a fresh database.
type migration struct {
	version int
	name    string
	stmt    string
}

var migrations = []migration{
	{
		version: 1,
		name:    "index calls by status",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_calls_status ON calls(status, seq)`,
	},
	{
		version: 2,
		name:    "index calls by model",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_calls_model ON calls(model, method)`,
	},
}

// schemaVersion is the user_version of a fully migrated journal.
func schemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Open creates or opens the journal at path and brings its schema up to
// date. An empty path opens an in-memory journal.
//
// File journals run in WAL mode with NORMAL sync and a 5s busy timeout.
// Opening the same path again is safe.
func Open(path string) (*Store, error) {
	if path == "" {
		path = MemoryPath
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time, and an in-memory database lives
	// only as long as its single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InMemory reports whether the journal disappears on Close.
func (s *Store) InMemory() bool {
	return s.path == MemoryPath
}

func (s *Store) configure() error {
	for _, p := range pragmas {
		if p.fileOnly && s.InMemory() {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("failed to apply pragma %s: %w", p.name, err)
		}
	}
	return nil
}

// migrate creates missing tables, then runs each migration newer than the
// stored user_version in its own transaction.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	version, err := s.pragmaValue("user_version")
	if err != nil {
		return err
	}
	var current int
	if _, err := fmt.Sscan(version, &current); err != nil {
		return fmt.Errorf("parse user_version %q: %w", version, err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: set user_version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
	}
	return nil
}

// pragmaValue reads a pragma as text.
func (s *Store) pragmaValue(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to query pragma %s: %w", name, err)
	}
	return value, nil
}
