package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
    key         TEXT PRIMARY KEY,
    real_value  REAL NOT NULL
);
`

const overrideKey = "tempo.manual_override_bpm"

type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps ":memory:" databases alive across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) Get() (float64, bool, error) {
	var bpm float64
	err := s.db.QueryRow(`SELECT real_value FROM settings WHERE key = ?`, overrideKey).Scan(&bpm)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read override: %w", err)
	}
	return bpm, true, nil
}

func (s *SQLite) Set(bpm float64) error {
	if err := validate(bpm); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO settings (key, real_value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET real_value = excluded.real_value`,
		overrideKey, bpm,
	)
	if err != nil {
		return fmt.Errorf("write override: %w", err)
	}
	return nil
}

func (s *SQLite) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, overrideKey); err != nil {
		return fmt.Errorf("clear override: %w", err)
	}
	return nil
}
