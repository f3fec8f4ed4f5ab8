package jit

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps artifacts in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		hash TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		code BLOB NOT NULL,
		checksum INTEGER NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(hash string) (*Artifact, error) {
	var a Artifact
	var checksum int64
	err := s.db.QueryRow(
		"SELECT hash, symbol, code, checksum, created FROM artifacts WHERE hash = ?", hash,
	).Scan(&a.Hash, &a.Symbol, &a.Code, &checksum, &a.Created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("querying artifact: %w", err)
	}
	// SQLite integers are signed; the checksum round-trips through int64.
	a.Checksum = uint64(checksum)
	if err := a.Verify(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) Save(a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO artifacts (hash, symbol, code, checksum, created) VALUES (?, ?, ?, ?, ?)",
		a.Hash, a.Symbol, a.Code, int64(a.Checksum), a.Created,
	)
	if err != nil {
		return fmt.Errorf("saving artifact: %w", err)
	}
	return nil
}

// Len returns the number of stored artifacts.
func (s *SQLiteStore) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM artifacts").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting artifacts: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
