package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists generations in a SQLite database
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the SQLite database at dbPath
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("cache database path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Open returns the store for generation, creating it if absent
func (b *SQLiteBackend) Open(generation string) (Store, error) {
	_, err := b.db.Exec(
		`INSERT OR IGNORE INTO generations (id, created_at) VALUES (?, ?)`,
		generation, time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open generation %s: %w", generation, err)
	}
	return &sqliteStore{db: b.db, generation: generation}, nil
}

// DeleteGeneration removes a generation and its entries in one transaction
func (b *SQLiteBackend) DeleteGeneration(generation string) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete of %s: %w", generation, err)
	}
	if _, err := tx.Exec(`DELETE FROM entries WHERE generation = ?`, generation); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to delete entries of %s: %w", generation, err)
	}
	if _, err := tx.Exec(`DELETE FROM generations WHERE id = ?`, generation); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to delete generation %s: %w", generation, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s: %w", generation, err)
	}
	return nil
}

// ListGenerations returns all generation ids in sorted order
func (b *SQLiteBackend) ListGenerations() ([]string, error) {
	rows, err := b.db.Query(`SELECT id FROM generations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type sqliteStore struct {
	db         *sql.DB
	generation string
}

func (s *sqliteStore) Generation() string { return s.generation }

func (s *sqliteStore) Get(key Key) (*Entry, error) {
	query := `
	SELECT status, header, body, stored_at
	FROM entries
	WHERE generation = ? AND request_key = ?
	`

	var (
		entry    Entry
		header   string
		storedAt int64
	)
	err := s.db.QueryRow(query, s.generation, key.String()).Scan(&entry.Status, &header, &entry.Body, &storedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached entry: %w", err)
	}

	if err := json.Unmarshal([]byte(header), &entry.Header); err != nil {
		return nil, fmt.Errorf("failed to decode cached headers: %w", err)
	}
	if entry.Header == nil {
		entry.Header = http.Header{}
	}
	entry.StoredAt = time.UnixMilli(storedAt)
	return &entry, nil
}

// Put writes the entry only while the generation row exists, so a write
// racing a deletion never resurrects the generation.
func (s *sqliteStore) Put(key Key, entry *Entry) error {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}

	query := `
	INSERT OR REPLACE INTO entries (generation, request_key, status, header, body, stored_at)
	SELECT ?, ?, ?, ?, ?, ?
	WHERE EXISTS (SELECT 1 FROM generations WHERE id = ?)
	`

	result, err := s.db.Exec(query,
		s.generation, key.String(), entry.Status, string(header), body, entry.StoredAt.UnixMilli(),
		s.generation,
	)
	if err != nil {
		return fmt.Errorf("failed to cache entry: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrGenerationDeleted
	}
	return nil
}

func (s *sqliteStore) Stats() (Stats, error) {
	var stats Stats
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(body)), 0) FROM entries WHERE generation = ?`,
		s.generation,
	).Scan(&stats.Entries, &stats.Bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get generation stats: %w", err)
	}
	return stats, nil
}
