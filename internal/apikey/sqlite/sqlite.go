package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sahyogai/sahyog-gateway/internal/apikey"
)

// Store implements apikey.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite API key store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create apikey directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_used_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindByKey returns the key record for the raw key string, or nil.
func (s *Store) FindByKey(ctx context.Context, raw string) (*apikey.Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key, name, status, created_at, last_used_at FROM api_keys WHERE key = ?`, raw)
	var k apikey.Key
	if err := row.Scan(&k.ID, &k.Key, &k.Name, &k.Status, &k.CreatedAt, &k.LastUsedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &k, nil
}

// Create inserts a new key record and returns it.
func (s *Store) Create(ctx context.Context, raw, name string) (*apikey.Key, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys(key, name, status, created_at, last_used_at) VALUES(?, ?, ?, ?, ?)`,
		raw, name, apikey.StatusActive, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &apikey.Key{ID: id, Key: raw, Name: name, Status: apikey.StatusActive, CreatedAt: now, LastUsedAt: now}, nil
}

// Touch refreshes LastUsedAt on the key.
func (s *Store) Touch(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// SetStatus updates the key status.
func (s *Store) SetStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET status = ? WHERE id = ?`, status, id)
	return err
}

// List returns every key, newest first.
func (s *Store) List(ctx context.Context) ([]apikey.Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, name, status, created_at, last_used_at FROM api_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []apikey.Key
	for rows.Next() {
		var k apikey.Key
		if err := rows.Scan(&k.ID, &k.Key, &k.Name, &k.Status, &k.CreatedAt, &k.LastUsedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
