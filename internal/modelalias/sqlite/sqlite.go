package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sahyogai/sahyog-gateway/internal/modelalias"
)

// Store implements modelalias.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite alias store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create alias directory: %w", err)
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
CREATE TABLE IF NOT EXISTS model_aliases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	custom_name TEXT NOT NULL UNIQUE,
	provider_name TEXT NOT NULL,
	brand_name TEXT NOT NULL DEFAULT 'Sahyog',
	permissions TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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

// GetByName returns the alias with the given caller-facing name, or nil.
func (s *Store) GetByName(ctx context.Context, customName string) (*modelalias.Alias, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, custom_name, provider_name, brand_name, permissions, active, created_at
FROM model_aliases WHERE custom_name = ?`, customName)
	return scanAlias(row.Scan)
}

// ListActive returns active aliases, newest first.
func (s *Store) ListActive(ctx context.Context) ([]modelalias.Alias, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, custom_name, provider_name, brand_name, permissions, active, created_at
FROM model_aliases WHERE active = 1 ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []modelalias.Alias
	for rows.Next() {
		a, err := scanAlias(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Upsert creates or updates the alias keyed by CustomName.
func (s *Store) Upsert(ctx context.Context, alias modelalias.Alias) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO model_aliases(custom_name, provider_name, brand_name, permissions, active, created_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(custom_name) DO UPDATE SET
	provider_name = excluded.provider_name,
	brand_name = excluded.brand_name,
	permissions = excluded.permissions,
	active = excluded.active`,
		alias.CustomName, alias.ProviderName, alias.BrandName, alias.Permissions,
		boolInt(alias.Active), time.Now().UTC())
	return err
}

func scanAlias(scan func(dest ...any) error) (*modelalias.Alias, error) {
	var a modelalias.Alias
	var active int
	if err := scan(&a.ID, &a.CustomName, &a.ProviderName, &a.BrandName, &a.Permissions, &active, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	a.Active = active != 0
	return &a, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
