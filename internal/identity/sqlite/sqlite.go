package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sahyogai/sahyog-gateway/internal/identity"
)

// Store implements identity.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite identity store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create identity directory: %w", err)
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
CREATE TABLE IF NOT EXISTS identities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL UNIQUE,
	usage_count INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_identities_active_usage ON identities(active, usage_count);
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

// Insert persists one fresh token.
func (s *Store) Insert(ctx context.Context, token string) (*identity.Identity, error) {
	created := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO identities(token, usage_count, active, created_at) VALUES(?, 0, 1, ?)`,
		token, created)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &identity.Identity{ID: id, Token: token, Active: true, CreatedAt: created}, nil
}

// FilterExisting returns the tokens not yet stored.
func (s *Store) FilterExisting(ctx context.Context, tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tokens)), ",")
	args := make([]any, len(tokens))
	for i, t := range tokens {
		args[i] = t
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT token FROM identities WHERE token IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		existing[t] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fresh := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := existing[t]; !ok {
			fresh = append(fresh, t)
		}
	}
	return fresh, nil
}

// Get returns the identity by id, or nil when absent.
func (s *Store) Get(ctx context.Context, id int64) (*identity.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, token, usage_count, active, created_at FROM identities WHERE id = ?`, id)
	ident, err := scanIdentity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ident, nil
}

// ListActive returns active identities ordered by ascending usage count.
func (s *Store) ListActive(ctx context.Context) ([]identity.Identity, error) {
	return s.query(ctx,
		`SELECT id, token, usage_count, active, created_at FROM identities WHERE active = 1 ORDER BY usage_count ASC, id ASC`)
}

// List returns every identity, newest first.
func (s *Store) List(ctx context.Context) ([]identity.Identity, error) {
	return s.query(ctx,
		`SELECT id, token, usage_count, active, created_at FROM identities ORDER BY created_at DESC, id DESC`)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]identity.Identity, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []identity.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *ident)
	}
	return out, rows.Err()
}

func scanIdentity(scan func(dest ...any) error) (*identity.Identity, error) {
	var ident identity.Identity
	var active int
	if err := scan(&ident.ID, &ident.Token, &ident.UsageCount, &active, &ident.CreatedAt); err != nil {
		return nil, err
	}
	ident.Active = active != 0
	return &ident, nil
}

// UpdateUsage persists a new usage count.
func (s *Store) UpdateUsage(ctx context.Context, id int64, usage int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE identities SET usage_count = ? WHERE id = ?`, usage, id)
	return err
}

// SetActive toggles the soft-disable flag.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE identities SET active = ? WHERE id = ?`, boolInt(active), id)
	return err
}

// Delete removes the identity permanently.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id)
	return err
}

// CountEligible counts active identities with usage below the threshold.
func (s *Store) CountEligible(ctx context.Context, threshold int) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM identities WHERE active = 1 AND usage_count < ?`, threshold)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ResetAll zeroes usage and re-activates every identity.
func (s *Store) ResetAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE identities SET usage_count = 0, active = 1`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
