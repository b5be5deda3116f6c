package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sahyogai/sahyog-gateway/internal/identity"
)

// Store implements identity.Store backed by Postgres, for deployments that
// share one pool across several gateway instances.
type Store struct {
	db *sql.DB
}

// New opens a Postgres-backed identity store using the provided DSN.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
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
	id BIGSERIAL PRIMARY KEY,
	token TEXT NOT NULL UNIQUE,
	usage_count INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO identities(token, usage_count, active, created_at) VALUES($1, 0, TRUE, $2) RETURNING id`,
		token, created).Scan(&id)
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
	placeholders := make([]string, len(tokens))
	args := make([]any, len(tokens))
	for i, t := range tokens {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = t
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT token FROM identities WHERE token IN (`+strings.Join(placeholders, ",")+`)`, args...)
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
		`SELECT id, token, usage_count, active, created_at FROM identities WHERE id = $1`, id)
	var ident identity.Identity
	if err := row.Scan(&ident.ID, &ident.Token, &ident.UsageCount, &ident.Active, &ident.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &ident, nil
}

// ListActive returns active identities ordered by ascending usage count.
func (s *Store) ListActive(ctx context.Context) ([]identity.Identity, error) {
	return s.query(ctx,
		`SELECT id, token, usage_count, active, created_at FROM identities WHERE active ORDER BY usage_count ASC, id ASC`)
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
		var ident identity.Identity
		if err := rows.Scan(&ident.ID, &ident.Token, &ident.UsageCount, &ident.Active, &ident.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

// UpdateUsage persists a new usage count.
func (s *Store) UpdateUsage(ctx context.Context, id int64, usage int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE identities SET usage_count = $1 WHERE id = $2`, usage, id)
	return err
}

// SetActive toggles the soft-disable flag.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE identities SET active = $1 WHERE id = $2`, active, id)
	return err
}

// Delete removes the identity permanently.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	return err
}

// CountEligible counts active identities with usage below the threshold.
func (s *Store) CountEligible(ctx context.Context, threshold int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM identities WHERE active AND usage_count < $1`, threshold).Scan(&n)
	return n, err
}

// ResetAll zeroes usage and re-activates every identity.
func (s *Store) ResetAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE identities SET usage_count = 0, active = TRUE`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
