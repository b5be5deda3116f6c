package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sahyogai/sahyog-gateway/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite usage ledger at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
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
CREATE TABLE IF NOT EXISTS usage_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id INTEGER NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	streamed INTEGER NOT NULL DEFAULT 0,
	quota_hit INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_owner ON usage_entries(owner_id, created_at);
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

const insertSQL = `
INSERT INTO usage_entries(owner_id, model, prompt_tokens, completion_tokens, total_tokens, streamed, quota_hit, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`

// Insert writes one entry.
func (s *Store) Insert(ctx context.Context, e ledger.Entry) error {
	_, err := s.db.ExecContext(ctx, insertSQL,
		e.OwnerID, e.Model, e.PromptTokens, e.CompletionTokens, e.TotalTokens,
		boolInt(e.Streamed), boolInt(e.QuotaHit), entryTime(e))
	return err
}

// InsertBatch writes entries in one transaction.
func (s *Store) InsertBatch(ctx context.Context, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.OwnerID, e.Model, e.PromptTokens, e.CompletionTokens, e.TotalTokens,
			boolInt(e.Streamed), boolInt(e.QuotaHit), entryTime(e)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SummarizeOwner aggregates the owner's usage. ownerID 0 aggregates everyone.
func (s *Store) SummarizeOwner(ctx context.Context, ownerID int64) (*ledger.Summary, error) {
	where := ``
	args := []any{}
	if ownerID != 0 {
		where = `WHERE owner_id = ?`
		args = append(args, ownerID)
	}

	sum := &ledger.Summary{OwnerID: ownerID, TokensByModel: make(map[string]int64)}
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(quota_hit), 0) FROM usage_entries `+where, args...)
	if err := row.Scan(&sum.Requests, &sum.TotalTokens, &sum.QuotaHits); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT model, COALESCE(SUM(total_tokens), 0) FROM usage_entries `+where+` GROUP BY model`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var model string
		var tokens int64
		if err := rows.Scan(&model, &tokens); err != nil {
			return nil, err
		}
		sum.TokensByModel[model] = tokens
	}
	return sum, rows.Err()
}

func entryTime(e ledger.Entry) time.Time {
	if e.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return e.CreatedAt
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
