package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sahyogai/sahyog-gateway/internal/conversation"
)

// Store implements conversation.Store backed by Postgres.
type Store struct {
	db *sql.DB
}

// New opens a Postgres-backed conversation store using the provided DSN.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
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
CREATE TABLE IF NOT EXISTS conversations (
	id BIGSERIAL PRIMARY KEY,
	owner_id BIGINT NOT NULL,
	conversation_id TEXT NOT NULL,
	upstream_thread_id TEXT NOT NULL DEFAULT '',
	last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE(owner_id, conversation_id)
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

// Find returns the mapping, or nil when absent.
func (s *Store) Find(ctx context.Context, ownerID int64, conversationID string) (*conversation.Mapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, conversation_id, upstream_thread_id, last_used_at
FROM conversations WHERE owner_id = $1 AND conversation_id = $2`, ownerID, conversationID)
	var m conversation.Mapping
	if err := row.Scan(&m.ID, &m.OwnerID, &m.ConversationID, &m.UpstreamThreadID, &m.LastUsedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// Create inserts a mapping with an empty upstream thread id.
func (s *Store) Create(ctx context.Context, ownerID int64, conversationID string) (*conversation.Mapping, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO conversations(owner_id, conversation_id, upstream_thread_id, last_used_at)
VALUES($1, $2, '', $3) RETURNING id`, ownerID, conversationID, now).Scan(&id)
	if err != nil {
		return nil, err
	}
	return &conversation.Mapping{ID: id, OwnerID: ownerID, ConversationID: conversationID, LastUsedAt: now}, nil
}

// Touch refreshes LastUsedAt.
func (s *Store) Touch(ctx context.Context, ownerID int64, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_used_at = $1 WHERE owner_id = $2 AND conversation_id = $3`,
		time.Now().UTC(), ownerID, conversationID)
	return err
}

// BindThreadID sets the upstream thread id only when it is still empty.
func (s *Store) BindThreadID(ctx context.Context, ownerID int64, conversationID, threadID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET upstream_thread_id = $1, last_used_at = $2
WHERE owner_id = $3 AND conversation_id = $4 AND upstream_thread_id = ''`,
		threadID, time.Now().UTC(), ownerID, conversationID)
	return err
}

// DeleteByOwner removes the owner's mappings.
func (s *Store) DeleteByOwner(ctx context.Context, ownerID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAll removes every mapping.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the total number of mappings.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}
