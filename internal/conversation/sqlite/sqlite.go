package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sahyogai/sahyog-gateway/internal/conversation"
)

// Store implements conversation.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite conversation store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create conversation directory: %w", err)
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
CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id INTEGER NOT NULL,
	conversation_id TEXT NOT NULL,
	upstream_thread_id TEXT NOT NULL DEFAULT '',
	last_used_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
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
FROM conversations WHERE owner_id = ? AND conversation_id = ?`, ownerID, conversationID)
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
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(owner_id, conversation_id, upstream_thread_id, last_used_at) VALUES(?, ?, '', ?)`,
		ownerID, conversationID, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &conversation.Mapping{ID: id, OwnerID: ownerID, ConversationID: conversationID, LastUsedAt: now}, nil
}

// Touch refreshes LastUsedAt.
func (s *Store) Touch(ctx context.Context, ownerID int64, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_used_at = ? WHERE owner_id = ? AND conversation_id = ?`,
		time.Now().UTC(), ownerID, conversationID)
	return err
}

// BindThreadID sets the upstream thread id only when it is still empty.
func (s *Store) BindThreadID(ctx context.Context, ownerID int64, conversationID, threadID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET upstream_thread_id = ?, last_used_at = ?
WHERE owner_id = ? AND conversation_id = ? AND upstream_thread_id = ''`,
		threadID, time.Now().UTC(), ownerID, conversationID)
	return err
}

// DeleteByOwner removes the owner's mappings.
func (s *Store) DeleteByOwner(ctx context.Context, ownerID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE owner_id = ?`, ownerID)
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
