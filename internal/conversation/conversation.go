package conversation

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Mapping associates a caller-facing conversation id with the upstream's
// internal thread id. UpstreamThreadID stays empty until the first upstream
// response reveals it.
type Mapping struct {
	ID               int64
	OwnerID          int64
	ConversationID   string
	UpstreamThreadID string
	LastUsedAt       time.Time
}

// Store persists conversation mappings, unique on (owner, conversation).
type Store interface {
	// Find returns the mapping, or nil when absent.
	Find(ctx context.Context, ownerID int64, conversationID string) (*Mapping, error)
	// Create inserts a mapping with an empty upstream thread id.
	Create(ctx context.Context, ownerID int64, conversationID string) (*Mapping, error)
	// Touch refreshes LastUsedAt.
	Touch(ctx context.Context, ownerID int64, conversationID string) error
	// BindThreadID sets the upstream thread id only when it is still empty.
	BindThreadID(ctx context.Context, ownerID int64, conversationID, threadID string) error
	// DeleteByOwner removes the owner's mappings and reports how many.
	DeleteByOwner(ctx context.Context, ownerID int64) (int64, error)
	// DeleteAll removes every mapping and reports how many.
	DeleteAll(ctx context.Context) (int64, error)
	// Count returns the total number of mappings.
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Map provides the conversation-continuity operations used by the relay.
type Map struct {
	store  Store
	logger *log.Logger
}

// NewMap wires a conversation map over the given store.
func NewMap(store Store, logger *log.Logger) *Map {
	return &Map{store: store, logger: logger}
}

// Resolve returns the current upstream thread id for the conversation,
// creating the mapping on first sight. An empty return means the upstream
// thread is not known yet.
func (m *Map) Resolve(ctx context.Context, ownerID int64, conversationID string) (string, error) {
	existing, err := m.store.Find(ctx, ownerID, conversationID)
	if err != nil {
		return "", fmt.Errorf("find conversation %s: %w", conversationID, err)
	}
	if existing != nil {
		if err := m.store.Touch(ctx, ownerID, conversationID); err != nil {
			m.logf("touch conversation %s failed: %v", conversationID, err)
		}
		return existing.UpstreamThreadID, nil
	}
	if _, err := m.store.Create(ctx, ownerID, conversationID); err != nil {
		return "", fmt.Errorf("create conversation %s: %w", conversationID, err)
	}
	return "", nil
}

// Bind records the upstream thread id for the conversation. First writer
// wins: once bound, later calls with a different id are no-ops.
func (m *Map) Bind(ctx context.Context, ownerID int64, conversationID, threadID string) error {
	if threadID == "" {
		return nil
	}
	if err := m.store.BindThreadID(ctx, ownerID, conversationID, threadID); err != nil {
		return fmt.Errorf("bind conversation %s: %w", conversationID, err)
	}
	return nil
}

// BulkClear deletes the owner's mappings, or all mappings when ownerID is 0.
func (m *Map) BulkClear(ctx context.Context, ownerID int64) (int64, error) {
	if ownerID != 0 {
		return m.store.DeleteByOwner(ctx, ownerID)
	}
	return m.store.DeleteAll(ctx)
}

// Count returns the number of stored mappings.
func (m *Map) Count(ctx context.Context) (int64, error) {
	return m.store.Count(ctx)
}

func (m *Map) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
