package ledger

import (
	"context"
	"time"
)

// Entry is one recorded chat completion.
type Entry struct {
	ID               int64
	OwnerID          int64
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Streamed         bool
	QuotaHit         bool
	CreatedAt        time.Time
}

// Summary aggregates an owner's recorded usage.
type Summary struct {
	OwnerID       int64
	Requests      int64
	TotalTokens   int64
	QuotaHits     int64
	TokensByModel map[string]int64
}

// Writer accepts usage entries. Implementations may persist asynchronously.
type Writer interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Store persists usage entries.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	// InsertBatch writes entries in one transaction.
	InsertBatch(ctx context.Context, entries []Entry) error
	// SummarizeOwner aggregates the owner's usage. ownerID 0 aggregates everyone.
	SummarizeOwner(ctx context.Context, ownerID int64) (*Summary, error)
	Close() error
}

// EstimateTokens approximates a token count from raw text length. Four
// characters per token tracks common tokenizers closely enough for analytics.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}
