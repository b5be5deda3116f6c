package conversation_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sahyogai/sahyog-gateway/internal/conversation"
	"github.com/sahyogai/sahyog-gateway/internal/conversation/sqlite"
)

func newMap(t *testing.T) *conversation.Map {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return conversation.NewMap(store, nil)
}

func TestResolveCreatesOnFirstSight(t *testing.T) {
	m := newMap(t)
	ctx := context.Background()

	threadID, err := m.Resolve(ctx, 1, "conv_a")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if threadID != "" {
		t.Fatalf("new conversation thread id = %q, want empty", threadID)
	}

	n, err := m.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	// A second resolve reuses the row.
	if _, err := m.Resolve(ctx, 1, "conv_a"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if n, _ = m.Count(ctx); n != 1 {
		t.Fatalf("count after second resolve = %d, want 1", n)
	}
}

func TestBindFirstWriterWins(t *testing.T) {
	m := newMap(t)
	ctx := context.Background()

	if _, err := m.Resolve(ctx, 1, "conv_a"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := m.Bind(ctx, 1, "conv_a", "thread-1"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := m.Bind(ctx, 1, "conv_a", "thread-2"); err != nil {
		t.Fatalf("second Bind: %v", err)
	}

	threadID, err := m.Resolve(ctx, 1, "conv_a")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if threadID != "thread-1" {
		t.Fatalf("thread id = %q, want thread-1", threadID)
	}
}

func TestBindEmptyThreadIsNoop(t *testing.T) {
	m := newMap(t)
	ctx := context.Background()

	if _, err := m.Resolve(ctx, 1, "conv_a"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := m.Bind(ctx, 1, "conv_a", ""); err != nil {
		t.Fatalf("Bind empty: %v", err)
	}
	threadID, _ := m.Resolve(ctx, 1, "conv_a")
	if threadID != "" {
		t.Fatalf("thread id = %q, want empty", threadID)
	}
}

func TestConversationsAreScopedPerOwner(t *testing.T) {
	m := newMap(t)
	ctx := context.Background()

	if _, err := m.Resolve(ctx, 1, "conv_shared"); err != nil {
		t.Fatalf("Resolve owner 1: %v", err)
	}
	if _, err := m.Resolve(ctx, 2, "conv_shared"); err != nil {
		t.Fatalf("Resolve owner 2: %v", err)
	}
	if err := m.Bind(ctx, 1, "conv_shared", "thread-1"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	threadID, _ := m.Resolve(ctx, 2, "conv_shared")
	if threadID != "" {
		t.Fatalf("owner 2 sees thread %q", threadID)
	}
}

func TestBulkClear(t *testing.T) {
	m := newMap(t)
	ctx := context.Background()

	for _, c := range []struct {
		owner int64
		conv  string
	}{{1, "conv_a"}, {1, "conv_b"}, {2, "conv_c"}} {
		if _, err := m.Resolve(ctx, c.owner, c.conv); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}

	deleted, err := m.BulkClear(ctx, 1)
	if err != nil {
		t.Fatalf("BulkClear(1): %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	deleted, err = m.BulkClear(ctx, 0)
	if err != nil {
		t.Fatalf("BulkClear(0): %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if n, _ := m.Count(ctx); n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
}
