package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sahyogai/sahyog-gateway/internal/ledger"
)

type memStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
	batches int
	closed  bool
}

func (s *memStore) Insert(ctx context.Context, e ledger.Entry) error {
	return s.InsertBatch(ctx, []ledger.Entry{e})
}

func (s *memStore) InsertBatch(ctx context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	s.batches++
	return nil
}

func (s *memStore) SummarizeOwner(ctx context.Context, ownerID int64) (*ledger.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := &ledger.Summary{OwnerID: ownerID, TokensByModel: make(map[string]int64)}
	for _, e := range s.entries {
		if ownerID != 0 && e.OwnerID != ownerID {
			continue
		}
		sum.Requests++
		sum.TotalTokens += int64(e.TotalTokens)
		sum.TokensByModel[e.Model] += int64(e.TotalTokens)
	}
	return sum, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestCloseFlushesQueuedEntries(t *testing.T) {
	store := &memStore{}
	w := New(store, Config{FlushInterval: time.Hour}) // flush only via Close

	for i := 0; i < 25; i++ {
		if err := w.Record(context.Background(), ledger.Entry{OwnerID: 1, Model: "m", TotalTokens: 1}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if store.count() != 25 {
		t.Fatalf("flushed %d entries, want 25", store.count())
	}
	if !store.closed {
		t.Fatal("underlying store not closed")
	}
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	store := &memStore{}
	w := New(store, Config{BatchSize: 5, FlushInterval: time.Hour})
	defer w.Close()

	for i := 0; i < 5; i++ {
		_ = w.Record(context.Background(), ledger.Entry{OwnerID: 1, Model: "m"})
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.count() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("entries never flushed, have %d", store.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSummarizeOwnerDelegates(t *testing.T) {
	store := &memStore{entries: []ledger.Entry{{OwnerID: 3, Model: "m", TotalTokens: 12}}}
	w := New(store, Config{})
	defer w.Close()

	sum, err := w.SummarizeOwner(context.Background(), 3)
	if err != nil {
		t.Fatalf("SummarizeOwner: %v", err)
	}
	if sum.Requests != 1 || sum.TotalTokens != 12 {
		t.Fatalf("summary = %+v", sum)
	}
}
