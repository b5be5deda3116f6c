package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
)

// fakeStore is an in-memory Store for pool and generator tests.
type fakeStore struct {
	mu         sync.Mutex
	nextID     int64
	items      map[int64]Identity
	failTokens map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[int64]Identity), failTokens: make(map[string]bool)}
}

func (s *fakeStore) add(token string, usage int, active bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.items[s.nextID] = Identity{ID: s.nextID, Token: token, UsageCount: usage, Active: active}
	return s.nextID
}

func (s *fakeStore) Insert(ctx context.Context, token string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTokens[token] {
		return nil, errors.New("injected insert failure")
	}
	s.nextID++
	id := Identity{ID: s.nextID, Token: token, Active: true}
	s.items[s.nextID] = id
	return &id, nil
}

func (s *fakeStore) FilterExisting(ctx context.Context, tokens []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := make(map[string]bool, len(s.items))
	for _, id := range s.items {
		existing[id.Token] = true
	}
	var fresh []string
	for _, t := range tokens {
		if !existing[t] {
			fresh = append(fresh, t)
		}
	}
	return fresh, nil
}

func (s *fakeStore) Get(ctx context.Context, id int64) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[id]; ok {
		return &it, nil
	}
	return nil, nil
}

func (s *fakeStore) ListActive(ctx context.Context) ([]Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Identity
	for _, it := range s.items {
		if it.Active {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UsageCount < out[j].UsageCount })
	return out, nil
}

func (s *fakeStore) List(ctx context.Context) ([]Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Identity
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *fakeStore) UpdateUsage(ctx context.Context, id int64, usage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return errors.New("no such identity")
	}
	it.UsageCount = usage
	s.items[id] = it
	return nil
}

func (s *fakeStore) SetActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return errors.New("no such identity")
	}
	it.Active = active
	s.items[id] = it
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *fakeStore) CountEligible(ctx context.Context, threshold int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if it.Active && it.UsageCount < threshold {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ResetAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, it := range s.items {
		it.UsageCount = 0
		it.Active = true
		s.items[id] = it
	}
	return int64(len(s.items)), nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func newTestManager(store *fakeStore, cfg PoolConfig) *Manager {
	gen := NewGenerator(store, nil, nil)
	return NewManager(store, gen, StaticConfig(cfg), nil, nil)
}

func TestAcquireNeverReturnsExhausted(t *testing.T) {
	store := newFakeStore()
	store.add("BRWS-eligible0000000000000000000000", 3, true)
	store.add("BRWS-eligible1111111111111111111111", 7, true)
	store.add("BRWS-exhausted22222222222222222222", 45, true)
	store.add("BRWS-inactive333333333333333333333", 0, false)

	m := newTestManager(store, PoolConfig{RetireThreshold: 45, MinPoolSize: 1, ReplenishBatch: 2})
	for i := 0; i < 20; i++ {
		got, err := m.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if got == nil {
			t.Fatal("Acquire returned nil with eligible identities available")
		}
		if got.UsageCount >= 45 {
			t.Fatalf("Acquire returned exhausted identity usage=%d", got.UsageCount)
		}
		if !got.Active {
			t.Fatal("Acquire returned inactive identity")
		}
	}
}

func TestAcquireEmptyPoolTriggersReplenish(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, PoolConfig{RetireThreshold: 45, MinPoolSize: 2, ReplenishBatch: 3})

	got, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil from empty pool, got %+v", got)
	}
	// Inline runner: the emergency replenish completed before Acquire returned.
	if n := store.count(); n != 3 {
		t.Fatalf("expected replenish batch of 3, store has %d", n)
	}
}

// seedEligible adds n distinct active identities with low usage.
func seedEligible(store *fakeStore, n int) {
	for i := 0; i < n; i++ {
		store.add(fmt.Sprintf("BRWS-seed%026d", i), i, true)
	}
}

func TestAcquireLowPoolTriggersProactiveReplenish(t *testing.T) {
	store := newFakeStore()
	seedEligible(store, 9)

	m := newTestManager(store, PoolConfig{RetireThreshold: 45, MinPoolSize: 10, ReplenishBatch: 50})
	got, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got == nil {
		t.Fatal("Acquire returned nil with 9 eligible identities")
	}
	// Inline runner: the proactive replenish completed before Acquire
	// returned, topping the pool up by a full batch.
	if n := store.count(); n != 59 {
		t.Fatalf("store has %d identities after low-pool acquire, want 59", n)
	}
}

func TestRecordUseLowPoolTriggersReplenish(t *testing.T) {
	store := newFakeStore()
	seedEligible(store, 9)
	id := store.add("BRWS-used0000000000000000000000000000", 1, true)

	m := newTestManager(store, PoolConfig{RetireThreshold: 45, MinPoolSize: 10, ReplenishBatch: 50})
	retired, newCount, err := m.RecordUse(context.Background(), id)
	if err != nil {
		t.Fatalf("RecordUse: %v", err)
	}
	if retired || newCount != 2 {
		t.Fatalf("RecordUse = (%v, %d), want (false, 2)", retired, newCount)
	}
	// 10 eligible is not below the minimum, so no replenish yet.
	if n := store.count(); n != 10 {
		t.Fatalf("store grew to %d with a healthy pool", n)
	}

	// Retire the used identity so the post-use pool check sees 9 < 10.
	for i := 0; i < 43; i++ {
		if _, _, err := m.RecordUse(context.Background(), id); err != nil {
			t.Fatalf("RecordUse #%d: %v", i+2, err)
		}
	}
	if got, _ := store.Get(context.Background(), id); got != nil {
		t.Fatal("identity not retired at threshold")
	}
	if n := store.count(); n != 59 {
		t.Fatalf("store has %d identities after retirement, want 59", n)
	}
}

func TestRecordUseIncrementsBelowThreshold(t *testing.T) {
	store := newFakeStore()
	id := store.add("BRWS-tok0000000000000000000000000000", 10, true)

	m := newTestManager(store, PoolConfig{RetireThreshold: 45, MinPoolSize: 1, ReplenishBatch: 2})
	retired, newCount, err := m.RecordUse(context.Background(), id)
	if err != nil {
		t.Fatalf("RecordUse: %v", err)
	}
	if retired {
		t.Fatal("identity retired below threshold")
	}
	if newCount != 11 {
		t.Fatalf("newCount = %d, want 11", newCount)
	}
	got, _ := store.Get(context.Background(), id)
	if got == nil || got.UsageCount != 11 {
		t.Fatalf("stored usage = %+v, want 11", got)
	}
}

func TestRecordUseRetiresAtThreshold(t *testing.T) {
	store := newFakeStore()
	id := store.add("BRWS-tok0000000000000000000000000000", 44, true)

	m := newTestManager(store, PoolConfig{RetireThreshold: 45, MinPoolSize: 1, ReplenishBatch: 2})
	retired, newCount, err := m.RecordUse(context.Background(), id)
	if err != nil {
		t.Fatalf("RecordUse: %v", err)
	}
	if !retired {
		t.Fatal("expected retirement at threshold")
	}
	if newCount != 45 {
		t.Fatalf("newCount = %d, want 45", newCount)
	}
	if got, _ := store.Get(context.Background(), id); got != nil {
		t.Fatal("retired identity still present")
	}
}

func TestRecordUseMissingIdentityIsNoop(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, PoolConfig{RetireThreshold: 45, MinPoolSize: 1, ReplenishBatch: 2})
	retired, newCount, err := m.RecordUse(context.Background(), 999)
	if err != nil || retired || newCount != 0 {
		t.Fatalf("RecordUse(missing) = (%v, %d, %v), want (false, 0, nil)", retired, newCount, err)
	}
}

func TestReplenishNoopWhenHealthy(t *testing.T) {
	store := newFakeStore()
	store.add("BRWS-a0000000000000000000000000000000", 0, true)
	store.add("BRWS-b0000000000000000000000000000000", 0, true)

	m := newTestManager(store, PoolConfig{RetireThreshold: 45, MinPoolSize: 2, ReplenishBatch: 5})
	created, err := m.Replenish(context.Background())
	if err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	if created != 0 {
		t.Fatalf("created = %d, want 0", created)
	}
	if n := store.count(); n != 2 {
		t.Fatalf("store grew to %d", n)
	}
}

func TestCleanupRemovesStale(t *testing.T) {
	store := newFakeStore()
	store.add("BRWS-fresh000000000000000000000000000", 1, true)
	store.add("BRWS-spent000000000000000000000000000", 45, true)
	store.add("BRWS-over0000000000000000000000000000", 50, true)
	store.add("BRWS-off00000000000000000000000000000", 2, false)

	m := newTestManager(store, PoolConfig{RetireThreshold: 45, MinPoolSize: 1, ReplenishBatch: 2})
	res, err := m.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if res.Deleted != 3 || res.Errors != 0 {
		t.Fatalf("Cleanup = %+v, want Deleted=3 Errors=0", res)
	}
	if n := store.count(); n != 1 {
		t.Fatalf("store has %d identities, want 1", n)
	}
}

func TestResetCounters(t *testing.T) {
	store := newFakeStore()
	store.add("BRWS-a0000000000000000000000000000000", 44, true)
	store.add("BRWS-b0000000000000000000000000000000", 10, false)

	m := newTestManager(store, PoolConfig{RetireThreshold: 45, MinPoolSize: 1, ReplenishBatch: 2})
	n, err := m.ResetCounters(context.Background())
	if err != nil {
		t.Fatalf("ResetCounters: %v", err)
	}
	if n != 2 {
		t.Fatalf("reset %d, want 2", n)
	}
	all, _ := store.List(context.Background())
	for _, it := range all {
		if it.UsageCount != 0 || !it.Active {
			t.Fatalf("identity not reset: %+v", it)
		}
	}
}

func TestStats(t *testing.T) {
	store := newFakeStore()
	store.add("BRWS-low00000000000000000000000000000", 5, true)
	store.add("BRWS-near0000000000000000000000000000", 43, true)
	store.add("BRWS-spent000000000000000000000000000", 45, true)
	store.add("BRWS-off00000000000000000000000000000", 0, false)

	m := newTestManager(store, PoolConfig{RetireThreshold: 45, MinPoolSize: 1, ReplenishBatch: 2})
	st, err := m.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 4 || st.Eligible != 2 || st.NearLimit != 1 || st.Inactive != 1 {
		t.Fatalf("Stats = %+v", st)
	}
}
