package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sahyogai/sahyog-gateway/internal/apikey"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "keys.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndFind(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	raw := apikey.NewKey()
	created, err := store.Create(ctx, raw, "ci")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == 0 || !created.Active() {
		t.Fatalf("created = %+v", created)
	}

	found, err := store.FindByKey(ctx, raw)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if found == nil || found.ID != created.ID || found.Name != "ci" {
		t.Fatalf("found = %+v", found)
	}

	missing, err := store.FindByKey(ctx, "sk-missing")
	if err != nil || missing != nil {
		t.Fatalf("FindByKey(missing) = (%+v, %v), want (nil, nil)", missing, err)
	}
}

func TestSetStatusRevokes(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	raw := apikey.NewKey()
	created, err := store.Create(ctx, raw, "ci")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SetStatus(ctx, created.ID, apikey.StatusRevoked); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	found, err := store.FindByKey(ctx, raw)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if found.Active() {
		t.Fatalf("revoked key still active: %+v", found)
	}
}

func TestTouchUpdatesLastUsed(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, apikey.NewKey(), "ci")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Touch(ctx, created.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	found, err := store.FindByKey(ctx, created.Key)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if found.LastUsedAt.Before(created.LastUsedAt) {
		t.Fatalf("LastUsedAt went backwards: %v < %v", found.LastUsedAt, created.LastUsedAt)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first, _ := store.Create(ctx, apikey.NewKey(), "first")
	second, _ := store.Create(ctx, apikey.NewKey(), "second")

	keys, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0].ID != second.ID || keys[1].ID != first.ID {
		t.Fatalf("keys = %+v", keys)
	}
}
