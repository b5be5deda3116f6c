package modelalias_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sahyogai/sahyog-gateway/internal/modelalias"
	"github.com/sahyogai/sahyog-gateway/internal/modelalias/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "aliases.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPermissionList(t *testing.T) {
	a := modelalias.Alias{Permissions: "chat, vision\nimages, "}
	want := []string{"chat", "vision", "images"}
	if got := a.PermissionList(); !reflect.DeepEqual(got, want) {
		t.Fatalf("PermissionList = %v, want %v", got, want)
	}
	if got := (modelalias.Alias{}).PermissionList(); got != nil {
		t.Fatalf("empty PermissionList = %v, want nil", got)
	}
}

func TestUpsertAndGetByName(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, modelalias.Alias{
		CustomName:   "sahyog-fast",
		ProviderName: "orion-fast",
		BrandName:    "Sahyog",
		Active:       true,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.GetByName(ctx, "sahyog-fast")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got == nil || got.ProviderName != "orion-fast" || !got.Active {
		t.Fatalf("alias = %+v", got)
	}

	// Upsert on the same name updates in place.
	if err := store.Upsert(ctx, modelalias.Alias{
		CustomName:   "sahyog-fast",
		ProviderName: "orion-pro",
		BrandName:    "Sahyog",
		Active:       false,
	}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, err = store.GetByName(ctx, "sahyog-fast")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got.ProviderName != "orion-pro" || got.Active {
		t.Fatalf("updated alias = %+v", got)
	}

	missing, err := store.GetByName(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("GetByName(missing) = (%+v, %v), want (nil, nil)", missing, err)
	}
}

func TestListActiveExcludesDisabled(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, a := range []modelalias.Alias{
		{CustomName: "on", ProviderName: "p1", BrandName: "Sahyog", Active: true},
		{CustomName: "off", ProviderName: "p2", BrandName: "Sahyog", Active: false},
	} {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("Upsert %s: %v", a.CustomName, err)
		}
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].CustomName != "on" {
		t.Fatalf("active = %+v", active)
	}
}

func TestSeedFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	doc := `aliases:
  - name: sahyog-fast
    provider: orion-fast
    permissions: "chat"
  - name: sahyog-pro
    provider: orion-pro
    brand: OtherBrand
    active: false
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	seed, err := modelalias.LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile: %v", err)
	}
	if len(seed.Aliases) != 2 {
		t.Fatalf("seed entries = %d, want 2", len(seed.Aliases))
	}

	store := newStore(t)
	if err := modelalias.Seed(context.Background(), store, seed); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	fast, err := store.GetByName(context.Background(), "sahyog-fast")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	// Brand defaults and active defaults apply when the entry omits them.
	if fast.BrandName != modelalias.DefaultBrand || !fast.Active {
		t.Fatalf("seeded alias = %+v", fast)
	}

	pro, err := store.GetByName(context.Background(), "sahyog-pro")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if pro.BrandName != "OtherBrand" || pro.Active {
		t.Fatalf("seeded alias = %+v", pro)
	}
}

func TestSeedRejectsIncompleteEntries(t *testing.T) {
	store := newStore(t)
	err := modelalias.Seed(context.Background(), store, &modelalias.SeedFile{
		Aliases: []modelalias.SeedAlias{{Name: "only-name"}},
	})
	if err == nil {
		t.Fatal("expected error for entry without provider")
	}
}
