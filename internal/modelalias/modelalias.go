package modelalias

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBrand is stamped on aliases that do not carry their own brand name.
const DefaultBrand = "Sahyog"

// Alias maps a caller-facing model name onto the upstream provider's model
// identifier. Only active aliases are served.
type Alias struct {
	ID           int64
	CustomName   string
	ProviderName string
	BrandName    string
	Permissions  string
	Active       bool
	CreatedAt    time.Time
}

// PermissionList splits the free-form permissions field on commas/newlines.
func (a Alias) PermissionList() []string {
	var out []string
	for _, p := range strings.FieldsFunc(a.Permissions, func(r rune) bool {
		return r == ',' || r == '\n'
	}) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Store persists model aliases.
type Store interface {
	// GetByName returns the alias with the given caller-facing name, or nil.
	GetByName(ctx context.Context, customName string) (*Alias, error)
	// ListActive returns active aliases, newest first.
	ListActive(ctx context.Context) ([]Alias, error)
	// Upsert creates or updates the alias keyed by CustomName.
	Upsert(ctx context.Context, alias Alias) error
	Close() error
}

// SeedFile is the YAML document format for pre-loading aliases.
type SeedFile struct {
	Aliases []SeedAlias `yaml:"aliases"`
}

// SeedAlias is one alias entry in the seed file.
type SeedAlias struct {
	Name        string `yaml:"name"`
	Provider    string `yaml:"provider"`
	Brand       string `yaml:"brand"`
	Permissions string `yaml:"permissions"`
	Active      *bool  `yaml:"active"`
}

// LoadSeedFile parses a YAML alias seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse alias seed file %s: %w", path, err)
	}
	return &f, nil
}

// Seed upserts every alias from the seed file into the store.
func Seed(ctx context.Context, store Store, f *SeedFile) error {
	for _, a := range f.Aliases {
		name := strings.TrimSpace(a.Name)
		provider := strings.TrimSpace(a.Provider)
		if name == "" || provider == "" {
			return fmt.Errorf("alias seed entry needs name and provider (got %q => %q)", a.Name, a.Provider)
		}
		brand := strings.TrimSpace(a.Brand)
		if brand == "" {
			brand = DefaultBrand
		}
		active := true
		if a.Active != nil {
			active = *a.Active
		}
		if err := store.Upsert(ctx, Alias{
			CustomName:   name,
			ProviderName: provider,
			BrandName:    brand,
			Permissions:  a.Permissions,
			Active:       active,
		}); err != nil {
			return fmt.Errorf("seed alias %s: %w", name, err)
		}
	}
	return nil
}
