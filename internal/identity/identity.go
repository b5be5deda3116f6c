package identity

import (
	"context"
	"time"
)

// Identity is one synthetic session credential in the rotation pool. The
// token is presented to the upstream service as a browser session cookie;
// usage is metered locally and the record is retired once it crosses the
// configured threshold.
type Identity struct {
	ID         int64
	Token      string
	UsageCount int
	Active     bool
	CreatedAt  time.Time
}

// Eligible reports whether the identity may be handed out for a request.
func (i Identity) Eligible(retireThreshold int) bool {
	return i.Active && i.UsageCount < retireThreshold
}

// Store persists identities across SQLite/Postgres backends.
type Store interface {
	// Insert persists a single fresh token with zero usage.
	Insert(ctx context.Context, token string) (*Identity, error)
	// FilterExisting returns the subset of tokens not already stored.
	FilterExisting(ctx context.Context, tokens []string) ([]string, error)
	// Get returns the identity by id, or nil when absent.
	Get(ctx context.Context, id int64) (*Identity, error)
	// ListActive returns active identities ordered by ascending usage count.
	ListActive(ctx context.Context) ([]Identity, error)
	// List returns every identity, newest first.
	List(ctx context.Context) ([]Identity, error)
	// UpdateUsage persists a new usage count.
	UpdateUsage(ctx context.Context, id int64, usage int) error
	// SetActive toggles the soft-disable flag.
	SetActive(ctx context.Context, id int64, active bool) error
	// Delete removes the identity permanently.
	Delete(ctx context.Context, id int64) error
	// CountEligible counts active identities with usage below the threshold.
	CountEligible(ctx context.Context, threshold int) (int, error)
	// ResetAll sets usage to zero and active to true on every identity.
	ResetAll(ctx context.Context) (int64, error)
	Close() error
}

// PoolConfig carries the pool sizing knobs. Values are loaded once per
// operation from the settings store and fall back to the defaults below.
type PoolConfig struct {
	RetireThreshold int
	MinPoolSize     int
	ReplenishBatch  int
}

// DefaultPoolConfig returns the hard-coded fallbacks.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		RetireThreshold: 45,
		MinPoolSize:     10,
		ReplenishBatch:  50,
	}
}

func (c PoolConfig) normalized() PoolConfig {
	def := DefaultPoolConfig()
	if c.RetireThreshold <= 0 {
		c.RetireThreshold = def.RetireThreshold
	}
	if c.MinPoolSize <= 0 {
		c.MinPoolSize = def.MinPoolSize
	}
	if c.ReplenishBatch <= 0 {
		c.ReplenishBatch = def.ReplenishBatch
	}
	return c
}

// ConfigSource yields the current pool configuration. The settings store
// implements it; tests use a fixed value.
type ConfigSource interface {
	PoolConfig(ctx context.Context) PoolConfig
}

// StaticConfig is a ConfigSource returning a constant configuration.
type StaticConfig PoolConfig

// PoolConfig implements ConfigSource.
func (c StaticConfig) PoolConfig(context.Context) PoolConfig {
	return PoolConfig(c).normalized()
}

// Stats summarises the pool for the admin surface.
type Stats struct {
	Total     int        `json:"total"`
	Eligible  int        `json:"eligible"`
	NearLimit int        `json:"near_limit"`
	Inactive  int        `json:"inactive"`
	Config    PoolConfig `json:"config"`
}
