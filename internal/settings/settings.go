package settings

import (
	"context"
	"log"
	"strconv"

	"github.com/sahyogai/sahyog-gateway/internal/identity"
)

// Setting keys recognised by the pool manager.
const (
	KeyRetireThreshold = "identity_retire_threshold"
	KeyMinPoolSize     = "identity_min_pool"
	KeyReplenishBatch  = "identity_replenish_batch"
)

// Store is a key/value settings table with string values.
type Store interface {
	// Get returns the value for key, or fallback when absent.
	Get(ctx context.Context, key, fallback string) (string, error)
	// Set writes the value for key, creating it when absent.
	Set(ctx context.Context, key, value string) error
	// All returns every stored key/value pair.
	All(ctx context.Context) (map[string]string, error)
	Close() error
}

// PoolConfigSource adapts a settings store into an identity.ConfigSource.
// Lookups happen per operation so admin changes apply without a restart;
// lookup failures fall back to the hard-coded defaults.
type PoolConfigSource struct {
	store  Store
	logger *log.Logger
}

// NewPoolConfigSource wraps the settings store.
func NewPoolConfigSource(store Store, logger *log.Logger) *PoolConfigSource {
	return &PoolConfigSource{store: store, logger: logger}
}

// PoolConfig implements identity.ConfigSource.
func (p *PoolConfigSource) PoolConfig(ctx context.Context) identity.PoolConfig {
	cfg := identity.DefaultPoolConfig()
	cfg.RetireThreshold = p.intSetting(ctx, KeyRetireThreshold, cfg.RetireThreshold)
	cfg.MinPoolSize = p.intSetting(ctx, KeyMinPoolSize, cfg.MinPoolSize)
	cfg.ReplenishBatch = p.intSetting(ctx, KeyReplenishBatch, cfg.ReplenishBatch)
	return cfg
}

func (p *PoolConfigSource) intSetting(ctx context.Context, key string, fallback int) int {
	raw, err := p.store.Get(ctx, key, strconv.Itoa(fallback))
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("setting %s unavailable, using default %d: %v", key, fallback, err)
		}
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
