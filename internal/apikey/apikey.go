package apikey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Status values for an API key.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// Key is a caller credential for the OpenAI-compatible surface.
type Key struct {
	ID         int64
	Key        string
	Name       string
	Status     string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Active reports whether the key may authenticate requests.
func (k Key) Active() bool {
	return k.Status == StatusActive
}

// Store persists API keys.
type Store interface {
	// FindByKey returns the key record for the raw key string, or nil.
	FindByKey(ctx context.Context, raw string) (*Key, error)
	// Create inserts a new key record and returns it.
	Create(ctx context.Context, raw, name string) (*Key, error)
	// Touch refreshes LastUsedAt on the key.
	Touch(ctx context.Context, id int64) error
	// SetStatus updates the key status.
	SetStatus(ctx context.Context, id int64, status string) error
	// List returns every key, newest first.
	List(ctx context.Context) ([]Key, error)
	Close() error
}

// NewKey returns a fresh random key string with the sk- prefix callers expect.
func NewKey() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return "sk-" + hex.EncodeToString(buf)
}
