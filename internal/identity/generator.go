package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

const (
	// TokenPrefix is the fixed lead-in the upstream expects on session tokens.
	TokenPrefix = "BRWS-"

	tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	tokenMinLen   = 30
	tokenMaxLen   = 35

	// storeBatchSize bounds how many inserts run concurrently.
	storeBatchSize = 10
)

// Prober issues a lightweight upstream request with a candidate token.
// Any status in the accepted set means the token format is usable; it says
// nothing about remaining quota.
type Prober interface {
	Probe(ctx context.Context, token string) (int, error)
}

// Generator synthesizes and persists identity tokens in batches.
type Generator struct {
	store  Store
	prober Prober
	logger *log.Logger
}

// NewGenerator creates a Generator. prober may be nil to skip sample checks.
func NewGenerator(store Store, prober Prober, logger *log.Logger) *Generator {
	return &Generator{store: store, prober: prober, logger: logger}
}

// NewToken returns one syntactically valid token: the fixed prefix followed
// by 30-35 random characters drawn from the lowercase base36 alphabet.
func NewToken() string {
	span := make([]byte, 1)
	_, _ = rand.Read(span)
	length := tokenMinLen + int(span[0])%(tokenMaxLen-tokenMinLen+1)

	raw := make([]byte, length)
	_, _ = rand.Read(raw)
	for i := range raw {
		raw[i] = tokenAlphabet[int(raw[i])%len(tokenAlphabet)]
	}
	return TokenPrefix + string(raw)
}

// Generate returns count tokens with no duplicates within the batch.
func (g *Generator) Generate(count int) []string {
	tokens := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(tokens) < count {
		t := NewToken()
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}
	return tokens
}

// ValidateSample probes upstream with one token and reports whether the
// format was accepted. Success, rate-limited and bad-request responses all
// count: each proves the credential shape parses upstream.
func (g *Generator) ValidateSample(ctx context.Context, token string) bool {
	if g.prober == nil {
		return true
	}
	status, err := g.prober.Probe(ctx, token)
	if err != nil {
		g.logf("sample probe failed: %v", err)
		return false
	}
	switch status {
	case 200, 400, 429:
		return true
	default:
		g.logf("sample probe rejected status=%d", status)
		return false
	}
}

// BatchResult reports the outcome of StoreBatch.
type BatchResult struct {
	Created int `json:"created"`
	Errors  int `json:"errors"`
}

// StoreBatch persists tokens that are not already stored, running inserts in
// bounded concurrent sub-batches. Per-token failures are counted and skipped;
// the batch never aborts on them.
func (g *Generator) StoreBatch(ctx context.Context, tokens []string) (BatchResult, error) {
	fresh, err := g.store.FilterExisting(ctx, tokens)
	if err != nil {
		return BatchResult{}, fmt.Errorf("filter existing tokens: %w", err)
	}
	if len(fresh) < len(tokens) {
		g.logf("skipping %d duplicate token(s)", len(tokens)-len(fresh))
	}

	var created, errs atomic.Int64
	for start := 0; start < len(fresh); start += storeBatchSize {
		end := start + storeBatchSize
		if end > len(fresh) {
			end = len(fresh)
		}
		var wg sync.WaitGroup
		for _, token := range fresh[start:end] {
			wg.Add(1)
			go func(token string) {
				defer wg.Done()
				if _, err := g.store.Insert(ctx, token); err != nil {
					g.logf("insert %s failed: %v", token, err)
					errs.Add(1)
					return
				}
				created.Add(1)
			}(token)
		}
		wg.Wait()
	}

	res := BatchResult{Created: int(created.Load()), Errors: int(errs.Load())}
	g.logf("stored %d/%d tokens (%d errors)", res.Created, len(tokens), res.Errors)
	return res, nil
}

func (g *Generator) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}
