package identity

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// acquireSpread bounds the random pick to the N lowest-usage identities so
// load spreads without any cross-request coordination.
const acquireSpread = 5

// cleanupBatchSize bounds concurrent deletes during a sweep.
const cleanupBatchSize = 20

// Runner accepts background work with an isolated error sink. Satisfied by
// tasks.Executor.
type Runner interface {
	Submit(name string, fn func(ctx context.Context) error)
}

// Manager owns the identity lifecycle: selection, usage accounting,
// retirement, pool-size monitoring and replenishment.
//
// Replenish is deliberately not exclusive: concurrent triggers from separate
// requests (or instances) may each generate a batch, over-filling the pool by
// a bounded amount. That is accepted in exchange for keeping the request path
// lock-free.
type Manager struct {
	store  Store
	gen    *Generator
	config ConfigSource
	runner Runner
	logger *log.Logger
}

// NewManager wires a pool manager. config may be nil for defaults; runner may
// be nil, in which case replenishment triggers run inline.
func NewManager(store Store, gen *Generator, config ConfigSource, runner Runner, logger *log.Logger) *Manager {
	if config == nil {
		config = StaticConfig(DefaultPoolConfig())
	}
	return &Manager{store: store, gen: gen, config: config, runner: runner, logger: logger}
}

// Acquire returns an eligible identity, picked uniformly among the five
// lowest-usage candidates. It returns nil (no error) when the pool is empty;
// the caller is expected to fall back to an ephemeral token for that request.
// An empty or shrinking pool triggers an asynchronous replenish.
func (m *Manager) Acquire(ctx context.Context) (*Identity, error) {
	cfg := m.config.PoolConfig(ctx)

	active, err := m.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active identities: %w", err)
	}

	eligible := active[:0:0]
	for _, id := range active {
		if id.UsageCount < cfg.RetireThreshold {
			eligible = append(eligible, id)
		}
	}

	if len(eligible) == 0 {
		m.logf("pool empty, triggering emergency replenish")
		m.trigger("pool.replenish")
		return nil, nil
	}
	if len(eligible) < cfg.MinPoolSize {
		m.logf("pool low (%d < %d), triggering proactive replenish", len(eligible), cfg.MinPoolSize)
		m.trigger("pool.replenish")
	}

	spread := acquireSpread
	if len(eligible) < spread {
		spread = len(eligible)
	}
	pick := eligible[rand.IntN(spread)]
	return &pick, nil
}

// RecordUse increments the identity's usage count. Crossing the retire
// threshold deletes the identity; either way a pool-size check runs in the
// background. Returns whether the identity was retired and the new count.
func (m *Manager) RecordUse(ctx context.Context, id int64) (bool, int, error) {
	cfg := m.config.PoolConfig(ctx)

	ident, err := m.store.Get(ctx, id)
	if err != nil {
		return false, 0, fmt.Errorf("load identity %d: %w", id, err)
	}
	if ident == nil {
		return false, 0, nil
	}

	newCount := ident.UsageCount + 1
	if newCount >= cfg.RetireThreshold {
		if err := m.store.Delete(ctx, id); err != nil {
			return false, newCount, fmt.Errorf("retire identity %d: %w", id, err)
		}
		m.logf("identity %d reached %d uses, retired", id, newCount)
		m.trigger("pool.replenish")
		return true, newCount, nil
	}

	if err := m.store.UpdateUsage(ctx, id, newCount); err != nil {
		return false, newCount, fmt.Errorf("update identity %d: %w", id, err)
	}

	m.submit("pool.check", func(ctx context.Context) error {
		eligible, err := m.store.CountEligible(ctx, cfg.RetireThreshold)
		if err != nil {
			return err
		}
		if eligible < cfg.MinPoolSize {
			m.logf("pool low after use (%d < %d)", eligible, cfg.MinPoolSize)
			_, err = m.Replenish(ctx)
			return err
		}
		return nil
	})
	return false, newCount, nil
}

// Replenish generates and stores a fresh batch when the eligible pool is
// below the minimum size. Returns the number of identities created.
func (m *Manager) Replenish(ctx context.Context) (int, error) {
	cfg := m.config.PoolConfig(ctx)

	eligible, err := m.store.CountEligible(ctx, cfg.RetireThreshold)
	if err != nil {
		return 0, fmt.Errorf("count eligible identities: %w", err)
	}
	if eligible >= cfg.MinPoolSize {
		return 0, nil
	}

	m.logf("replenishing: %d eligible < %d, generating %d", eligible, cfg.MinPoolSize, cfg.ReplenishBatch)
	res, err := m.gen.StoreBatch(ctx, m.gen.Generate(cfg.ReplenishBatch))
	if err != nil {
		return 0, fmt.Errorf("store replenish batch: %w", err)
	}
	return res.Created, nil
}

// CleanupResult reports a cleanup sweep.
type CleanupResult struct {
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// Cleanup deletes identities that are inactive or at/over the retire
// threshold, in bounded concurrent batches.
func (m *Manager) Cleanup(ctx context.Context) (CleanupResult, error) {
	cfg := m.config.PoolConfig(ctx)

	all, err := m.store.List(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("list identities: %w", err)
	}

	var stale []Identity
	for _, id := range all {
		if !id.Active || id.UsageCount >= cfg.RetireThreshold {
			stale = append(stale, id)
		}
	}
	m.logf("cleanup: %d exhausted/inactive identities", len(stale))

	var deleted, errs atomic.Int64
	for start := 0; start < len(stale); start += cleanupBatchSize {
		end := start + cleanupBatchSize
		if end > len(stale) {
			end = len(stale)
		}
		var wg sync.WaitGroup
		for _, id := range stale[start:end] {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				if err := m.store.Delete(ctx, id); err != nil {
					m.logf("cleanup delete %d failed: %v", id, err)
					errs.Add(1)
					return
				}
				deleted.Add(1)
			}(id.ID)
		}
		wg.Wait()
	}
	return CleanupResult{Deleted: int(deleted.Load()), Errors: int(errs.Load())}, nil
}

// ResetCounters zeroes usage and re-activates every identity.
func (m *Manager) ResetCounters(ctx context.Context) (int64, error) {
	n, err := m.store.ResetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset identity counters: %w", err)
	}
	m.logf("reset %d identity counters", n)
	return n, nil
}

// Stats summarises the current pool for the admin surface.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	cfg := m.config.PoolConfig(ctx)
	all, err := m.store.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list identities: %w", err)
	}
	st := Stats{Total: len(all), Config: cfg}
	for _, id := range all {
		switch {
		case !id.Active:
			st.Inactive++
		case id.UsageCount < cfg.RetireThreshold:
			st.Eligible++
			if id.UsageCount >= cfg.RetireThreshold-5 {
				st.NearLimit++
			}
		}
	}
	return st, nil
}

// trigger schedules a replenish in the background.
func (m *Manager) trigger(name string) {
	m.submit(name, func(ctx context.Context) error {
		_, err := m.Replenish(ctx)
		return err
	})
}

func (m *Manager) submit(name string, fn func(ctx context.Context) error) {
	if m.runner == nil {
		if err := fn(context.Background()); err != nil {
			m.logf("%s failed: %v", name, err)
		}
		return
	}
	m.runner.Submit(name, fn)
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
