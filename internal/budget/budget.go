// Package budget implements the hierarchical budget pool manager
// (component C2): atomic consume/top-up with parent propagation and
// optimistic per-pool concurrency control.
package budget

import (
	"context"
	"time"

	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/model"
)

// maxVersionRetries bounds the optimistic-concurrency retry loop on a
// version conflict, grounded on the teacher's bounded Redis Lua-script
// retry pattern for atomic counter updates.
const maxVersionRetries = 5

// Store is the subset of the store contract the budget manager needs.
// The reference implementation is internal/store/pgstore; tests and
// library users without Postgres use internal/store/memstore.
type Store interface {
	GetPool(ctx context.Context, id string) (*model.BudgetPool, error)
	CreatePool(ctx context.Context, pool *model.BudgetPool) error
	// UpdatePool performs a compare-and-swap on Version, returning
	// coreerr.KindVersionConflict if the stored version has moved.
	UpdatePool(ctx context.Context, pool *model.BudgetPool, expectedVersion int64) error
	ListChildren(ctx context.Context, parentID string) ([]*model.BudgetPool, error)
}

// Manager is the budget pool manager.
type Manager struct {
	store Store
	now   func() time.Time
}

// New creates a Manager backed by store.
func New(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Create creates a new pool, rejecting parent chains that would cycle.
func (m *Manager) Create(ctx context.Context, id string, total int64, parentID string, metadata map[string]interface{}) (*model.BudgetPool, error) {
	if parentID != "" {
		if err := m.checkNoCycle(ctx, id, parentID); err != nil {
			return nil, err
		}
	}

	pool := &model.BudgetPool{
		ID:              id,
		ParentPoolID:    parentID,
		TotalBudget:     total,
		UsedBudget:      0,
		RemainingBudget: total,
		Status:          model.PoolActive,
		Version:         0,
		CreatedAt:       m.now(),
		Metadata:        metadata,
	}
	if err := m.store.CreatePool(ctx, pool); err != nil {
		return nil, coreerr.Wrap(coreerr.KindStoreError, err, "create pool %s", id)
	}
	return pool, nil
}

// checkNoCycle walks the prospective parent chain looking for id.
func (m *Manager) checkNoCycle(ctx context.Context, id, parentID string) error {
	cur := parentID
	seen := map[string]bool{}
	for cur != "" {
		if cur == id || seen[cur] {
			return coreerr.New(coreerr.KindInvalidDefinition, "pool %s would create a cycle via parent %s", id, parentID)
		}
		seen[cur] = true
		p, err := m.store.GetPool(ctx, cur)
		if err != nil {
			return coreerr.Wrap(coreerr.KindPoolNotFound, err, "parent pool %s", cur)
		}
		cur = p.ParentPoolID
	}
	return nil
}

// Check reports whether amount is currently available in poolId without
// mutating anything.
func (m *Manager) Check(ctx context.Context, poolID string, amount int64) (bool, error) {
	pool, err := m.loadActive(ctx, poolID)
	if err != nil {
		if coreerr.Is(err, coreerr.KindPoolInactive) {
			return false, nil
		}
		return false, err
	}
	return pool.RemainingBudget >= amount, nil
}

func (m *Manager) loadActive(ctx context.Context, poolID string) (*model.BudgetPool, error) {
	pool, err := m.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindPoolNotFound, err, "pool %s", poolID)
	}
	if pool.Status != model.PoolActive {
		return pool, coreerr.New(coreerr.KindPoolInactive, "pool %s is %s", poolID, pool.Status)
	}
	return pool, nil
}

// Consume deducts amount from poolId and, if the pool has a parent,
// recursively consumes the same amount from the parent. Each pool's
// update is a compare-and-swap on Version, retried up to
// maxVersionRetries times on conflict.
func (m *Manager) Consume(ctx context.Context, poolID string, amount int64) error {
	var parentID string

	err := m.withRetry(ctx, poolID, func(pool *model.BudgetPool) error {
		if pool.Status != model.PoolActive {
			return coreerr.New(coreerr.KindPoolInactive, "pool %s is %s", poolID, pool.Status)
		}
		if pool.RemainingBudget < amount {
			return coreerr.New(coreerr.KindBudgetExhausted, "pool %s has %d remaining, requested %d", poolID, pool.RemainingBudget, amount)
		}
		pool.UsedBudget += amount
		pool.RemainingBudget -= amount
		if pool.RemainingBudget <= 0 {
			pool.Status = model.PoolExhausted
		}
		parentID = pool.ParentPoolID
		return nil
	})
	if err != nil {
		return err
	}

	if parentID != "" {
		return m.Consume(ctx, parentID, amount)
	}
	return nil
}

// Increase tops up poolId by amount, reactivating it if it was exhausted
// and the top-up leaves budget remaining. Resolving a budget_increase
// approval does not call it.
func (m *Manager) Increase(ctx context.Context, poolID string, amount int64) error {
	return m.withRetry(ctx, poolID, func(pool *model.BudgetPool) error {
		pool.TotalBudget += amount
		pool.RemainingBudget += amount
		if pool.RemainingBudget > 0 && pool.Status == model.PoolExhausted {
			pool.Status = model.PoolActive
		}
		return nil
	})
}

// Suspend marks a pool suspended, blocking further consume/check calls
// until Reactivate.
func (m *Manager) Suspend(ctx context.Context, poolID string) error {
	return m.withRetry(ctx, poolID, func(pool *model.BudgetPool) error {
		pool.Status = model.PoolSuspended
		return nil
	})
}

// Reactivate moves a suspended pool back to active, only if it still has
// remaining budget; otherwise it is left suspended/exhausted.
func (m *Manager) Reactivate(ctx context.Context, poolID string) error {
	return m.withRetry(ctx, poolID, func(pool *model.BudgetPool) error {
		if pool.RemainingBudget > 0 {
			pool.Status = model.PoolActive
		}
		return nil
	})
}

// GetChildren returns the direct children of poolId.
func (m *Manager) GetChildren(ctx context.Context, poolID string) ([]*model.BudgetPool, error) {
	children, err := m.store.ListChildren(ctx, poolID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindStoreError, err, "list children of %s", poolID)
	}
	return children, nil
}

// withRetry loads poolId, applies mutate, and writes it back under
// optimistic concurrency control, retrying on version conflict.
func (m *Manager) withRetry(ctx context.Context, poolID string, mutate func(*model.BudgetPool) error) error {
	var lastErr error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		pool, err := m.store.GetPool(ctx, poolID)
		if err != nil {
			return coreerr.Wrap(coreerr.KindPoolNotFound, err, "pool %s", poolID)
		}

		expectedVersion := pool.Version
		if err := mutate(pool); err != nil {
			return err
		}
		pool.Version = expectedVersion + 1

		err = m.store.UpdatePool(ctx, pool, expectedVersion)
		if err == nil {
			return nil
		}
		if !coreerr.Is(err, coreerr.KindVersionConflict) {
			return coreerr.Wrap(coreerr.KindStoreError, err, "update pool %s", poolID)
		}
		lastErr = err
	}
	return coreerr.Wrap(coreerr.KindVersionConflict, lastErr, "pool %s: exceeded %d retries", poolID, maxVersionRetries)
}
