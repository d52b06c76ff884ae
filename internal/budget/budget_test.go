package budget_test

import (
	"context"
	"sync"
	"testing"

	"github.com/lyzr/workflowcore/internal/budget"
	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal in-memory budget.Store for unit tests.
type fakeStore struct {
	mu    sync.Mutex
	pools map[string]*model.BudgetPool
}

func newFakeStore() *fakeStore {
	return &fakeStore{pools: make(map[string]*model.BudgetPool)}
}

func (s *fakeStore) GetPool(ctx context.Context, id string) (*model.BudgetPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, coreerr.New(coreerr.KindPoolNotFound, "pool %s", id)
	}
	clone := *p
	return &clone, nil
}

func (s *fakeStore) CreatePool(ctx context.Context, pool *model.BudgetPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *pool
	s.pools[pool.ID] = &clone
	return nil
}

func (s *fakeStore) UpdatePool(ctx context.Context, pool *model.BudgetPool, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.pools[pool.ID]
	if !ok {
		return coreerr.New(coreerr.KindPoolNotFound, "pool %s", pool.ID)
	}
	if existing.Version != expectedVersion {
		return coreerr.New(coreerr.KindVersionConflict, "pool %s", pool.ID)
	}
	clone := *pool
	s.pools[pool.ID] = &clone
	return nil
}

func (s *fakeStore) ListChildren(ctx context.Context, parentID string) ([]*model.BudgetPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.BudgetPool
	for _, p := range s.pools {
		if p.ParentPoolID == parentID {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, nil
}

func TestConsumeAndPropagationScenarioC(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr := budget.New(store)

	_, err := mgr.Create(ctx, "parent", 100, "", nil)
	require.NoError(t, err)
	_, err = mgr.Create(ctx, "child", 50, "parent", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Consume(ctx, "child", 30))

	child, err := store.GetPool(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, int64(20), child.RemainingBudget)

	parent, err := store.GetPool(ctx, "parent")
	require.NoError(t, err)
	assert.Equal(t, int64(70), parent.RemainingBudget)

	err = mgr.Consume(ctx, "child", 25)
	require.Error(t, err)
	assert.Equal(t, coreerr.KindBudgetExhausted, coreerr.KindOf(err))

	childAfter, err := store.GetPool(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, int64(20), childAfter.RemainingBudget)

	parentAfter, err := store.GetPool(ctx, "parent")
	require.NoError(t, err)
	assert.Equal(t, int64(70), parentAfter.RemainingBudget)
}

func TestInvariantUsedPlusRemainingEqualsTotal(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr := budget.New(store)

	_, err := mgr.Create(ctx, "p", 100, "", nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Consume(ctx, "p", 40))

	p, err := store.GetPool(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, p.TotalBudget, p.UsedBudget+p.RemainingBudget)
}

func TestExhaustedStatusSetWhenRemainingNonPositive(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr := budget.New(store)

	_, err := mgr.Create(ctx, "p", 10, "", nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Consume(ctx, "p", 10))

	p, err := store.GetPool(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, model.PoolExhausted, p.Status)
}

func TestIncreaseReactivatesExhaustedPool(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr := budget.New(store)

	_, err := mgr.Create(ctx, "p", 10, "", nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Consume(ctx, "p", 10))
	require.NoError(t, mgr.Increase(ctx, "p", 10))

	p, err := store.GetPool(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, model.PoolActive, p.Status)
	assert.Equal(t, int64(10), p.RemainingBudget)
}

func TestReactivateOnlyWhenRemainingPositive(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr := budget.New(store)

	_, err := mgr.Create(ctx, "p", 10, "", nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Consume(ctx, "p", 10))
	require.NoError(t, mgr.Suspend(ctx, "p"))
	require.NoError(t, mgr.Reactivate(ctx, "p"))

	p, err := store.GetPool(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, model.PoolSuspended, p.Status)
}

func TestCreateRejectsParentCycle(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr := budget.New(store)

	_, err := mgr.Create(ctx, "a", 10, "", nil)
	require.NoError(t, err)
	_, err = mgr.Create(ctx, "b", 10, "a", nil)
	require.NoError(t, err)

	_, err = mgr.Create(ctx, "c", 10, "b", nil)
	require.NoError(t, err) // c -> b -> a, no cycle yet

	// Re-creating "a" under "c" would close the loop a -> c -> b -> a.
	_, err = mgr.Create(ctx, "a", 10, "c", nil)
	require.Error(t, err)
	assert.Equal(t, coreerr.KindInvalidDefinition, coreerr.KindOf(err))
}
