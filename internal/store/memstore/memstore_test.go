package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/store"
	"github.com/lyzr/workflowcore/internal/store/memstore"
)

func TestSaveWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	wf := &model.StoredWorkflow{ID: "wf-1", Name: "greeter", Version: 1, Definition: &model.Node{Kind: model.NodeKindGroup}}
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, wf, got)
}

func TestGetWorkflowMissingReturnsWorkflowNotFound(t *testing.T) {
	s := memstore.New()
	_, err := s.GetWorkflow(context.Background(), "nope")
	assert.True(t, coreerr.Is(err, coreerr.KindWorkflowNotFound))
}

func TestSessionCreateAndStatusUpdate(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	sess := &model.Session{ID: "sess-1", WorkflowID: "wf-1", Status: model.SessionRunning}
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, s.UpdateSessionStatus(ctx, "sess-1", model.SessionCompleted))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, got.Status)
}

func TestUpdateSessionStatusMissingReturnsSessionNotFound(t *testing.T) {
	s := memstore.New()
	err := s.UpdateSessionStatus(context.Background(), "missing", model.SessionFailed)
	assert.True(t, coreerr.Is(err, coreerr.KindSessionNotFound))
}

func TestSaveNodeStateCreatesExecutionStateLazily(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	require.NoError(t, s.SaveNodeState(ctx, "sess-1", "root.t1", &model.NodeState{NodeID: "t1", Status: model.NodeCompleted}))

	es, err := s.GetExecutionState(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "root.t1", es.CurrentNodeID)
	require.Contains(t, es.NodeStates, "root.t1")
	assert.Equal(t, model.NodeCompleted, es.NodeStates["root.t1"].Status)
}

func TestDeleteSessionCascadesExecutionStateAndApprovals(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	require.NoError(t, s.CreateSession(ctx, &model.Session{ID: "sess-1"}))
	require.NoError(t, s.SaveNodeState(ctx, "sess-1", "root.t1", &model.NodeState{NodeID: "t1"}))
	require.NoError(t, s.CreateApproval(ctx, &model.ApprovalRequest{ID: "ap-1", SessionID: "sess-1", Status: model.ApprovalPending}))
	require.NoError(t, s.SaveLLMExecution(ctx, &model.LLMExecution{ID: "exec-1", SessionID: "sess-1"}))

	require.NoError(t, s.DeleteSession(ctx, "sess-1"))

	_, err := s.GetSession(ctx, "sess-1")
	assert.True(t, coreerr.Is(err, coreerr.KindSessionNotFound))

	_, err = s.GetExecutionState(ctx, "sess-1")
	assert.True(t, coreerr.Is(err, coreerr.KindSessionNotFound))

	_, err = s.GetApproval(ctx, "ap-1")
	assert.True(t, coreerr.Is(err, coreerr.KindApprovalNotFound))

	execs, err := s.GetLLMExecutionsBySession(ctx, "sess-1", store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestBudgetPoolCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	pool := &model.BudgetPool{ID: "pool-1", TotalBudget: 100, RemainingBudget: 100, Status: model.PoolActive, Version: 0}
	require.NoError(t, s.CreatePool(ctx, pool))

	got, err := s.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	got.UsedBudget = 10
	got.RemainingBudget = 90
	got.Version = 1
	require.NoError(t, s.UpdatePool(ctx, got, 0))

	// stale write with the old expected version must fail
	stale := &model.BudgetPool{ID: "pool-1", UsedBudget: 20, RemainingBudget: 80, Version: 2}
	err = s.UpdatePool(ctx, stale, 0)
	assert.True(t, coreerr.Is(err, coreerr.KindVersionConflict))
}

func TestListChildrenFiltersByParent(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	require.NoError(t, s.CreatePool(ctx, &model.BudgetPool{ID: "root", Status: model.PoolActive}))
	require.NoError(t, s.CreatePool(ctx, &model.BudgetPool{ID: "child-a", ParentPoolID: "root", Status: model.PoolActive}))
	require.NoError(t, s.CreatePool(ctx, &model.BudgetPool{ID: "child-b", ParentPoolID: "root", Status: model.PoolActive}))
	require.NoError(t, s.CreatePool(ctx, &model.BudgetPool{ID: "unrelated", Status: model.PoolActive}))

	children, err := s.ListChildren(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestLogToolCallAndGetByExecution(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	require.NoError(t, s.LogToolCall(ctx, model.ToolCallLog{ID: "tc-1", ExecutionID: "exec-1", ToolName: "search"}))
	require.NoError(t, s.LogToolCall(ctx, model.ToolCallLog{ID: "tc-2", ExecutionID: "exec-2", ToolName: "search"}))

	calls, err := s.GetToolCallsByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "tc-1", calls[0].ID)
}

func TestGetToolCallsBySessionJoinsThroughExecution(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	require.NoError(t, s.SaveLLMExecution(ctx, &model.LLMExecution{ID: "exec-1", SessionID: "sess-1"}))
	require.NoError(t, s.LogToolCall(ctx, model.ToolCallLog{ID: "tc-1", ExecutionID: "exec-1"}))
	require.NoError(t, s.LogToolCall(ctx, model.ToolCallLog{ID: "tc-2", ExecutionID: "exec-unrelated"}))

	calls, err := s.GetToolCallsBySession(ctx, "sess-1", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "tc-1", calls[0].ID)
}

func TestApproveRequestSetsResolvedFields(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	require.NoError(t, s.CreateApproval(ctx, &model.ApprovalRequest{ID: "ap-1", SessionID: "sess-1", Status: model.ApprovalPending}))

	resolved, err := s.ApproveRequest(ctx, "ap-1", "alice", "looks good")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, resolved.Status)
	assert.Equal(t, "alice", resolved.ResolvedBy)
	assert.Equal(t, "looks good", resolved.ResolutionNotes)
	require.NotNil(t, resolved.ResolvedAt)
	assert.WithinDuration(t, time.Now(), *resolved.ResolvedAt, time.Second)

	got, err := s.GetApproval(ctx, "ap-1")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, got.Status)
	require.NotNil(t, got.ResolvedAt)
}

func TestApproveRequestTwiceFails(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	require.NoError(t, s.CreateApproval(ctx, &model.ApprovalRequest{ID: "ap-1", Status: model.ApprovalPending}))
	_, err := s.ApproveRequest(ctx, "ap-1", "alice", "")
	require.NoError(t, err)

	_, err = s.ApproveRequest(ctx, "ap-1", "bob", "")
	assert.Error(t, err)
}

func TestListPendingApprovalsExcludesResolved(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	require.NoError(t, s.CreateApproval(ctx, &model.ApprovalRequest{ID: "ap-1", Status: model.ApprovalPending}))
	require.NoError(t, s.CreateApproval(ctx, &model.ApprovalRequest{ID: "ap-2", Status: model.ApprovalPending}))
	_, err := s.RejectRequest(ctx, "ap-2", "bob", "no")
	require.NoError(t, err)

	pending, err := s.ListPendingApprovals(ctx, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ap-1", pending[0].ID)
}

func TestListWorkflowsPaginates(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, s.SaveWorkflow(ctx, &model.StoredWorkflow{ID: id, Name: "wf-" + id}))
	}

	page, err := s.ListWorkflows(ctx, store.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestBeginTxCommitAndRollbackAreNoOps(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	assert.NoError(t, tx.Commit(ctx))

	tx2, err := s.BeginTx(ctx)
	require.NoError(t, err)
	assert.NoError(t, tx2.Rollback(ctx))
}
