package runctl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/graph"
	"github.com/lyzr/workflowcore/internal/llmexec"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/runctl"
	"github.com/lyzr/workflowcore/internal/store"
	"github.com/lyzr/workflowcore/internal/store/memstore"
)

type fakeLLM struct {
	result llmexec.Result
}

func (l *fakeLLM) Execute(ctx context.Context, input interface{}, opts llmexec.Options) llmexec.Result {
	return l.result
}

type fakeBudget struct {
	err error
}

func (b *fakeBudget) Consume(ctx context.Context, poolID string, amount int64) error {
	return b.err
}

func newController(t *testing.T, llm graph.LLMRunner, budget graph.BudgetChecker) (*runctl.Controller, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	exec := graph.New(st, llm, budget, st, "test-model", nil)
	return runctl.New(runctl.Opts{Store: st, Exec: exec}), st
}

func saveWorkflow(t *testing.T, st *memstore.Store, id string, root *model.Node) {
	t.Helper()
	require.NoError(t, st.SaveWorkflow(context.Background(), &model.StoredWorkflow{ID: id, Name: id, Version: 1, Definition: root}))
}

// transformGroup builds a single-node group: entry -> t1(get "who") -> exit.
func transformGroup() *model.Node {
	return &model.Node{
		Kind:       model.NodeKindGroup,
		EntryPoint: "entry",
		ExitPoint:  "exit",
		Nodes: map[string]*model.Node{
			"t1": {
				Kind: model.NodeKindTransform,
				Fn: &model.TransformExpr{Kind: model.ExprObject, Fields: map[string]*model.TransformExpr{
					"greeting": {Kind: model.ExprConst, Value: "hi"},
					"name":     {Kind: model.ExprGet, Path: []string{"who"}},
				}},
			},
		},
		Edges: []model.Edge{
			{From: "entry", To: "t1"},
			{From: "t1", To: "exit"},
		},
	}
}

func TestStartRunCompletesTransformWorkflow(t *testing.T) {
	ctrl, st := newController(t, &fakeLLM{}, &fakeBudget{})
	saveWorkflow(t, st, "wf-1", transformGroup())

	outcome, err := ctrl.StartRun(context.Background(), "wf-1", map[string]interface{}{"who": "Ada"}, graph.RunOptions{})
	require.NoError(t, err)
	require.True(t, outcome.Success)
	assert.False(t, outcome.Suspended)
	assert.Equal(t, map[string]interface{}{"greeting": "hi", "name": "Ada"}, outcome.Output)

	sess, err := st.GetSession(context.Background(), outcome.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, sess.Status)
}

func TestStartRunMissingWorkflowReturnsError(t *testing.T) {
	ctrl, _ := newController(t, &fakeLLM{}, &fakeBudget{})

	outcome, err := ctrl.StartRun(context.Background(), "nope", nil, graph.RunOptions{})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.KindWorkflowNotFound))
	assert.Empty(t, outcome.SessionID)
}

func cyclicGroup() *model.Node {
	return &model.Node{
		Kind:       model.NodeKindGroup,
		EntryPoint: "entry",
		ExitPoint:  "exit",
		Nodes: map[string]*model.Node{
			"a": {Kind: model.NodeKindTransform, Fn: &model.TransformExpr{Kind: model.ExprConst, Value: "x"}},
			"b": {Kind: model.NodeKindTransform, Fn: &model.TransformExpr{Kind: model.ExprConst, Value: "y"}},
		},
		Edges: []model.Edge{
			{From: "entry", To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}
}

func TestStartRunCycleFailsSessionWithoutFailingCompletedNode(t *testing.T) {
	ctrl, st := newController(t, &fakeLLM{}, &fakeBudget{})
	saveWorkflow(t, st, "wf-cycle", cyclicGroup())

	outcome, err := ctrl.StartRun(context.Background(), "wf-cycle", nil, graph.RunOptions{})
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	require.NotEmpty(t, outcome.SessionID)

	sess, err := st.GetSession(context.Background(), outcome.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionFailed, sess.Status)

	execState, err := st.GetExecutionState(context.Background(), outcome.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.NodeCompleted, execState.NodeStates["a"].Status)
	assert.Equal(t, model.NodeCompleted, execState.NodeStates["b"].Status)
}

// humanReviewGroup builds entry -> llm(requiresHumanReview) -> exit.
func humanReviewGroup() *model.Node {
	return &model.Node{
		Kind:       model.NodeKindGroup,
		EntryPoint: "entry",
		ExitPoint:  "exit",
		Nodes: map[string]*model.Node{
			"llm": {Kind: model.NodeKindLLM, RequiresHumanReview: true},
		},
		Edges: []model.Edge{
			{From: "entry", To: "llm"},
			{From: "llm", To: "exit"},
		},
	}
}

func TestStartRunSuspendsThenResumeApprovedCompletes(t *testing.T) {
	llm := &fakeLLM{result: llmexec.Result{Success: true, Text: "final answer"}}
	ctrl, st := newController(t, llm, &fakeBudget{})
	saveWorkflow(t, st, "wf-review", humanReviewGroup())

	outcome, err := ctrl.StartRun(context.Background(), "wf-review", "x", graph.RunOptions{})
	require.NoError(t, err)
	require.True(t, outcome.Suspended)
	require.NotEmpty(t, outcome.ApprovalID)

	sess, err := st.GetSession(context.Background(), outcome.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionWaitingHumanReview, sess.Status)

	approvals, err := st.ListPendingApprovals(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, "x", approvals[0].Context["llmOutput"])

	resumed, err := ctrl.Resume(context.Background(), outcome.ApprovalID, true, "reviewer-1", "looks good")
	require.NoError(t, err)
	require.True(t, resumed.Success)
	assert.Equal(t, map[string]interface{}{"text": "final answer"}, resumed.Output)

	approval, err := st.GetApproval(context.Background(), outcome.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, approval.Status)

	sess, err = st.GetSession(context.Background(), outcome.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, sess.Status)
}

func TestResumeRejectedFailsNodeWithReviewRejected(t *testing.T) {
	llm := &fakeLLM{result: llmexec.Result{Success: true, Text: "should not run"}}
	ctrl, st := newController(t, llm, &fakeBudget{})
	saveWorkflow(t, st, "wf-review", humanReviewGroup())

	outcome, err := ctrl.StartRun(context.Background(), "wf-review", "x", graph.RunOptions{})
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	resumed, err := ctrl.Resume(context.Background(), outcome.ApprovalID, false, "reviewer-1", "needs rework")
	require.NoError(t, err)
	assert.False(t, resumed.Success)

	sess, err := st.GetSession(context.Background(), outcome.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionFailed, sess.Status)

	execState, err := st.GetExecutionState(context.Background(), outcome.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.NodeFailed, execState.NodeStates["llm"].Status)
	assert.Contains(t, execState.NodeStates["llm"].Error, "ReviewRejected")
}

// echoInnerGroup echoes its raw input via a single get() transform.
func echoInnerGroup() *model.Node {
	return &model.Node{
		Kind:       model.NodeKindGroup,
		EntryPoint: "entry",
		ExitPoint:  "exit",
		Nodes: map[string]*model.Node{
			"echo": {Kind: model.NodeKindTransform, Fn: &model.TransformExpr{Kind: model.ExprGet}},
		},
		Edges: []model.Edge{
			{From: "entry", To: "echo"},
			{From: "echo", To: "exit"},
		},
	}
}

// outerCallWorkflowGroup calls wf-inner, mapping payload in and wrapping
// the result out.
func outerCallWorkflowGroup() *model.Node {
	return &model.Node{
		Kind:       model.NodeKindGroup,
		EntryPoint: "entry",
		ExitPoint:  "exit",
		Nodes: map[string]*model.Node{
			"call": {
				Kind:          model.NodeKindCallWorkflow,
				WorkflowRef:   "wf-inner",
				InputMapping:  &model.TransformExpr{Kind: model.ExprGet, Path: []string{"payload"}},
				OutputMapping: &model.TransformExpr{Kind: model.ExprObject, Fields: map[string]*model.TransformExpr{"wrapped": {Kind: model.ExprGet}}},
			},
		},
		Edges: []model.Edge{
			{From: "entry", To: "call"},
			{From: "call", To: "exit"},
		},
	}
}

func TestExecuteWorkflowNestedCallWorkflowMapsInputAndOutput(t *testing.T) {
	ctrl, st := newController(t, &fakeLLM{}, &fakeBudget{})
	saveWorkflow(t, st, "wf-inner", echoInnerGroup())
	saveWorkflow(t, st, "wf-outer", outerCallWorkflowGroup())

	outcome, err := ctrl.StartRun(context.Background(), "wf-outer", map[string]interface{}{"payload": float64(42)}, graph.RunOptions{})
	require.NoError(t, err)
	require.True(t, outcome.Success)
	assert.Equal(t, map[string]interface{}{"wrapped": float64(42)}, outcome.Output)
}
