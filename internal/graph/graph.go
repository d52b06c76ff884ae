// Package graph implements the graph executor (component C5): per-node
// dispatch, group traversal with entry/exit sentinels, edge projection,
// cycle/dangling-edge detection, and per-node state persistence.
package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflowcore/common/logger"
	"github.com/lyzr/workflowcore/common/metrics"
	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/llmexec"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/transform"
)

// Store is the subset of the store contract the graph executor needs.
type Store interface {
	SaveNodeState(ctx context.Context, sessionID, qualifiedNodeID string, state *model.NodeState) error
	GetWorkflow(ctx context.Context, workflowID string) (*model.StoredWorkflow, error)
	CreateApproval(ctx context.Context, approval *model.ApprovalRequest) error
	UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error
}

// LLMRunner is the LLM executor collaborator (component C4).
type LLMRunner interface {
	Execute(ctx context.Context, input interface{}, opts llmexec.Options) llmexec.Result
}

// BudgetChecker is the budget manager collaborator (component C2), reduced
// to the single operation the graph executor drives directly.
type BudgetChecker interface {
	Consume(ctx context.Context, poolID string, amount int64) error
}

// RunOptions carries the settings a CallWorkflow node passes to a nested
// run, inheriting the current budget pool unless overridden.
type RunOptions struct {
	BudgetPoolID string
}

// RunResult is a nested run's outcome, as reported by WorkflowRunner.
type RunResult struct {
	SessionID string
	Output    interface{}
}

// WorkflowRunner is the run controller collaborator (component C6),
// invoked recursively by CallWorkflow nodes. Declared here (rather than
// imported from internal/runctl) so the two packages don't import each
// other; internal/runctl's controller satisfies this interface.
type WorkflowRunner interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, input interface{}, opts RunOptions) (RunResult, error)
}

// Executor runs one workflow definition's node tree against one input.
type Executor struct {
	store         Store
	llm           LLMRunner
	budget        BudgetChecker
	toolCallStore llmexec.ToolCallStore
	conditions    *conditionEvaluator
	defaultModel  string
	now           func() time.Time
	log           *logger.Logger
}

// New creates an Executor. defaultModel is used for every LLM node, since
// the data model does not carry a per-node model override.
func New(store Store, llm LLMRunner, budget BudgetChecker, toolCallStore llmexec.ToolCallStore, defaultModel string, log *logger.Logger) *Executor {
	return &Executor{
		store:         store,
		llm:           llm,
		budget:        budget,
		toolCallStore: toolCallStore,
		conditions:    newConditionEvaluator(),
		defaultModel:  defaultModel,
		now:           time.Now,
		log:           log,
	}
}

// execContext threads per-run, per-traversal state through recursive
// group/node execution without widening every method's signature.
type execContext struct {
	sessionID      string
	budgetPoolID   string
	groupContext   map[string]interface{}
	workflowRunner WorkflowRunner
	resume         *resumeState
}

// resumeState drives a replayed traversal after a suspension is resolved:
// nodes with a persisted completed state are returned from their saved
// output rather than re-dispatched, and the single node matching targetID
// is re-entered past its approval gate with the resolved decision.
type resumeState struct {
	completed map[string]*model.NodeState
	targetID  string
	approved  bool
	reason    string
}

// ExecuteRoot executes a workflow's root group node against input, under
// the given session and (optional) budget pool. runner is used by any
// CallWorkflow node encountered; it may be nil if the workflow has none.
func (e *Executor) ExecuteRoot(ctx context.Context, root *model.Node, sessionID, budgetPoolID string, input interface{}, runner WorkflowRunner) (interface{}, error) {
	if root.Kind != model.NodeKindGroup {
		return nil, coreerr.New(coreerr.KindUnknownNodeType, "root node must be a group, got %q", root.Kind)
	}
	ec := &execContext{
		sessionID:      sessionID,
		budgetPoolID:   budgetPoolID,
		groupContext:   root.Context,
		workflowRunner: runner,
	}
	return e.executeGroup(ctx, root, "", input, ec)
}

// ResumeRoot re-executes a suspended run from its root group. Nodes whose
// qualified id already has a completed NodeState in execState are replayed
// from their persisted output instead of re-dispatched; the node matching
// targetQualifiedID (the one ExecutionState.currentNodeId points at) is
// re-entered past its approval gate with the resolved decision.
func (e *Executor) ResumeRoot(ctx context.Context, root *model.Node, sessionID, budgetPoolID string, originalInput interface{}, execState *model.ExecutionState, targetQualifiedID string, approved bool, resolutionNotes string, runner WorkflowRunner) (interface{}, error) {
	if root.Kind != model.NodeKindGroup {
		return nil, coreerr.New(coreerr.KindUnknownNodeType, "root node must be a group, got %q", root.Kind)
	}
	ec := &execContext{
		sessionID:      sessionID,
		budgetPoolID:   budgetPoolID,
		groupContext:   root.Context,
		workflowRunner: runner,
		resume: &resumeState{
			completed: execState.NodeStates,
			targetID:  targetQualifiedID,
			approved:  approved,
			reason:    resolutionNotes,
		},
	}
	return e.executeGroup(ctx, root, "", originalInput, ec)
}

// executeGroup implements the group traversal algorithm: walk from
// entryPoint to exitPoint, executing each real node in turn and
// selecting the outgoing edge to follow from its (possibly conditional)
// declared edges.
func (e *Executor) executeGroup(ctx context.Context, group *model.Node, qualifier string, input interface{}, ec *execContext) (interface{}, error) {
	groupCtx := ec.groupContext
	if group.Context != nil {
		groupCtx = group.Context
	}
	childEC := &execContext{
		sessionID:      ec.sessionID,
		budgetPoolID:   ec.budgetPoolID,
		groupContext:   groupCtx,
		workflowRunner: ec.workflowRunner,
		resume:         ec.resume,
	}

	entry, exit := group.EntryPoint, group.ExitPoint
	visited := make(map[string]bool)

	currentNodeID := entry
	currentInput := input

	for {
		if currentNodeID == exit {
			return currentInput, nil
		}

		if currentNodeID != entry {
			if visited[currentNodeID] {
				return nil, coreerr.New(coreerr.KindCycleDetected, "node %q revisited in group %q", currentNodeID, qualifier)
			}
			visited[currentNodeID] = true
		}

		var nodeOutput interface{}
		if node, ok := group.Nodes[currentNodeID]; ok {
			qualifiedID := qualify(qualifier, currentNodeID)
			out, err := e.executeNode(ctx, node, qualifiedID, currentInput, childEC)
			if err != nil {
				return nil, err
			}
			nodeOutput = out
		} else {
			// The entry sentinel's "virtual" output is the group's input.
			nodeOutput = currentInput
		}

		edge, err := e.selectEdge(group, currentNodeID, nodeOutput, groupCtx)
		if err != nil {
			return nil, err
		}
		if edge == nil {
			return nil, coreerr.New(coreerr.KindDanglingNode, "no outgoing edge from %q in group %q", currentNodeID, qualifier)
		}

		currentInput = projectOutput(nodeOutput, edge.PreviousNodeMessageOutputFieldName)
		currentNodeID = edge.To
	}
}

// selectEdge finds the first edge leaving fromID whose condition matches
// (or that has no condition), in declaration order.
func (e *Executor) selectEdge(group *model.Node, fromID string, output interface{}, groupContext map[string]interface{}) (*model.Edge, error) {
	for i := range group.Edges {
		edge := &group.Edges[i]
		if edge.From != fromID {
			continue
		}
		if edge.Condition == "" {
			return edge, nil
		}
		matched, err := e.conditions.evaluate(edge.Condition, output, groupContext)
		if err != nil {
			return nil, err
		}
		if matched {
			return edge, nil
		}
	}
	return nil, nil
}

// projectOutput applies an edge's previousNodeMessageOutputFieldName
// projection, passing the whole output through when absent or when the
// output is not a record.
func projectOutput(output interface{}, field string) interface{} {
	if field == "" {
		return output
	}
	rec, ok := output.(map[string]interface{})
	if !ok {
		return output
	}
	v, ok := rec[field]
	if !ok {
		return output
	}
	return v
}

func qualify(qualifier, localID string) string {
	if qualifier == "" {
		return localID
	}
	return qualifier + "." + localID
}

// executeNode runs the per-node protocol: write running state, dispatch,
// then write completed/failed state. Approval suspensions are not
// failures: the dispatcher has already persisted the waiting state.
func (e *Executor) executeNode(ctx context.Context, node *model.Node, qualifiedID string, input interface{}, ec *execContext) (interface{}, error) {
	if ec.resume != nil && qualifiedID != ec.resume.targetID {
		if prior, ok := ec.resume.completed[qualifiedID]; ok && prior.Status == model.NodeCompleted {
			return prior.Output, nil
		}
	}

	startedAt := e.now()
	state := &model.NodeState{
		NodeID:     qualifiedID,
		Status:     model.NodeRunning,
		Input:      input,
		StartedAt:  &startedAt,
		RetryCount: 0,
	}
	if err := e.store.SaveNodeState(ctx, ec.sessionID, qualifiedID, state); err != nil {
		return nil, coreerr.Wrap(coreerr.KindStoreError, err, "save running state for %q", qualifiedID)
	}

	runtimeMetrics := metrics.CaptureStart(ctx)

	var output interface{}
	var err error
	if ec.resume != nil && qualifiedID == ec.resume.targetID {
		output, err = e.resumeDispatch(ctx, node, qualifiedID, input, ec, state)
	} else {
		output, err = e.dispatch(ctx, node, qualifiedID, input, ec, state)
	}
	runtimeMetrics.Finalize(ctx)
	if state.Metadata == nil {
		state.Metadata = map[string]interface{}{}
	}
	state.Metadata["runtime"] = runtimeMetrics.ToMap()
	if err != nil {
		if _, suspended := coreerr.AsSuspended(err); suspended {
			return nil, err
		}
		completedAt := e.now()
		state.Status = model.NodeFailed
		state.Error = err.Error()
		state.CompletedAt = &completedAt
		if saveErr := e.store.SaveNodeState(ctx, ec.sessionID, qualifiedID, state); saveErr != nil && e.log != nil {
			e.log.Warn("failed to persist node failure state", "node_id", qualifiedID, "error", saveErr)
		}
		return nil, err
	}

	completedAt := e.now()
	state.Status = model.NodeCompleted
	state.Output = output
	state.CompletedAt = &completedAt
	if err := e.store.SaveNodeState(ctx, ec.sessionID, qualifiedID, state); err != nil {
		return nil, coreerr.Wrap(coreerr.KindStoreError, err, "save completed state for %q", qualifiedID)
	}
	return output, nil
}

func (e *Executor) dispatch(ctx context.Context, node *model.Node, qualifiedID string, input interface{}, ec *execContext, state *model.NodeState) (interface{}, error) {
	switch node.Kind {
	case model.NodeKindGroup:
		return e.executeGroup(ctx, node, qualifiedID, input, ec)
	case model.NodeKindTransform:
		return transform.Eval(node.Fn, input, nil)
	case model.NodeKindLLM:
		return e.executeLLM(ctx, node, qualifiedID, input, ec, state)
	case model.NodeKindCallWorkflow:
		return e.executeCallWorkflow(ctx, node, qualifiedID, input, ec, state)
	case model.NodeKindStream, model.NodeKindGenerator:
		return nil, coreerr.New(coreerr.KindUnimplemented, "node kind %q is not implemented", node.Kind)
	default:
		return nil, coreerr.New(coreerr.KindUnknownNodeType, "unknown node kind %q", node.Kind)
	}
}

// resumeDispatch re-enters the single node whose suspension is being
// resolved, skipping the approval gate that fired the first time and
// acting on the resolved decision instead.
func (e *Executor) resumeDispatch(ctx context.Context, node *model.Node, qualifiedID string, input interface{}, ec *execContext, state *model.NodeState) (interface{}, error) {
	if !ec.resume.approved {
		switch node.Kind {
		case model.NodeKindLLM:
			return nil, coreerr.New(coreerr.KindReviewRejected, "human review rejected for %q: %s", qualifiedID, ec.resume.reason)
		case model.NodeKindCallWorkflow:
			return nil, coreerr.New(coreerr.KindReviewRejected, "workflow call rejected for %q: %s", qualifiedID, ec.resume.reason)
		default:
			return nil, coreerr.New(coreerr.KindNotApproved, "approval rejected for %q: %s", qualifiedID, ec.resume.reason)
		}
	}

	switch node.Kind {
	case model.NodeKindLLM:
		return e.runLLM(ctx, node, qualifiedID, input, ec, state)
	case model.NodeKindCallWorkflow:
		return e.runCallWorkflow(ctx, node, qualifiedID, input, ec, state)
	default:
		return nil, coreerr.New(coreerr.KindUnknownNodeType, "node kind %q cannot be resumed", node.Kind)
	}
}

// executeLLM runs the LLM node: the human-review gate suspends before
// ever invoking the provider, so a reviewed node's waiting approval
// carries the node's input (not a generated output) in context.llmOutput.
func (e *Executor) executeLLM(ctx context.Context, node *model.Node, qualifiedID string, input interface{}, ec *execContext, state *model.NodeState) (interface{}, error) {
	if node.RequiresHumanReview {
		approvalID, err := e.emitApproval(ctx, ec, qualifiedID, model.ApprovalHumanReview,
			map[string]interface{}{"llmOutput": input}, state, model.NodeWaitingReview)
		if err != nil {
			return nil, err
		}
		return nil, coreerr.Suspended(approvalID)
	}
	return e.runLLM(ctx, node, qualifiedID, input, ec, state)
}

// runLLM invokes the provider and consumes budget; called directly once a
// human-review gate (if any) has already cleared, whether on first pass or
// on resume after approval.
func (e *Executor) runLLM(ctx context.Context, node *model.Node, qualifiedID string, input interface{}, ec *execContext, state *model.NodeState) (interface{}, error) {
	result := e.llm.Execute(ctx, input, llmexec.Options{
		Model:      e.defaultModel,
		System:     node.SystemPrompt,
		Tools:      node.AvailableTools,
		MaxRetries: node.MaxRetries,
		Storage:    e.toolCallStore,
		SessionID:  ec.sessionID,
		NodeID:     qualifiedID,
	})
	if !result.Success {
		return nil, coreerr.New(coreerr.KindLLMProviderError, "%s", result.Error)
	}

	if ec.budgetPoolID != "" && result.Usage != nil {
		if consumeErr := e.budget.Consume(ctx, ec.budgetPoolID, result.Usage.TotalTokens); consumeErr != nil {
			if coreerr.Is(consumeErr, coreerr.KindBudgetExhausted) && autoRequestBudgetIncrease(ec.groupContext) {
				approvalID, err := e.emitApproval(ctx, ec, qualifiedID, model.ApprovalBudgetIncrease,
					map[string]interface{}{
						"requestedBudget": result.Usage.TotalTokens,
						"currentUsage":    result.Usage.TotalTokens,
					}, state, model.NodeWaitingApproval)
				if err != nil {
					return nil, err
				}
				return nil, coreerr.Suspended(approvalID)
			}
			return nil, consumeErr
		}
	}

	return llmOutputValue(result), nil
}

func llmOutputValue(result llmexec.Result) map[string]interface{} {
	out := map[string]interface{}{"text": result.Text}
	if len(result.ToolCalls) > 0 {
		out["toolCalls"] = result.ToolCalls
	}
	if result.Usage != nil {
		out["usage"] = result.Usage
	}
	return out
}

func autoRequestBudgetIncrease(groupContext map[string]interface{}) bool {
	if groupContext == nil {
		return false
	}
	v, ok := groupContext["autoRequestBudgetIncrease"].(bool)
	return ok && v
}

// executeCallWorkflow resolves workflowRef, optionally gates on approval,
// and recursively invokes the run controller via ec.workflowRunner.
func (e *Executor) executeCallWorkflow(ctx context.Context, node *model.Node, qualifiedID string, input interface{}, ec *execContext, state *model.NodeState) (interface{}, error) {
	if node.RequiresApproval {
		approvalID, err := e.emitApproval(ctx, ec, qualifiedID, model.ApprovalWorkflowCall,
			map[string]interface{}{"workflowRef": node.WorkflowRef}, state, model.NodeWaitingApproval)
		if err != nil {
			return nil, err
		}
		return nil, coreerr.Suspended(approvalID)
	}
	return e.runCallWorkflow(ctx, node, qualifiedID, input, ec, state)
}

// runCallWorkflow resolves workflowRef and recursively invokes the run
// controller; called directly once an approval gate (if any) has already
// cleared, whether on first pass or on resume after approval.
func (e *Executor) runCallWorkflow(ctx context.Context, node *model.Node, qualifiedID string, input interface{}, ec *execContext, state *model.NodeState) (interface{}, error) {
	if _, err := e.store.GetWorkflow(ctx, node.WorkflowRef); err != nil {
		return nil, coreerr.Wrap(coreerr.KindWorkflowNotFound, err, "workflow %q", node.WorkflowRef)
	}

	mappedInput := input
	if node.InputMapping != nil {
		out, err := transform.Eval(node.InputMapping, input, nil)
		if err != nil {
			return nil, err
		}
		mappedInput = out
	}

	if ec.workflowRunner == nil {
		return nil, coreerr.New(coreerr.KindStoreError, "no workflow runner available for call to %q", node.WorkflowRef)
	}

	result, err := ec.workflowRunner.ExecuteWorkflow(ctx, node.WorkflowRef, mappedInput, RunOptions{BudgetPoolID: ec.budgetPoolID})
	if err != nil {
		return nil, err
	}

	if node.OutputMapping != nil {
		return transform.Eval(node.OutputMapping, result.Output, nil)
	}
	return result.Output, nil
}

// emitApproval writes an ApprovalRequest, updates the enclosing session's
// status, and marks the node's state as waiting, per the suspension
// protocol (not a failure: the caller returns coreerr.Suspended).
func (e *Executor) emitApproval(ctx context.Context, ec *execContext, qualifiedID string, kind model.ApprovalType, approvalContext map[string]interface{}, state *model.NodeState, nodeStatus model.NodeRunStatus) (string, error) {
	approvalID := uuid.NewString()
	approval := &model.ApprovalRequest{
		ID:        approvalID,
		SessionID: ec.sessionID,
		NodeID:    qualifiedID,
		Type:      kind,
		Status:    model.ApprovalPending,
		Context:   approvalContext,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateApproval(ctx, approval); err != nil {
		return "", coreerr.Wrap(coreerr.KindStoreError, err, "create %s approval for %q", kind, qualifiedID)
	}
	if err := e.store.UpdateSessionStatus(ctx, ec.sessionID, sessionStatusFor(kind)); err != nil {
		return "", coreerr.Wrap(coreerr.KindStoreError, err, "update session status for %q", ec.sessionID)
	}

	state.Status = nodeStatus
	state.PendingApprovalID = approvalID
	if err := e.store.SaveNodeState(ctx, ec.sessionID, qualifiedID, state); err != nil {
		return "", coreerr.Wrap(coreerr.KindStoreError, err, "save waiting state for %q", qualifiedID)
	}
	return approvalID, nil
}

func sessionStatusFor(kind model.ApprovalType) model.SessionStatus {
	switch kind {
	case model.ApprovalHumanReview:
		return model.SessionWaitingHumanReview
	case model.ApprovalBudgetIncrease:
		return model.SessionWaitingBudgetApproval
	case model.ApprovalWorkflowCall:
		return model.SessionWaitingWorkflowApproval
	default:
		return model.SessionPaused
	}
}
