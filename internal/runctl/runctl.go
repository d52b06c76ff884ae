// Package runctl implements the run controller (component C6): session
// and execution-state lifecycle around the graph executor, recursive
// CallWorkflow delegation, and resuming a suspended run once its approval
// is resolved.
package runctl

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/workflowcore/common/logger"
	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/graph"
	"github.com/lyzr/workflowcore/internal/model"
)

// rootInputKey stashes a run's top-level input in ExecutionState.Metadata
// so a later Resume can replay the root group from its entry point.
const rootInputKey = "rootInput"

// Store is the subset of the store contract the run controller needs to
// drive a session's lifecycle end to end.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*model.StoredWorkflow, error)
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error
	SaveExecutionState(ctx context.Context, state *model.ExecutionState) error
	GetExecutionState(ctx context.Context, sessionID string) (*model.ExecutionState, error)
	GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error)
	ApproveRequest(ctx context.Context, id, approvedBy, notes string) (*model.ApprovalRequest, error)
	RejectRequest(ctx context.Context, id, rejectedBy, reason string) (*model.ApprovalRequest, error)
}

// Executor is the graph executor collaborator (component C5).
type Executor interface {
	ExecuteRoot(ctx context.Context, root *model.Node, sessionID, budgetPoolID string, input interface{}, runner graph.WorkflowRunner) (interface{}, error)
	ResumeRoot(ctx context.Context, root *model.Node, sessionID, budgetPoolID string, originalInput interface{}, execState *model.ExecutionState, targetQualifiedID string, approved bool, resolutionNotes string, runner graph.WorkflowRunner) (interface{}, error)
}

// Notifier fans approval lifecycle events out to an external stream so a
// reviewer-facing surface can react without polling ListPendingApprovals.
// *common/redis.Client already satisfies this via AddToStream; it is
// optional and nil when no Redis is configured.
type Notifier interface {
	AddToStream(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// approvalsStream is the Redis stream name Notifier events are published
// to, matching the teacher's "ir:<runId>"-style fixed key convention.
const approvalsStream = "workflowcore:approvals"

// Opts configures a Controller.
type Opts struct {
	Store    Store
	Exec     Executor
	Logger   *logger.Logger
	Notifier Notifier
}

// Controller is the run controller. It owns session/execution-state
// bookkeeping around the graph executor and satisfies graph.WorkflowRunner
// so CallWorkflow nodes can recurse back into it.
type Controller struct {
	store    Store
	exec     Executor
	now      func() time.Time
	log      *logger.Logger
	notifier Notifier
}

func New(opts Opts) *Controller {
	return &Controller{store: opts.Store, exec: opts.Exec, now: time.Now, log: opts.Logger, notifier: opts.Notifier}
}

// notify publishes an approval lifecycle event if a notifier is
// configured; failures are logged, not surfaced, since the stream is a
// convenience for external consumers and must never block a run.
func (c *Controller) notify(ctx context.Context, event, sessionID, approvalID string) {
	if c.notifier == nil {
		return
	}
	_, err := c.notifier.AddToStream(ctx, approvalsStream, map[string]interface{}{
		"event":      event,
		"sessionId":  sessionID,
		"approvalId": approvalID,
	})
	if err != nil && c.log != nil {
		c.log.Warn("failed to publish approval event", "event", event, "session_id", sessionID, "error", err)
	}
}

// Outcome is what StartRun/Resume report: a completed run's output, a
// paused run awaiting an approval, or a failed run. Suspension is
// reported explicitly rather than as a Go error, since it isn't one.
type Outcome struct {
	SessionID  string
	Output     interface{}
	Success    bool
	Suspended  bool
	ApprovalID string
}

// StartRun is the public entrypoint for a fresh top-level workflow run.
// A non-nil error with Outcome.SessionID empty means the workflow itself
// could not be found or a session could not be created; callers should
// treat that as a request error. Once a session exists, every other
// failure is reported as Outcome{Success: false}, not a Go error.
func (c *Controller) StartRun(ctx context.Context, workflowID string, input interface{}, opts graph.RunOptions) (Outcome, error) {
	result, err := c.ExecuteWorkflow(ctx, workflowID, input, opts)
	if result.SessionID == "" && err != nil {
		return Outcome{}, err
	}
	return c.toOutcome(result, err), nil
}

// ExecuteWorkflow satisfies graph.WorkflowRunner: it creates a fresh
// session and execution state for workflowID and runs the graph executor
// against input. A CallWorkflow node invokes this recursively, spawning
// one nested session per call.
func (c *Controller) ExecuteWorkflow(ctx context.Context, workflowID string, input interface{}, opts graph.RunOptions) (graph.RunResult, error) {
	wf, err := c.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return graph.RunResult{}, coreerr.Wrap(coreerr.KindWorkflowNotFound, err, "workflow %q", workflowID)
	}

	sessionID := uuid.NewString()
	now := c.now()
	session := &model.Session{
		ID:               sessionID,
		WorkflowID:       workflowID,
		WorkflowSnapshot: wf.Definition,
		Status:           model.SessionRunning,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := c.store.CreateSession(ctx, session); err != nil {
		return graph.RunResult{}, coreerr.Wrap(coreerr.KindStoreError, err, "create session for workflow %q", workflowID)
	}

	execState := &model.ExecutionState{
		SessionID:    sessionID,
		BudgetPoolID: opts.BudgetPoolID,
		StartedAt:    now,
		Status:       model.ExecRunning,
		NodeStates:   map[string]*model.NodeState{},
		Metadata:     map[string]interface{}{rootInputKey: input},
	}
	if err := c.store.SaveExecutionState(ctx, execState); err != nil {
		c.setSessionStatus(ctx, sessionID, model.SessionFailed)
		return graph.RunResult{SessionID: sessionID}, coreerr.Wrap(coreerr.KindStoreError, err, "initialize execution state for session %s", sessionID)
	}

	output, err := c.exec.ExecuteRoot(ctx, wf.Definition, sessionID, opts.BudgetPoolID, input, c)
	return c.finalize(ctx, sessionID, output, err)
}

// Resume resolves a pending approval and replays the suspended run from
// its root group. Nodes with a persisted completed state return their
// saved output instead of re-running; the single node the approval was
// blocking is re-entered with the decision, proceeding if approved and
// failing if rejected.
func (c *Controller) Resume(ctx context.Context, approvalID string, approved bool, resolvedBy, notes string) (Outcome, error) {
	approval, err := c.store.GetApproval(ctx, approvalID)
	if err != nil {
		return Outcome{}, coreerr.Wrap(coreerr.KindApprovalNotFound, err, "approval %q", approvalID)
	}

	if approved {
		if _, err := c.store.ApproveRequest(ctx, approvalID, resolvedBy, notes); err != nil {
			return Outcome{}, coreerr.Wrap(coreerr.KindStoreError, err, "approve %q", approvalID)
		}
		c.notify(ctx, "approved", approval.SessionID, approvalID)
	} else {
		if _, err := c.store.RejectRequest(ctx, approvalID, resolvedBy, notes); err != nil {
			return Outcome{}, coreerr.Wrap(coreerr.KindStoreError, err, "reject %q", approvalID)
		}
		c.notify(ctx, "rejected", approval.SessionID, approvalID)
	}

	sessionID := approval.SessionID
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, coreerr.Wrap(coreerr.KindSessionNotFound, err, "session %q", sessionID)
	}
	execState, err := c.store.GetExecutionState(ctx, sessionID)
	if err != nil {
		return Outcome{}, coreerr.Wrap(coreerr.KindStoreError, err, "load execution state for session %q", sessionID)
	}

	rootInput := execState.Metadata[rootInputKey]

	output, err := c.exec.ResumeRoot(ctx, session.WorkflowSnapshot, sessionID, execState.BudgetPoolID, rootInput, execState, approval.NodeID, approved, notes, c)
	result, err := c.finalize(ctx, sessionID, output, err)
	return c.toOutcome(result, err), nil
}

// finalize marks the session and its execution state completed or failed
// and returns a graph.RunResult carrying whatever error occurred,
// including a Suspended signal, which the graph executor has already
// persisted as a waiting session/node state — finalize leaves that
// status alone.
func (c *Controller) finalize(ctx context.Context, sessionID string, output interface{}, err error) (graph.RunResult, error) {
	finishExec := func(status model.ExecutionStatus) {
		es, getErr := c.store.GetExecutionState(ctx, sessionID)
		if getErr != nil {
			return
		}
		completedAt := c.now()
		es.Status, es.CompletedAt = status, &completedAt
		if saveErr := c.store.SaveExecutionState(ctx, es); saveErr != nil && c.log != nil {
			c.log.Warn("failed to finalize execution state", "session_id", sessionID, "error", saveErr)
		}
	}
	if err == nil {
		c.setSessionStatus(ctx, sessionID, model.SessionCompleted)
		finishExec(model.ExecCompleted)
		return graph.RunResult{SessionID: sessionID, Output: output}, nil
	}
	if approvalID, suspended := coreerr.AsSuspended(err); suspended {
		c.notify(ctx, "suspended", sessionID, approvalID)
		return graph.RunResult{SessionID: sessionID}, err
	}
	c.setSessionStatus(ctx, sessionID, model.SessionFailed)
	finishExec(model.ExecFailed)
	return graph.RunResult{SessionID: sessionID}, err
}

func (c *Controller) setSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) {
	if err := c.store.UpdateSessionStatus(ctx, sessionID, status); err != nil && c.log != nil {
		c.log.Warn("failed to finalize session status", "session_id", sessionID, "status", string(status), "error", err)
	}
}

func (c *Controller) toOutcome(result graph.RunResult, err error) Outcome {
	if err == nil {
		return Outcome{SessionID: result.SessionID, Output: result.Output, Success: true}
	}
	if approvalID, suspended := coreerr.AsSuspended(err); suspended {
		return Outcome{SessionID: result.SessionID, Suspended: true, ApprovalID: approvalID}
	}
	return Outcome{SessionID: result.SessionID, Success: false}
}
