// Package store defines the persistence contract consumed by the workflow
// core. internal/store/pgstore is the Postgres/pgx reference adapter;
// internal/store/memstore is an in-memory implementation for tests and
// library users who don't need durability.
package store

import (
	"context"

	"github.com/lyzr/workflowcore/internal/model"
)

// ListOptions filters and paginates the store's list operations.
type ListOptions struct {
	Where   map[string]interface{}
	OrderBy string
	Limit   int
	Offset  int
}

// Tx is a unit-of-work handle returned by BeginTx. Callers must call
// exactly one of Commit or Rollback.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the full persistence contract. A single concrete
// implementation satisfies this plus the narrower collaborator
// interfaces declared by internal/budget (Store) and internal/graph
// (Store) and internal/llmexec (ToolCallStore), since their method sets
// are literal subsets of this one.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	// Workflows
	SaveWorkflow(ctx context.Context, wf *model.StoredWorkflow) error
	GetWorkflow(ctx context.Context, id string) (*model.StoredWorkflow, error)
	ListWorkflows(ctx context.Context, opts ListOptions) ([]*model.StoredWorkflow, error)
	UpdateWorkflow(ctx context.Context, wf *model.StoredWorkflow) error
	DeleteWorkflow(ctx context.Context, id string) error

	// Sessions
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, opts ListOptions) ([]*model.Session, error)
	UpdateSession(ctx context.Context, session *model.Session) error
	UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error
	DeleteSession(ctx context.Context, id string) error

	// Execution state (one row per session) and its node states.
	SaveExecutionState(ctx context.Context, state *model.ExecutionState) error
	GetExecutionState(ctx context.Context, sessionID string) (*model.ExecutionState, error)
	SaveNodeState(ctx context.Context, sessionID, qualifiedNodeID string, state *model.NodeState) error

	// LLM executions
	SaveLLMExecution(ctx context.Context, exec *model.LLMExecution) error
	GetLLMExecutionsBySession(ctx context.Context, sessionID string, opts ListOptions) ([]*model.LLMExecution, error)
	GetLLMExecutionsByNode(ctx context.Context, sessionID, nodeID string, opts ListOptions) ([]*model.LLMExecution, error)

	// Budget pools
	CreatePool(ctx context.Context, pool *model.BudgetPool) error
	GetPool(ctx context.Context, id string) (*model.BudgetPool, error)
	// UpdatePool performs a compare-and-swap on Version, returning
	// coreerr.KindVersionConflict if the stored version has moved.
	UpdatePool(ctx context.Context, pool *model.BudgetPool, expectedVersion int64) error
	ListChildren(ctx context.Context, parentID string) ([]*model.BudgetPool, error)

	// Tool calls
	LogToolCall(ctx context.Context, log model.ToolCallLog) error
	GetToolCallsByExecution(ctx context.Context, executionID string) ([]*model.ToolCallLog, error)
	GetToolCallsBySession(ctx context.Context, sessionID string, opts ListOptions) ([]*model.ToolCallLog, error)

	// Approvals
	CreateApproval(ctx context.Context, approval *model.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error)
	ListApprovalsBySession(ctx context.Context, sessionID string, opts ListOptions) ([]*model.ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context, opts ListOptions) ([]*model.ApprovalRequest, error)
	UpdateApproval(ctx context.Context, approval *model.ApprovalRequest) error
	ApproveRequest(ctx context.Context, id, approvedBy, notes string) (*model.ApprovalRequest, error)
	RejectRequest(ctx context.Context, id, rejectedBy, reason string) (*model.ApprovalRequest, error)
}
