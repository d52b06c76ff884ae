// Package model defines the core data model: workflow definitions, node
// variants, edges, transform expressions, sessions, execution state, and
// the budget/approval entities that back them.
package model

import (
	"time"

	"github.com/lyzr/workflowcore/internal/messagetype"
)

// StoredWorkflow is a workflow row: immutable definition per version.
type StoredWorkflow struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Version    int                    `json:"version"`
	Definition *Node                  `json:"definition"`
	TypeDefs   messagetype.TypeDefs   `json:"typedefs,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NodeKind discriminates the Node variant.
type NodeKind string

const (
	NodeKindGroup       NodeKind = "group"
	NodeKindLLM         NodeKind = "llm"
	NodeKindTransform   NodeKind = "transform"
	NodeKindCallWorkflow NodeKind = "callWorkflow"
	NodeKindStream      NodeKind = "stream"
	NodeKindGenerator   NodeKind = "generator"
)

// SchemaKind discriminates the two tool schema variants the tool bridge
// accepts, per the spec's "express as two variants, not duck-typing"
// guidance: a bare field record, or a structured schema with its own Parse.
type SchemaKind string

const (
	SchemaBare       SchemaKind = "bare"
	SchemaStructured SchemaKind = "structured"
)

// FieldSchema describes one input field of a bare tool schema.
type FieldSchema struct {
	Type        string
	Description string
}

// ParseFunc validates and normalizes raw tool-call args for a structured schema.
type ParseFunc func(args map[string]interface{}) (map[string]interface{}, error)

// ToolSchema is either a bare map[string]FieldSchema record (wrapped into
// an object schema) or a structured schema with its own Parse.
type ToolSchema struct {
	Kind   SchemaKind
	Fields map[string]FieldSchema // SchemaBare
	Parse  ParseFunc              // SchemaStructured
}

// WrapBareSchema wraps a bare field record as a ToolSchema.
func WrapBareSchema(fields map[string]FieldSchema) ToolSchema {
	return ToolSchema{Kind: SchemaBare, Fields: fields}
}

// NewStructuredSchema builds a ToolSchema backed by a Parse function.
func NewStructuredSchema(parse ParseFunc) ToolSchema {
	return ToolSchema{Kind: SchemaStructured, Parse: parse}
}

// Validate normalizes args per the schema. Bare schemas pass args through
// unchanged; structured schemas run Parse.
func (s ToolSchema) Validate(args map[string]interface{}) (map[string]interface{}, error) {
	if s.Kind == SchemaStructured && s.Parse != nil {
		return s.Parse(args)
	}
	return args, nil
}

// Tool is a caller-supplied tool definition exposed to an LLM node.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema ToolSchema      `json:"inputSchema"`
	Execute     ToolExecuteFunc `json:"-"`
}

// ToolExecuteFunc is the caller-supplied implementation of a tool call.
type ToolExecuteFunc func(ctx ToolExecContext, input map[string]interface{}) (map[string]interface{}, error)

// ToolExecContext carries per-call metadata passed to a tool's Execute function.
type ToolExecContext struct {
	ToolCallID string
	SessionID  string
	NodeID     string
}

// Node is a tagged-variant node in a workflow's node tree.
type Node struct {
	Kind       NodeKind             `json:"kind"`
	InputType  *messagetype.Type    `json:"inputType,omitempty"`
	OutputType *messagetype.Type    `json:"outputType,omitempty"`

	// NodeKindGroup
	Label      string          `json:"label,omitempty"`
	Nodes      map[string]*Node `json:"nodes,omitempty"`
	Edges      []Edge          `json:"edges,omitempty"`
	EntryPoint string          `json:"entryPoint,omitempty"`
	ExitPoint  string          `json:"exitPoint,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`

	// NodeKindLLM
	MaxRetries          int      `json:"maxRetries,omitempty"`
	SystemPrompt        string   `json:"systemPrompt,omitempty"`
	AvailableTools      []Tool   `json:"availableTools,omitempty"`
	Reviewers           []string `json:"reviewers,omitempty"`
	RequiresHumanReview bool     `json:"requiresHumanReview,omitempty"`

	// NodeKindTransform
	Fn *TransformExpr `json:"fn,omitempty"`

	// NodeKindCallWorkflow
	WorkflowRef      string         `json:"workflowRef,omitempty"`
	InputMapping     *TransformExpr `json:"inputMapping,omitempty"`
	OutputMapping    *TransformExpr `json:"outputMapping,omitempty"`
	RequiresApproval bool           `json:"requiresApproval,omitempty"`
}

// Edge connects two nodes (or a node to the group's entry/exit sentinels)
// within a Group, with optional data projection and an expansion-only
// CEL condition gating traversal when a node has more than one outgoing edge.
type Edge struct {
	From                              string `json:"from"`
	To                                string `json:"to"`
	PreviousNodeMessageOutputFieldName string `json:"previousNodeMessageOutputFieldName,omitempty"`
	MessageInputFieldName             string `json:"messageInputFieldName,omitempty"`
	Description                       string `json:"description,omitempty"`

	// Condition is an optional CEL expression string, evaluated against
	// the producer's projected output and the group's context map. When
	// a node has more than one outgoing edge, edges are evaluated in
	// declaration order and the first matching (or unconditional) edge
	// is followed.
	Condition string `json:"condition,omitempty"`
}

// ExprKind discriminates the TransformExpr variant.
type ExprKind string

const (
	ExprConst       ExprKind = "const"
	ExprGet         ExprKind = "get"
	ExprWith        ExprKind = "with"
	ExprIf          ExprKind = "if"
	ExprMap         ExprKind = "map"
	ExprObject      ExprKind = "object"
	ExprTaggedUnion ExprKind = "taggedUnion"
)

// TransformExpr is the recursive transform-expression language.
type TransformExpr struct {
	Kind ExprKind `json:"kind"`

	// ExprConst
	Value interface{} `json:"value,omitempty"`

	// ExprGet, ExprWith, ExprIf, ExprMap: path is a sequence of field names.
	Path []string `json:"path,omitempty"`

	// ExprWith, ExprMap
	Fn *TransformExpr `json:"fn,omitempty"`

	// ExprIf: tag -> branch expr
	Branches map[string]*TransformExpr `json:"branches,omitempty"`

	// ExprObject, ExprTaggedUnion: field -> expr
	Fields map[string]*TransformExpr `json:"fields,omitempty"`

	// ExprTaggedUnion
	Tag string `json:"tag,omitempty"`
}

// SessionStatus is the run lifecycle status.
type SessionStatus string

const (
	SessionRunning                SessionStatus = "running"
	SessionPaused                 SessionStatus = "paused"
	SessionCompleted              SessionStatus = "completed"
	SessionFailed                 SessionStatus = "failed"
	SessionWaitingHumanReview     SessionStatus = "waiting_for_human_review"
	SessionWaitingBudgetApproval  SessionStatus = "waiting_for_budget_approval"
	SessionWaitingWorkflowApproval SessionStatus = "waiting_for_workflow_approval"
)

// Session is one run of a workflow definition.
type Session struct {
	ID               string                 `json:"id"`
	WorkflowID       string                 `json:"workflowId"`
	WorkflowSnapshot *Node                  `json:"workflowSnapshot"`
	Status           SessionStatus          `json:"status"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ExecutionStatus mirrors SessionStatus for the execution-state row
// (kept as a distinct type since not every session status is reachable
// by execution state, e.g. "paused" is reserved for future manual pause).
type ExecutionStatus string

const (
	ExecRunning                ExecutionStatus = "running"
	ExecCompleted              ExecutionStatus = "completed"
	ExecFailed                 ExecutionStatus = "failed"
	ExecWaitingHumanReview     ExecutionStatus = "waiting_for_human_review"
	ExecWaitingBudgetApproval  ExecutionStatus = "waiting_for_budget_approval"
	ExecWaitingWorkflowApproval ExecutionStatus = "waiting_for_workflow_approval"
)

// ExecutionState is the one-per-session execution record.
type ExecutionState struct {
	SessionID     string                    `json:"sessionId"`
	BudgetPoolID  string                    `json:"budgetPoolId,omitempty"`
	StartedAt     time.Time                 `json:"startedAt"`
	CompletedAt   *time.Time                `json:"completedAt,omitempty"`
	CurrentNodeID string                    `json:"currentNodeId,omitempty"`
	Status        ExecutionStatus           `json:"status"`
	NodeStates    map[string]*NodeState     `json:"nodeStates"`
	Metadata      map[string]interface{}    `json:"metadata,omitempty"`
}

// NodeRunStatus is the per-node lifecycle status.
type NodeRunStatus string

const (
	NodePending           NodeRunStatus = "pending"
	NodeRunning           NodeRunStatus = "running"
	NodeCompleted         NodeRunStatus = "completed"
	NodeFailed            NodeRunStatus = "failed"
	NodeSkipped           NodeRunStatus = "skipped"
	NodeWaitingApproval   NodeRunStatus = "waiting_for_approval"
	NodeWaitingReview     NodeRunStatus = "waiting_for_review"
)

// NodeState is the persisted state of one node execution, keyed by
// qualified node id within a session.
type NodeState struct {
	NodeID            string                 `json:"nodeId"`
	Status            NodeRunStatus          `json:"status"`
	Input             interface{}            `json:"input,omitempty"`
	Output            interface{}            `json:"output,omitempty"`
	Error             string                 `json:"error,omitempty"`
	StartedAt         *time.Time             `json:"startedAt,omitempty"`
	CompletedAt       *time.Time             `json:"completedAt,omitempty"`
	RetryCount        int                    `json:"retryCount"`
	PendingApprovalID string                 `json:"pendingApprovalId,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// BudgetPoolStatus is the lifecycle status of a budget pool.
type BudgetPoolStatus string

const (
	PoolActive    BudgetPoolStatus = "active"
	PoolExhausted BudgetPoolStatus = "exhausted"
	PoolSuspended BudgetPoolStatus = "suspended"
)

// BudgetPool is a hierarchical accounting bucket.
type BudgetPool struct {
	ID              string                 `json:"id"`
	ParentPoolID    string                 `json:"parentPoolId,omitempty"`
	TotalBudget     int64                  `json:"totalBudget"`
	UsedBudget      int64                  `json:"usedBudget"`
	RemainingBudget int64                  `json:"remainingBudget"`
	Status          BudgetPoolStatus       `json:"status"`
	Version         int64                  `json:"version"`
	CreatedAt       time.Time              `json:"createdAt"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Usage is token accounting reported by the LLM provider.
type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

// ToolCallRecord is one tool call made during an LLM execution.
type ToolCallRecord struct {
	ToolName string                 `json:"toolName"`
	ToolCallID string               `json:"toolCallId"`
	Args     map[string]interface{} `json:"args"`
	Result   map[string]interface{} `json:"result,omitempty"`
}

// LLMExecution is the persisted record of a single LLM node call.
type LLMExecution struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId"`
	NodeID    string           `json:"nodeId"`
	Timestamp time.Time        `json:"timestamp"`
	Success   bool             `json:"success"`
	Text      string           `json:"text,omitempty"`
	ToolCalls []ToolCallRecord `json:"toolCalls,omitempty"`
	Usage     *Usage           `json:"usage,omitempty"`
	Error     string           `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCallLog is the persisted invocation log entry for one tool call.
type ToolCallLog struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"executionId"`
	ToolCallID  string                 `json:"toolCallId"`
	ToolName    string                 `json:"toolName"`
	Args        map[string]interface{} `json:"args"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Duration    time.Duration          `json:"duration"`
}

// ApprovalType discriminates the kind of decision an ApprovalRequest asks for.
type ApprovalType string

const (
	ApprovalHumanReview  ApprovalType = "human_review"
	ApprovalBudgetIncrease ApprovalType = "budget_increase"
	ApprovalWorkflowCall ApprovalType = "workflow_call"
)

// ApprovalStatus is the lifecycle status of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalRequest is a pending (or resolved) human-in-the-loop decision.
type ApprovalRequest struct {
	ID             string                 `json:"id"`
	SessionID      string                 `json:"sessionId"`
	NodeID         string                 `json:"nodeId"`
	Type           ApprovalType           `json:"type"`
	Status         ApprovalStatus         `json:"status"`
	Context        map[string]interface{} `json:"context"`
	CreatedAt      time.Time              `json:"createdAt"`
	ResolvedAt     *time.Time             `json:"resolvedAt,omitempty"`
	ResolvedBy     string                 `json:"resolvedBy,omitempty"`
	ResolutionNotes string                `json:"resolutionNotes,omitempty"`
}
