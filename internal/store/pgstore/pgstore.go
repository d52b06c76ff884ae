// Package pgstore is the Postgres/pgx reference implementation of the
// store contract, grounded on the teacher's common/repository/run.go
// (parameterized SQL via db.Exec/QueryRow/Query) and common/db.DB (pgxpool
// wrapper). JSONB columns carry definition/workflowSnapshot/input/output/
// args/result/context/metadata, matching pgx v5's native encoding of Go
// maps and structs into json/jsonb parameters and scan targets.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lyzr/workflowcore/common/db"
	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/store"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	db *db.DB
}

// New creates a Store over an already-connected database handle.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

// txKey is the context key a transaction-scoped querier is stashed under,
// so a caller that holds the context returned by (*Tx).Context runs every
// subsequent store call against the same transaction instead of the pool.
type txKey struct{}

// querier is the subset of pgxpool.Pool / pgx.Tx this package uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.db.Pool
}

// Tx wraps a pgx transaction. Context returns a context that routes
// subsequent Store calls through this transaction instead of the pool.
type Tx struct {
	pgx pgx.Tx
	ctx context.Context
}

// Context returns a context bound to this transaction.
func (t *Tx) Context() context.Context { return t.ctx }

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.pgx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.pgx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// BeginTx starts a Postgres transaction.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	pgxTx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	t := &Tx{pgx: pgxTx}
	t.ctx = context.WithValue(ctx, txKey{}, pgxTx)
	return t, nil
}

// Workflows

func (s *Store) SaveWorkflow(ctx context.Context, wf *model.StoredWorkflow) error {
	const query = `
		INSERT INTO workflows (id, name, version, definition, typedefs, created_at, updated_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, version = EXCLUDED.version, definition = EXCLUDED.definition,
			typedefs = EXCLUDED.typedefs, updated_at = EXCLUDED.updated_at, metadata = EXCLUDED.metadata
	`
	_, err := s.q(ctx).Exec(ctx, query, wf.ID, wf.Name, wf.Version, wf.Definition, wf.TypeDefs, wf.CreatedAt, wf.UpdatedAt, wf.Metadata)
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*model.StoredWorkflow, error) {
	const query = `
		SELECT id, name, version, definition, typedefs, created_at, updated_at, metadata
		FROM workflows WHERE id = $1
	`
	wf := &model.StoredWorkflow{}
	err := s.q(ctx).QueryRow(ctx, query, id).Scan(
		&wf.ID, &wf.Name, &wf.Version, &wf.Definition, &wf.TypeDefs, &wf.CreatedAt, &wf.UpdatedAt, &wf.Metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context, opts store.ListOptions) ([]*model.StoredWorkflow, error) {
	query, args := buildListQuery(
		`SELECT id, name, version, definition, typedefs, created_at, updated_at, metadata FROM workflows`,
		nil, nil, opts,
	)
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*model.StoredWorkflow
	for rows.Next() {
		wf := &model.StoredWorkflow{}
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Version, &wf.Definition, &wf.TypeDefs, &wf.CreatedAt, &wf.UpdatedAt, &wf.Metadata); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateWorkflow(ctx context.Context, wf *model.StoredWorkflow) error {
	const query = `
		UPDATE workflows SET name = $2, version = $3, definition = $4, typedefs = $5, updated_at = $6, metadata = $7
		WHERE id = $1
	`
	_, err := s.q(ctx).Exec(ctx, query, wf.ID, wf.Name, wf.Version, wf.Definition, wf.TypeDefs, wf.UpdatedAt, wf.Metadata)
	if err != nil {
		return fmt.Errorf("update workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.q(ctx).Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow %s: %w", id, err)
	}
	return nil
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	const query = `
		INSERT INTO sessions (id, workflow_id, workflow_snapshot, status, created_at, updated_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q(ctx).Exec(ctx, query, session.ID, session.WorkflowID, session.WorkflowSnapshot, session.Status, session.CreatedAt, session.UpdatedAt, session.Metadata)
	if err != nil {
		return fmt.Errorf("create session %s: %w", session.ID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	const query = `
		SELECT id, workflow_id, workflow_snapshot, status, created_at, updated_at, metadata
		FROM sessions WHERE id = $1
	`
	sess := &model.Session{}
	err := s.q(ctx).QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.WorkflowID, &sess.WorkflowSnapshot, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt, &sess.Metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, opts store.ListOptions) ([]*model.Session, error) {
	query, args := buildListQuery(
		`SELECT id, workflow_id, workflow_snapshot, status, created_at, updated_at, metadata FROM sessions`,
		nil, nil, opts,
	)
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		sess := &model.Session{}
		if err := rows.Scan(&sess.ID, &sess.WorkflowID, &sess.WorkflowSnapshot, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateSession(ctx context.Context, session *model.Session) error {
	const query = `
		UPDATE sessions SET workflow_id = $2, workflow_snapshot = $3, status = $4, updated_at = $5, metadata = $6
		WHERE id = $1
	`
	_, err := s.q(ctx).Exec(ctx, query, session.ID, session.WorkflowID, session.WorkflowSnapshot, session.Status, session.UpdatedAt, session.Metadata)
	if err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	return nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE sessions SET status = $2 WHERE id = $1`, sessionID, status)
	if err != nil {
		return fmt.Errorf("update session %s status: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update session %s status: %w", sessionID, pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	// Cascade deletes (execution state, node states, LLM executions, tool
	// call logs, approvals) are declared ON DELETE CASCADE on the foreign
	// keys, per the contract's cascade semantics.
	_, err := s.q(ctx).Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Execution state

func (s *Store) SaveExecutionState(ctx context.Context, state *model.ExecutionState) error {
	const query = `
		INSERT INTO execution_states (session_id, budget_pool_id, started_at, completed_at, current_node_id, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			budget_pool_id = EXCLUDED.budget_pool_id, completed_at = EXCLUDED.completed_at,
			current_node_id = EXCLUDED.current_node_id, status = EXCLUDED.status, metadata = EXCLUDED.metadata
	`
	_, err := s.q(ctx).Exec(ctx, query, state.SessionID, state.BudgetPoolID, state.StartedAt, state.CompletedAt, state.CurrentNodeID, state.Status, state.Metadata)
	if err != nil {
		return fmt.Errorf("save execution state for session %s: %w", state.SessionID, err)
	}
	return nil
}

func (s *Store) GetExecutionState(ctx context.Context, sessionID string) (*model.ExecutionState, error) {
	const query = `
		SELECT session_id, budget_pool_id, started_at, completed_at, current_node_id, status, metadata
		FROM execution_states WHERE session_id = $1
	`
	es := &model.ExecutionState{}
	err := s.q(ctx).QueryRow(ctx, query, sessionID).Scan(
		&es.SessionID, &es.BudgetPoolID, &es.StartedAt, &es.CompletedAt, &es.CurrentNodeID, &es.Status, &es.Metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("get execution state for session %s: %w", sessionID, err)
	}

	states, err := s.nodeStates(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	es.NodeStates = states
	return es, nil
}

func (s *Store) nodeStates(ctx context.Context, sessionID string) (map[string]*model.NodeState, error) {
	const query = `
		SELECT node_id, status, input, output, error, started_at, completed_at, retry_count, pending_approval_id, metadata
		FROM node_states WHERE session_id = $1
	`
	rows, err := s.q(ctx).Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list node states for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := make(map[string]*model.NodeState)
	for rows.Next() {
		qualifiedID := ""
		ns := &model.NodeState{}
		if err := rows.Scan(&qualifiedID, &ns.Status, &ns.Input, &ns.Output, &ns.Error, &ns.StartedAt, &ns.CompletedAt, &ns.RetryCount, &ns.PendingApprovalID, &ns.Metadata); err != nil {
			return nil, fmt.Errorf("scan node state: %w", err)
		}
		out[qualifiedID] = ns
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node states: %w", err)
	}
	return out, nil
}

func (s *Store) SaveNodeState(ctx context.Context, sessionID, qualifiedNodeID string, state *model.NodeState) error {
	const query = `
		INSERT INTO node_states (session_id, node_id, status, input, output, error, started_at, completed_at, retry_count, pending_approval_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, node_id) DO UPDATE SET
			status = EXCLUDED.status, input = EXCLUDED.input, output = EXCLUDED.output, error = EXCLUDED.error,
			started_at = EXCLUDED.started_at, completed_at = EXCLUDED.completed_at, retry_count = EXCLUDED.retry_count,
			pending_approval_id = EXCLUDED.pending_approval_id, metadata = EXCLUDED.metadata
	`
	_, err := s.q(ctx).Exec(ctx, query,
		sessionID, qualifiedNodeID, state.Status, state.Input, state.Output, state.Error,
		state.StartedAt, state.CompletedAt, state.RetryCount, state.PendingApprovalID, state.Metadata,
	)
	if err != nil {
		return fmt.Errorf("save node state %s/%s: %w", sessionID, qualifiedNodeID, err)
	}

	_, err = s.q(ctx).Exec(ctx, `UPDATE execution_states SET current_node_id = $2 WHERE session_id = $1`, sessionID, qualifiedNodeID)
	if err != nil {
		return fmt.Errorf("advance current node for session %s: %w", sessionID, err)
	}
	return nil
}

// LLM executions

func (s *Store) SaveLLMExecution(ctx context.Context, exec *model.LLMExecution) error {
	const query = `
		INSERT INTO llm_executions (id, session_id, node_id, timestamp, success, text, tool_calls, usage, error, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.q(ctx).Exec(ctx, query, exec.ID, exec.SessionID, exec.NodeID, exec.Timestamp, exec.Success, exec.Text, exec.ToolCalls, exec.Usage, exec.Error, exec.Metadata)
	if err != nil {
		return fmt.Errorf("save LLM execution %s: %w", exec.ID, err)
	}
	return nil
}

func (s *Store) GetLLMExecutionsBySession(ctx context.Context, sessionID string, opts store.ListOptions) ([]*model.LLMExecution, error) {
	query, args := buildListQuery(
		`SELECT id, session_id, node_id, timestamp, success, text, tool_calls, usage, error, metadata FROM llm_executions`,
		[]string{"session_id = $1"}, []interface{}{sessionID}, opts,
	)
	return s.scanLLMExecutions(ctx, query, args)
}

func (s *Store) GetLLMExecutionsByNode(ctx context.Context, sessionID, nodeID string, opts store.ListOptions) ([]*model.LLMExecution, error) {
	query, args := buildListQuery(
		`SELECT id, session_id, node_id, timestamp, success, text, tool_calls, usage, error, metadata FROM llm_executions`,
		[]string{"session_id = $1", "node_id = $2"}, []interface{}{sessionID, nodeID}, opts,
	)
	return s.scanLLMExecutions(ctx, query, args)
}

func (s *Store) scanLLMExecutions(ctx context.Context, query string, args []interface{}) ([]*model.LLMExecution, error) {
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list LLM executions: %w", err)
	}
	defer rows.Close()

	var out []*model.LLMExecution
	for rows.Next() {
		exec := &model.LLMExecution{}
		if err := rows.Scan(&exec.ID, &exec.SessionID, &exec.NodeID, &exec.Timestamp, &exec.Success, &exec.Text, &exec.ToolCalls, &exec.Usage, &exec.Error, &exec.Metadata); err != nil {
			return nil, fmt.Errorf("scan LLM execution: %w", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate LLM executions: %w", err)
	}
	return out, nil
}

// Budget pools

func (s *Store) CreatePool(ctx context.Context, pool *model.BudgetPool) error {
	const query = `
		INSERT INTO budget_pools (id, parent_pool_id, total_budget, used_budget, remaining_budget, status, version, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.q(ctx).Exec(ctx, query, pool.ID, nullableString(pool.ParentPoolID), pool.TotalBudget, pool.UsedBudget, pool.RemainingBudget, pool.Status, pool.Version, pool.CreatedAt, pool.Metadata)
	if err != nil {
		return fmt.Errorf("create pool %s: %w", pool.ID, err)
	}
	return nil
}

func (s *Store) GetPool(ctx context.Context, id string) (*model.BudgetPool, error) {
	const query = `
		SELECT id, COALESCE(parent_pool_id, ''), total_budget, used_budget, remaining_budget, status, version, created_at, metadata
		FROM budget_pools WHERE id = $1
	`
	pool := &model.BudgetPool{}
	err := s.q(ctx).QueryRow(ctx, query, id).Scan(
		&pool.ID, &pool.ParentPoolID, &pool.TotalBudget, &pool.UsedBudget, &pool.RemainingBudget, &pool.Status, &pool.Version, &pool.CreatedAt, &pool.Metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return pool, nil
}

// UpdatePool performs a compare-and-swap on version; zero rows affected
// means the stored version has moved since the caller read it.
func (s *Store) UpdatePool(ctx context.Context, pool *model.BudgetPool, expectedVersion int64) error {
	const query = `
		UPDATE budget_pools
		SET total_budget = $3, used_budget = $4, remaining_budget = $5, status = $6, version = $7
		WHERE id = $1 AND version = $2
	`
	tag, err := s.q(ctx).Exec(ctx, query, pool.ID, expectedVersion, pool.TotalBudget, pool.UsedBudget, pool.RemainingBudget, pool.Status, pool.Version)
	if err != nil {
		return fmt.Errorf("update pool %s: %w", pool.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coreerr.New(coreerr.KindVersionConflict, "update pool %s: version conflict (expected %d)", pool.ID, expectedVersion)
	}
	return nil
}

func (s *Store) ListChildren(ctx context.Context, parentID string) ([]*model.BudgetPool, error) {
	const query = `
		SELECT id, COALESCE(parent_pool_id, ''), total_budget, used_budget, remaining_budget, status, version, created_at, metadata
		FROM budget_pools WHERE parent_pool_id = $1
	`
	rows, err := s.q(ctx).Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children of pool %s: %w", parentID, err)
	}
	defer rows.Close()

	var out []*model.BudgetPool
	for rows.Next() {
		pool := &model.BudgetPool{}
		if err := rows.Scan(&pool.ID, &pool.ParentPoolID, &pool.TotalBudget, &pool.UsedBudget, &pool.RemainingBudget, &pool.Status, &pool.Version, &pool.CreatedAt, &pool.Metadata); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		out = append(out, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return out, nil
}

// Tool calls

func (s *Store) LogToolCall(ctx context.Context, log model.ToolCallLog) error {
	const query = `
		INSERT INTO tool_call_logs (id, execution_id, tool_call_id, tool_name, args, result, error, timestamp, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.q(ctx).Exec(ctx, query, log.ID, log.ExecutionID, log.ToolCallID, log.ToolName, log.Args, log.Result, log.Error, log.Timestamp, log.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("log tool call %s: %w", log.ID, err)
	}
	return nil
}

func (s *Store) GetToolCallsByExecution(ctx context.Context, executionID string) ([]*model.ToolCallLog, error) {
	const query = `
		SELECT id, execution_id, tool_call_id, tool_name, args, result, error, timestamp, duration_ms
		FROM tool_call_logs WHERE execution_id = $1
	`
	return s.scanToolCalls(ctx, query, executionID)
}

func (s *Store) GetToolCallsBySession(ctx context.Context, sessionID string, opts store.ListOptions) ([]*model.ToolCallLog, error) {
	query, args := buildListQuery(
		`SELECT tcl.id, tcl.execution_id, tcl.tool_call_id, tcl.tool_name, tcl.args, tcl.result, tcl.error, tcl.timestamp, tcl.duration_ms
		 FROM tool_call_logs tcl JOIN llm_executions le ON le.id = tcl.execution_id`,
		[]string{"le.session_id = $1"}, []interface{}{sessionID}, opts,
	)
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tool calls for session %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanToolCallRows(rows)
}

func (s *Store) scanToolCalls(ctx context.Context, query string, args ...interface{}) ([]*model.ToolCallLog, error) {
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	defer rows.Close()
	return scanToolCallRows(rows)
}

func scanToolCallRows(rows pgx.Rows) ([]*model.ToolCallLog, error) {
	var out []*model.ToolCallLog
	for rows.Next() {
		tc := &model.ToolCallLog{}
		var durationMs int64
		if err := rows.Scan(&tc.ID, &tc.ExecutionID, &tc.ToolCallID, &tc.ToolName, &tc.Args, &tc.Result, &tc.Error, &tc.Timestamp, &durationMs); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		tc.Duration = durationMsToDuration(durationMs)
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool calls: %w", err)
	}
	return out, nil
}

// Approvals

func (s *Store) CreateApproval(ctx context.Context, approval *model.ApprovalRequest) error {
	const query = `
		INSERT INTO approval_requests (id, session_id, node_id, type, status, context, created_at, resolved_at, resolved_by, resolution_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.q(ctx).Exec(ctx, query, approval.ID, approval.SessionID, approval.NodeID, approval.Type, approval.Status, approval.Context, approval.CreatedAt, approval.ResolvedAt, approval.ResolvedBy, approval.ResolutionNotes)
	if err != nil {
		return fmt.Errorf("create approval %s: %w", approval.ID, err)
	}
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	const query = `
		SELECT id, session_id, node_id, type, status, context, created_at, resolved_at, resolved_by, resolution_notes
		FROM approval_requests WHERE id = $1
	`
	a := &model.ApprovalRequest{}
	err := s.q(ctx).QueryRow(ctx, query, id).Scan(
		&a.ID, &a.SessionID, &a.NodeID, &a.Type, &a.Status, &a.Context, &a.CreatedAt, &a.ResolvedAt, &a.ResolvedBy, &a.ResolutionNotes,
	)
	if err != nil {
		return nil, fmt.Errorf("get approval %s: %w", id, err)
	}
	return a, nil
}

func (s *Store) ListApprovalsBySession(ctx context.Context, sessionID string, opts store.ListOptions) ([]*model.ApprovalRequest, error) {
	query, args := buildListQuery(
		`SELECT id, session_id, node_id, type, status, context, created_at, resolved_at, resolved_by, resolution_notes FROM approval_requests`,
		[]string{"session_id = $1"}, []interface{}{sessionID}, opts,
	)
	return s.scanApprovals(ctx, query, args)
}

func (s *Store) ListPendingApprovals(ctx context.Context, opts store.ListOptions) ([]*model.ApprovalRequest, error) {
	query, args := buildListQuery(
		`SELECT id, session_id, node_id, type, status, context, created_at, resolved_at, resolved_by, resolution_notes FROM approval_requests`,
		[]string{"status = $1"}, []interface{}{model.ApprovalPending}, opts,
	)
	return s.scanApprovals(ctx, query, args)
}

func (s *Store) scanApprovals(ctx context.Context, query string, args []interface{}) ([]*model.ApprovalRequest, error) {
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []*model.ApprovalRequest
	for rows.Next() {
		a := &model.ApprovalRequest{}
		if err := rows.Scan(&a.ID, &a.SessionID, &a.NodeID, &a.Type, &a.Status, &a.Context, &a.CreatedAt, &a.ResolvedAt, &a.ResolvedBy, &a.ResolutionNotes); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateApproval(ctx context.Context, approval *model.ApprovalRequest) error {
	const query = `
		UPDATE approval_requests SET status = $2, context = $3, resolved_at = $4, resolved_by = $5, resolution_notes = $6
		WHERE id = $1
	`
	_, err := s.q(ctx).Exec(ctx, query, approval.ID, approval.Status, approval.Context, approval.ResolvedAt, approval.ResolvedBy, approval.ResolutionNotes)
	if err != nil {
		return fmt.Errorf("update approval %s: %w", approval.ID, err)
	}
	return nil
}

func (s *Store) ApproveRequest(ctx context.Context, id, approvedBy, notes string) (*model.ApprovalRequest, error) {
	return s.resolve(ctx, id, model.ApprovalApproved, approvedBy, notes)
}

func (s *Store) RejectRequest(ctx context.Context, id, rejectedBy, reason string) (*model.ApprovalRequest, error) {
	return s.resolve(ctx, id, model.ApprovalRejected, rejectedBy, reason)
}

func (s *Store) resolve(ctx context.Context, id string, status model.ApprovalStatus, resolvedBy, notes string) (*model.ApprovalRequest, error) {
	const query = `
		UPDATE approval_requests SET status = $2, resolved_at = now(), resolved_by = $3, resolution_notes = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING id, session_id, node_id, type, status, context, created_at, resolved_at, resolved_by, resolution_notes
	`
	a := &model.ApprovalRequest{}
	err := s.q(ctx).QueryRow(ctx, query, id, status, resolvedBy, notes).Scan(
		&a.ID, &a.SessionID, &a.NodeID, &a.Type, &a.Status, &a.Context, &a.CreatedAt, &a.ResolvedAt, &a.ResolvedBy, &a.ResolutionNotes,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve approval %s: %w", id, err)
	}
	return a, nil
}
