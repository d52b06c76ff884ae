// Package memstore is an in-memory implementation of the store contract,
// grounded on the teacher's common/cache.MemoryCache: a mutex-guarded map
// per entity, no persistence across process restarts. Used by tests and by
// library callers who don't need durability.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu sync.RWMutex

	workflows map[string]*model.StoredWorkflow
	sessions  map[string]*model.Session
	execState map[string]*model.ExecutionState
	pools     map[string]*model.BudgetPool
	approvals map[string]*model.ApprovalRequest

	llmExecutions []*model.LLMExecution
	toolCalls     []*model.ToolCallLog
	// execToSession tracks which session an LLM execution id belongs to,
	// so GetToolCallsBySession can join tool calls (keyed by executionId)
	// back to a session without a denormalized sessionId column.
	execToSession map[string]string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		workflows:     make(map[string]*model.StoredWorkflow),
		sessions:      make(map[string]*model.Session),
		execState:     make(map[string]*model.ExecutionState),
		pools:         make(map[string]*model.BudgetPool),
		approvals:     make(map[string]*model.ApprovalRequest),
		execToSession: make(map[string]string),
	}
}

// memTx is a no-op transaction: memstore mutations are already atomic
// under Store.mu, so Commit/Rollback are bookkeeping only.
type memTx struct{}

func (memTx) Commit(ctx context.Context) error   { return nil }
func (memTx) Rollback(ctx context.Context) error { return nil }

// BeginTx returns a no-op transaction handle.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	return memTx{}, nil
}

// Workflows

func (s *Store) SaveWorkflow(ctx context.Context, wf *model.StoredWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*model.StoredWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, coreerr.New(coreerr.KindWorkflowNotFound, "workflow %s", id)
	}
	return wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context, opts store.ListOptions) ([]*model.StoredWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.StoredWorkflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		if matchesWhere(opts.Where, map[string]interface{}{"id": wf.ID, "name": wf.Name}) {
			out = append(out, wf)
		}
	}
	return paginate(out, opts), nil
}

func (s *Store) UpdateWorkflow(ctx context.Context, wf *model.StoredWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return coreerr.New(coreerr.KindWorkflowNotFound, "workflow %s", wf.ID)
	}
	s.workflows[wf.ID] = wf
	return nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, coreerr.New(coreerr.KindSessionNotFound, "session %s", id)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, opts store.ListOptions) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if matchesWhere(opts.Where, map[string]interface{}{"id": sess.ID, "workflowId": sess.WorkflowID, "status": string(sess.Status)}) {
			out = append(out, sess)
		}
	}
	return paginate(out, opts), nil
}

func (s *Store) UpdateSession(ctx context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return coreerr.New(coreerr.KindSessionNotFound, "session %s", session.ID)
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return coreerr.New(coreerr.KindSessionNotFound, "session %s", sessionID)
	}
	sess.Status = status
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.execState, id)

	kept := s.llmExecutions[:0]
	for _, exec := range s.llmExecutions {
		if exec.SessionID == id {
			delete(s.execToSession, exec.ID)
			continue
		}
		kept = append(kept, exec)
	}
	s.llmExecutions = kept

	for aid, a := range s.approvals {
		if a.SessionID == id {
			delete(s.approvals, aid)
		}
	}
	return nil
}

// Execution state

func (s *Store) SaveExecutionState(ctx context.Context, state *model.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.NodeStates == nil {
		state.NodeStates = make(map[string]*model.NodeState)
	}
	s.execState[state.SessionID] = state
	return nil
}

func (s *Store) GetExecutionState(ctx context.Context, sessionID string) (*model.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es, ok := s.execState[sessionID]
	if !ok {
		return nil, coreerr.New(coreerr.KindSessionNotFound, "execution state for session %s", sessionID)
	}
	return es, nil
}

func (s *Store) SaveNodeState(ctx context.Context, sessionID, qualifiedNodeID string, state *model.NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	es, ok := s.execState[sessionID]
	if !ok {
		es = &model.ExecutionState{SessionID: sessionID, NodeStates: make(map[string]*model.NodeState)}
		s.execState[sessionID] = es
	}
	if es.NodeStates == nil {
		es.NodeStates = make(map[string]*model.NodeState)
	}
	es.NodeStates[qualifiedNodeID] = state
	es.CurrentNodeID = qualifiedNodeID
	return nil
}

// LLM executions

func (s *Store) SaveLLMExecution(ctx context.Context, exec *model.LLMExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmExecutions = append(s.llmExecutions, exec)
	s.execToSession[exec.ID] = exec.SessionID
	return nil
}

func (s *Store) GetLLMExecutionsBySession(ctx context.Context, sessionID string, opts store.ListOptions) ([]*model.LLMExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.LLMExecution, 0)
	for _, exec := range s.llmExecutions {
		if exec.SessionID == sessionID {
			out = append(out, exec)
		}
	}
	return paginate(out, opts), nil
}

func (s *Store) GetLLMExecutionsByNode(ctx context.Context, sessionID, nodeID string, opts store.ListOptions) ([]*model.LLMExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.LLMExecution, 0)
	for _, exec := range s.llmExecutions {
		if exec.SessionID == sessionID && exec.NodeID == nodeID {
			out = append(out, exec)
		}
	}
	return paginate(out, opts), nil
}

// Budget pools

func (s *Store) CreatePool(ctx context.Context, pool *model.BudgetPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool.ID] = pool
	return nil
}

func (s *Store) GetPool(ctx context.Context, id string) (*model.BudgetPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.pools[id]
	if !ok {
		return nil, coreerr.New(coreerr.KindPoolNotFound, "pool %s", id)
	}
	cp := *pool
	return &cp, nil
}

func (s *Store) UpdatePool(ctx context.Context, pool *model.BudgetPool, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.pools[pool.ID]
	if !ok {
		return coreerr.New(coreerr.KindPoolNotFound, "pool %s", pool.ID)
	}
	if cur.Version != expectedVersion {
		return coreerr.New(coreerr.KindVersionConflict, "pool %s: expected version %d, have %d", pool.ID, expectedVersion, cur.Version)
	}
	cp := *pool
	s.pools[pool.ID] = &cp
	return nil
}

func (s *Store) ListChildren(ctx context.Context, parentID string) ([]*model.BudgetPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.BudgetPool, 0)
	for _, pool := range s.pools {
		if pool.ParentPoolID == parentID {
			cp := *pool
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Tool calls

func (s *Store) LogToolCall(ctx context.Context, log model.ToolCallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls = append(s.toolCalls, &log)
	return nil
}

func (s *Store) GetToolCallsByExecution(ctx context.Context, executionID string) ([]*model.ToolCallLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ToolCallLog, 0)
	for _, tc := range s.toolCalls {
		if tc.ExecutionID == executionID {
			out = append(out, tc)
		}
	}
	return out, nil
}

func (s *Store) GetToolCallsBySession(ctx context.Context, sessionID string, opts store.ListOptions) ([]*model.ToolCallLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ToolCallLog, 0)
	for _, tc := range s.toolCalls {
		if s.execToSession[tc.ExecutionID] == sessionID {
			out = append(out, tc)
		}
	}
	return paginate(out, opts), nil
}

// Approvals

func (s *Store) CreateApproval(ctx context.Context, approval *model.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[approval.ID] = approval
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, coreerr.New(coreerr.KindApprovalNotFound, "approval %s", id)
	}
	return a, nil
}

func (s *Store) ListApprovalsBySession(ctx context.Context, sessionID string, opts store.ListOptions) ([]*model.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ApprovalRequest, 0)
	for _, a := range s.approvals {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return paginate(out, opts), nil
}

func (s *Store) ListPendingApprovals(ctx context.Context, opts store.ListOptions) ([]*model.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ApprovalRequest, 0)
	for _, a := range s.approvals {
		if a.Status == model.ApprovalPending {
			out = append(out, a)
		}
	}
	return paginate(out, opts), nil
}

func (s *Store) UpdateApproval(ctx context.Context, approval *model.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[approval.ID]; !ok {
		return coreerr.New(coreerr.KindApprovalNotFound, "approval %s", approval.ID)
	}
	s.approvals[approval.ID] = approval
	return nil
}

func (s *Store) ApproveRequest(ctx context.Context, id, approvedBy, notes string) (*model.ApprovalRequest, error) {
	return s.resolve(id, model.ApprovalApproved, approvedBy, notes)
}

func (s *Store) RejectRequest(ctx context.Context, id, rejectedBy, reason string) (*model.ApprovalRequest, error) {
	return s.resolve(id, model.ApprovalRejected, rejectedBy, reason)
}

func (s *Store) resolve(id string, status model.ApprovalStatus, resolvedBy, notes string) (*model.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, coreerr.New(coreerr.KindApprovalNotFound, "approval %s", id)
	}
	if a.Status != model.ApprovalPending {
		return nil, coreerr.New(coreerr.KindInvalidDefinition, "approval %s is not pending (status=%s)", id, a.Status)
	}
	now := time.Now()
	a.Status = status
	a.ResolvedBy = resolvedBy
	a.ResolutionNotes = notes
	a.ResolvedAt = &now
	return a, nil
}

// matchesWhere is a small equality-only filter: every key present in where
// must equal the corresponding field in fields. Absent keys match anything.
func matchesWhere(where map[string]interface{}, fields map[string]interface{}) bool {
	for k, want := range where {
		got, ok := fields[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func paginate[T any](items []T, opts store.ListOptions) []T {
	start := opts.Offset
	if start < 0 || start > len(items) {
		start = len(items)
	}
	items = items[start:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
