package llmexec_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lyzr/workflowcore/internal/llmexec"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/toolbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	resp llmexec.GenerateResponse
	err  error
	// capture what was sent, for assertions
	lastReq llmexec.GenerateRequest
}

func (p *fakeProvider) GenerateText(ctx context.Context, req llmexec.GenerateRequest) (llmexec.GenerateResponse, error) {
	p.lastReq = req
	if p.err != nil {
		return llmexec.GenerateResponse{}, p.err
	}
	return p.resp, nil
}

type fakeToolCallStore struct {
	mu   sync.Mutex
	logs []model.ToolCallLog
}

func (s *fakeToolCallStore) LogToolCall(ctx context.Context, log model.ToolCallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

func TestExecuteSerializesStringInputAsIs(t *testing.T) {
	provider := &fakeProvider{resp: llmexec.GenerateResponse{Text: "ok"}}
	exec := llmexec.New(provider, nil)

	result := exec.Execute(context.Background(), "hello world", llmexec.Options{Model: "test-model"})

	require.True(t, result.Success)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, "hello world", provider.lastReq.Prompt)
}

func TestExecuteSerializesStructInputAsJSON(t *testing.T) {
	provider := &fakeProvider{resp: llmexec.GenerateResponse{Text: "ok"}}
	exec := llmexec.New(provider, nil)

	result := exec.Execute(context.Background(), map[string]interface{}{"a": 1}, llmexec.Options{})

	require.True(t, result.Success)
	assert.JSONEq(t, `{"a":1}`, provider.lastReq.Prompt)
}

func TestExecuteReturnsFailedResultOnProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("provider unavailable")}
	exec := llmexec.New(provider, nil)

	result := exec.Execute(context.Background(), "hi", llmexec.Options{})

	assert.False(t, result.Success)
	assert.Equal(t, "provider unavailable", result.Error)
}

func TestExecuteWrapsToolsAndLogsInvocations(t *testing.T) {
	called := false
	tool := model.Tool{
		Name:        "lookup",
		InputSchema: toolbridge.WrapBareSchema(map[string]toolbridge.FieldSchema{"q": {Type: "string"}}),
		Execute: func(ctx model.ToolExecContext, input map[string]interface{}) (map[string]interface{}, error) {
			called = true
			return map[string]interface{}{"result": "found"}, nil
		},
	}

	store := &fakeToolCallStore{}
	provider := &fakeProvider{resp: llmexec.GenerateResponse{Text: "done"}}
	exec := llmexec.New(provider, nil)

	result := exec.Execute(context.Background(), "find it", llmexec.Options{
		Tools:     []model.Tool{tool},
		Storage:   store,
		SessionID: "sess-1",
		NodeID:    "node-1",
	})
	require.True(t, result.Success)

	require.Len(t, provider.lastReq.Tools, 1)
	out, err := provider.lastReq.Tools[0].Invoke(context.Background(), map[string]interface{}{"q": "x"})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "found", out["result"])

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.logs, 1)
	assert.Equal(t, "sess-1:node-1", store.logs[0].ExecutionID)
	assert.Equal(t, "lookup", store.logs[0].ToolName)
}

func TestExecuteToolLoggingFailureDoesNotMaskResult(t *testing.T) {
	tool := model.Tool{
		Name:        "noisy",
		InputSchema: toolbridge.WrapBareSchema(nil),
		Execute: func(ctx model.ToolExecContext, input map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"ok": true}, nil
		},
	}

	provider := &fakeProvider{resp: llmexec.GenerateResponse{Text: "done"}}
	exec := llmexec.New(provider, nil)

	result := exec.Execute(context.Background(), "go", llmexec.Options{
		Tools:     []model.Tool{tool},
		Storage:   failingStore{},
		SessionID: "s",
		NodeID:    "n",
	})
	require.True(t, result.Success)

	out, err := provider.lastReq.Tools[0].Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

type failingStore struct{}

func (failingStore) LogToolCall(ctx context.Context, log model.ToolCallLog) error {
	return errors.New("disk full")
}
