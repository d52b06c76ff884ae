// Package llmexec implements the LLM executor (component C4): a single
// LLM call with tool loop, retry, and usage accounting. The executor
// never throws on provider failure; it returns a failed Result, which
// the graph executor converts into a node failure.
package llmexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lyzr/workflowcore/common/logger"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/toolbridge"
)

// ProviderTool is the provider-shaped wrapping of a caller tool: the
// provider calls Invoke whenever the model decides to call this tool,
// looping tool-call/response internally per the spec's provider contract.
type ProviderTool struct {
	Name        string
	Description string
	InputSchema model.ToolSchema
	Invoke      func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// GenerateRequest is the LLM provider contract's request shape.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Tools       []ProviderTool
	MaxRetries  int
	Temperature float64
	MaxTokens   int
}

// GenerateResponse is the LLM provider contract's response shape.
type GenerateResponse struct {
	Text      string
	ToolCalls []model.ToolCallRecord
	Usage     *model.Usage
}

// Provider is the external LLM provider collaborator (out of scope per
// the spec; implementations live outside this module).
type Provider interface {
	GenerateText(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// ToolCallStore persists ToolCallLog rows as tools are invoked.
type ToolCallStore interface {
	LogToolCall(ctx context.Context, log model.ToolCallLog) error
}

// Options configures one Execute call.
type Options struct {
	Model      string
	System     string
	Tools      []model.Tool
	MaxRetries int

	Storage   ToolCallStore
	SessionID string
	NodeID    string
}

// Result is the LLM executor's output, mirroring the spec's
// {success, text?, toolCalls?, usage?, error?} contract.
type Result struct {
	Success   bool
	Text      string
	ToolCalls []model.ToolCallRecord
	Usage     *model.Usage
	Error     string
}

// Executor runs LLM node executions.
type Executor struct {
	provider Provider
	bridge   *toolbridge.Bridge
	log      *logger.Logger
}

// New creates an Executor.
func New(provider Provider, log *logger.Logger) *Executor {
	return &Executor{provider: provider, bridge: toolbridge.New(log), log: log}
}

// Execute serializes input to a prompt, wraps the declared tools, invokes
// the provider with the given retry budget, and returns a Result. It
// never returns a Go error for provider failures — those are reported as
// Result{Success: false}.
func (e *Executor) Execute(ctx context.Context, input interface{}, opts Options) Result {
	prompt, err := toPrompt(input)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("serialize input: %v", err)}
	}

	var mu sync.Mutex
	executionID := opts.SessionID + ":" + opts.NodeID

	providerTools := make([]ProviderTool, len(opts.Tools))
	for i, tool := range opts.Tools {
		tool := tool // capture
		providerTools[i] = ProviderTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Invoke: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
				entry, result, err := e.bridge.Invoke(ctx, tool, tool.InputSchema, "", opts.SessionID, opts.NodeID, args)
				entry.ExecutionID = executionID
				mu.Lock()
				defer mu.Unlock()
				if opts.Storage != nil {
					// Best-effort: a logging failure must not mask the tool's result.
					if logErr := opts.Storage.LogToolCall(ctx, entry); logErr != nil && e.log != nil {
						e.log.Warn("failed to persist tool call log", "error", logErr)
					}
				}
				return result, err
			},
		}
	}

	resp, err := e.provider.GenerateText(ctx, GenerateRequest{
		Model:      opts.Model,
		System:     opts.System,
		Prompt:     prompt,
		Tools:      providerTools,
		MaxRetries: opts.MaxRetries,
	})
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	return Result{
		Success:   true,
		Text:      resp.Text,
		ToolCalls: resp.ToolCalls,
		Usage:     resp.Usage,
	}
}

// toPrompt serializes input: strings pass through, everything else is
// canonical JSON.
func toPrompt(input interface{}) (string, error) {
	if s, ok := input.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
