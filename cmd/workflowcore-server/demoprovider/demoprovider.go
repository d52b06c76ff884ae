// Package demoprovider is a placeholder llmexec.Provider that echoes its
// prompt back as text. The LLM provider client is an external
// collaborator (out of scope for the core); this stand-in exists only so
// cmd/workflowcore-server is runnable without wiring a real one.
package demoprovider

import (
	"context"

	"github.com/lyzr/workflowcore/internal/llmexec"
	"github.com/lyzr/workflowcore/internal/model"
)

// Provider echoes the prompt it was given. It never calls a tool and
// never fails.
type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) GenerateText(ctx context.Context, req llmexec.GenerateRequest) (llmexec.GenerateResponse, error) {
	tokens := int64(len(req.Prompt))
	return llmexec.GenerateResponse{
		Text: req.Prompt,
		Usage: &model.Usage{
			PromptTokens:     tokens,
			CompletionTokens: tokens,
			TotalTokens:      tokens * 2,
		},
	}, nil
}
