// Package toolbridge adapts caller-supplied tools to the LLM provider's
// tool schema (component C3): schema wrapping, call-id synthesis, and
// best-effort invocation logging.
package toolbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflowcore/common/logger"
	"github.com/lyzr/workflowcore/internal/model"
)

// ToolSchema, SchemaKind, FieldSchema and ParseFunc are defined in
// internal/model, since model.Tool.InputSchema embeds a ToolSchema and
// model has no internal dependencies to host them for. Aliased here so
// callers can keep writing toolbridge.ToolSchema / toolbridge.WrapBareSchema.
type (
	SchemaKind  = model.SchemaKind
	FieldSchema = model.FieldSchema
	ParseFunc   = model.ParseFunc
	ToolSchema  = model.ToolSchema
)

const (
	SchemaBare       = model.SchemaBare
	SchemaStructured = model.SchemaStructured
)

// WrapBareSchema wraps a bare field record as a ToolSchema.
func WrapBareSchema(fields map[string]FieldSchema) ToolSchema {
	return model.WrapBareSchema(fields)
}

// NewStructuredSchema builds a ToolSchema backed by a Parse function.
func NewStructuredSchema(parse ParseFunc) ToolSchema {
	return model.NewStructuredSchema(parse)
}

// Bridge wraps tool invocation with call-id synthesis and logging.
type Bridge struct {
	log *logger.Logger
}

// New creates a Bridge.
func New(log *logger.Logger) *Bridge {
	return &Bridge{log: log}
}

// Invoke validates args against schema, synthesizes a toolCallID when the
// provider did not supply one, calls tool.Execute, and returns a
// ToolCallLog alongside the result. Logging is best-effort: a logging
// failure never masks the tool's own result or error.
func (b *Bridge) Invoke(ctx context.Context, tool model.Tool, schema ToolSchema, toolCallID, sessionID, nodeID string, args map[string]interface{}) (model.ToolCallLog, map[string]interface{}, error) {
	if toolCallID == "" {
		toolCallID = uuid.NewString()
	}

	validated, err := schema.Validate(args)
	if err != nil {
		log := model.ToolCallLog{
			ToolCallID: toolCallID,
			ToolName:   tool.Name,
			Args:       args,
			Error:      err.Error(),
			Timestamp:  time.Now(),
		}
		return log, nil, fmt.Errorf("tool %s: invalid args: %w", tool.Name, err)
	}

	start := time.Now()
	result, execErr := tool.Execute(model.ToolExecContext{
		ToolCallID: toolCallID,
		SessionID:  sessionID,
		NodeID:     nodeID,
	}, validated)
	duration := time.Since(start)

	entry := model.ToolCallLog{
		ToolCallID: toolCallID,
		ToolName:   tool.Name,
		Args:       validated,
		Result:     result,
		Timestamp:  start,
		Duration:   duration,
	}
	if execErr != nil {
		entry.Error = execErr.Error()
	}

	b.logInvocation(entry, sessionID, nodeID)

	return entry, result, execErr
}

func (b *Bridge) logInvocation(entry model.ToolCallLog, sessionID, nodeID string) {
	if b.log == nil {
		return
	}
	if entry.Error != "" {
		b.log.Warn("tool invocation failed",
			"session_id", sessionID,
			"node_id", nodeID,
			"tool", entry.ToolName,
			"tool_call_id", entry.ToolCallID,
			"duration_ms", entry.Duration.Milliseconds(),
			"error", entry.Error,
		)
		return
	}
	b.log.Debug("tool invocation",
		"session_id", sessionID,
		"node_id", nodeID,
		"tool", entry.ToolName,
		"tool_call_id", entry.ToolCallID,
		"duration_ms", entry.Duration.Milliseconds(),
	)
}
