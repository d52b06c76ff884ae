package toolbridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/toolbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() model.Tool {
	return model.Tool{
		Name:        "echo",
		Description: "echoes its input back",
		InputSchema: toolbridge.WrapBareSchema(map[string]toolbridge.FieldSchema{
			"text": {Type: "string"},
		}),
		Execute: func(ctx model.ToolExecContext, input map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"echoed": input["text"]}, nil
		},
	}
}

func TestInvokeBareSchemaPassesArgsThrough(t *testing.T) {
	b := toolbridge.New(nil)
	entry, result, err := b.Invoke(context.Background(), echoTool(), echoTool().InputSchema, "", "sess-1", "node-1", map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result["echoed"])
	assert.Equal(t, "echo", entry.ToolName)
	assert.NotEmpty(t, entry.ToolCallID)
	assert.Empty(t, entry.Error)
}

func TestInvokeSynthesizesCallIDWhenMissing(t *testing.T) {
	b := toolbridge.New(nil)
	entry, _, err := b.Invoke(context.Background(), echoTool(), echoTool().InputSchema, "", "sess-1", "node-1", map[string]interface{}{"text": "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ToolCallID)
}

func TestInvokePreservesSuppliedCallID(t *testing.T) {
	b := toolbridge.New(nil)
	entry, _, err := b.Invoke(context.Background(), echoTool(), echoTool().InputSchema, "call-123", "sess-1", "node-1", map[string]interface{}{"text": "x"})
	require.NoError(t, err)
	assert.Equal(t, "call-123", entry.ToolCallID)
}

func TestInvokeStructuredSchemaRejectsInvalidArgs(t *testing.T) {
	tool := model.Tool{
		Name: "strict",
		InputSchema: toolbridge.NewStructuredSchema(func(args map[string]interface{}) (map[string]interface{}, error) {
			if _, ok := args["required"]; !ok {
				return nil, errors.New("missing required field")
			}
			return args, nil
		}),
		Execute: func(ctx model.ToolExecContext, input map[string]interface{}) (map[string]interface{}, error) {
			return input, nil
		},
	}

	b := toolbridge.New(nil)
	entry, result, err := b.Invoke(context.Background(), tool, tool.InputSchema, "", "sess-1", "node-1", map[string]interface{}{})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, entry.Error, "missing required field")
}

func TestInvokeDoesNotMaskToolError(t *testing.T) {
	tool := model.Tool{
		Name:        "failing",
		InputSchema: toolbridge.WrapBareSchema(nil),
		Execute: func(ctx model.ToolExecContext, input map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("boom")
		},
	}

	b := toolbridge.New(nil)
	entry, result, err := b.Invoke(context.Background(), tool, tool.InputSchema, "", "sess-1", "node-1", nil)
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, "boom", entry.Error)
	assert.Nil(t, result)
}

func TestInvokePropagatesToolExecContext(t *testing.T) {
	var gotCtx model.ToolExecContext
	tool := model.Tool{
		Name:        "ctxcheck",
		InputSchema: toolbridge.WrapBareSchema(nil),
		Execute: func(ctx model.ToolExecContext, input map[string]interface{}) (map[string]interface{}, error) {
			gotCtx = ctx
			return map[string]interface{}{}, nil
		},
	}

	b := toolbridge.New(nil)
	_, _, err := b.Invoke(context.Background(), tool, tool.InputSchema, "call-9", "sess-9", "node-9", nil)
	require.NoError(t, err)
	assert.Equal(t, "call-9", gotCtx.ToolCallID)
	assert.Equal(t, "sess-9", gotCtx.SessionID)
	assert.Equal(t, "node-9", gotCtx.NodeID)
}
