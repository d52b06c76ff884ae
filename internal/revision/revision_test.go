package revision_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/revision"
	"github.com/lyzr/workflowcore/internal/store/memstore"
)

func baseWorkflow() *model.StoredWorkflow {
	return &model.StoredWorkflow{
		ID:      "wf-1",
		Name:    "greeter",
		Version: 1,
		Definition: &model.Node{
			Kind:       model.NodeKindGroup,
			EntryPoint: "entry",
			ExitPoint:  "exit",
			Nodes: map[string]*model.Node{
				"t1": {Kind: model.NodeKindTransform, Fn: &model.TransformExpr{Kind: model.ExprGet, Path: []string{"who"}}},
			},
			Edges: []model.Edge{
				{From: "entry", To: "t1"},
				{From: "t1", To: "exit"},
			},
		},
	}
}

func TestReviseAddsNodeAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.SaveWorkflow(ctx, baseWorkflow()))

	patch := []byte(`[
		{"op": "add", "path": "/nodes/t2", "value": {"kind": "transform", "fn": {"kind": "const", "value": "done"}}},
		{"op": "add", "path": "/edges/-", "value": {"from": "t1", "to": "t2"}}
	]`)

	reviser := revision.New(st, nil)
	revised, err := reviser.Revise(ctx, "wf-1", patch)
	require.NoError(t, err)
	assert.Equal(t, 2, revised.Version)
	require.Contains(t, revised.Definition.Nodes, "t2")
	assert.Equal(t, model.NodeKindTransform, revised.Definition.Nodes["t2"].Kind)

	stored, err := st.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
}

func TestReviseRejectsPatchThatBreaksNodeShape(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.SaveWorkflow(ctx, baseWorkflow()))

	// transform node with its "fn" removed is no longer a valid transform node.
	patch := []byte(`[{"op": "remove", "path": "/nodes/t1/fn"}]`)

	reviser := revision.New(st, nil)
	_, err := reviser.Revise(ctx, "wf-1", patch)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.KindInvalidDefinition))

	stored, err := st.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}

func TestReviseRejectsNonGroupRoot(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.SaveWorkflow(ctx, baseWorkflow()))

	patch := []byte(`[{"op": "replace", "path": "/kind", "value": "transform"}]`)

	reviser := revision.New(st, nil)
	_, err := reviser.Revise(ctx, "wf-1", patch)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.KindInvalidDefinition))
}

func TestReviseRejectsUnsupportedOperationType(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.SaveWorkflow(ctx, baseWorkflow()))

	// "test" is valid RFC6902 but unsupported by the operation validator.
	patch := []byte(`[{"op": "test", "path": "/nodes/t1", "value": {}}]`)

	reviser := revision.New(st, nil)
	_, err := reviser.Revise(ctx, "wf-1", patch)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.KindInvalidDefinition))

	stored, err := st.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}

func TestReviseMissingWorkflowReturnsNotFound(t *testing.T) {
	st := memstore.New()
	reviser := revision.New(st, nil)

	_, err := reviser.Revise(context.Background(), "nope", []byte(`[]`))
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.KindWorkflowNotFound))
}

func TestReviseDoesNotMutateEarlierSessionSnapshot(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	wf := baseWorkflow()
	require.NoError(t, st.SaveWorkflow(ctx, wf))

	// a session captured a snapshot of version 1 before any revision.
	snapshot := wf.Definition

	patch := []byte(`[{"op": "add", "path": "/nodes/t2", "value": {"kind": "transform", "fn": {"kind": "const", "value": "done"}}}]`)
	reviser := revision.New(st, nil)
	_, err := reviser.Revise(ctx, "wf-1", patch)
	require.NoError(t, err)

	assert.NotContains(t, snapshot.Nodes, "t2")
}
