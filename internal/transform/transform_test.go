package transform_test

import (
	"testing"

	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalConst(t *testing.T) {
	v, err := transform.Eval(&model.TransformExpr{Kind: model.ExprConst, Value: "hi"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", v)
}

func TestEvalGet(t *testing.T) {
	data := map[string]interface{}{"who": "Ada"}
	v, err := transform.Eval(&model.TransformExpr{Kind: model.ExprGet, Path: []string{"who"}}, data, nil)
	require.NoError(t, err)
	assert.Equal(t, "Ada", v)
}

func TestEvalGetMissingReturnsAbsentSentinel(t *testing.T) {
	data := map[string]interface{}{"who": "Ada"}
	v, err := transform.Eval(&model.TransformExpr{Kind: model.ExprGet, Path: []string{"nope"}}, data, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestEvalObjectScenarioA(t *testing.T) {
	expr := &model.TransformExpr{
		Kind: model.ExprObject,
		Fields: map[string]*model.TransformExpr{
			"greeting": {Kind: model.ExprConst, Value: "hi"},
			"name":     {Kind: model.ExprGet, Path: []string{"who"}},
		},
	}
	data := map[string]interface{}{"who": "Ada"}
	v, err := transform.Eval(expr, data, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"greeting": "hi", "name": "Ada"}, v)
}

func TestEvalWithPrefix(t *testing.T) {
	expr := &model.TransformExpr{
		Kind: model.ExprWith,
		Path: []string{"user"},
		Fn:   &model.TransformExpr{Kind: model.ExprGet, Path: []string{"name"}},
	}
	data := map[string]interface{}{"user": map[string]interface{}{"name": "Ada"}}
	v, err := transform.Eval(expr, data, nil)
	require.NoError(t, err)
	assert.Equal(t, "Ada", v)
}

func TestEvalIfDispatchesOnTag(t *testing.T) {
	expr := &model.TransformExpr{
		Kind: model.ExprIf,
		Branches: map[string]*model.TransformExpr{
			"ok":  {Kind: model.ExprConst, Value: "good"},
			"err": {Kind: model.ExprConst, Value: "bad"},
		},
	}
	data := map[string]interface{}{"tag": "ok"}
	v, err := transform.Eval(expr, data, nil)
	require.NoError(t, err)
	assert.Equal(t, "good", v)
}

func TestEvalIfNoMatchingBranch(t *testing.T) {
	expr := &model.TransformExpr{
		Kind:     model.ExprIf,
		Branches: map[string]*model.TransformExpr{"ok": {Kind: model.ExprConst, Value: "good"}},
	}
	data := map[string]interface{}{"tag": "missing"}
	_, err := transform.Eval(expr, data, nil)
	require.Error(t, err)
	assert.Equal(t, coreerr.KindNoMatchingBranch, coreerr.KindOf(err))
}

func TestEvalMapOverArray(t *testing.T) {
	expr := &model.TransformExpr{
		Kind: model.ExprMap,
		Path: []string{"items"},
		Fn:   &model.TransformExpr{Kind: model.ExprGet, Path: []string{"item"}},
	}
	data := map[string]interface{}{"items": []interface{}{"a", "b", "c"}}
	v, err := transform.Eval(expr, data, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b", "c"}, v)
}

func TestEvalMapOnNonArrayFailsTypeMismatch(t *testing.T) {
	expr := &model.TransformExpr{
		Kind: model.ExprMap,
		Path: []string{"items"},
		Fn:   &model.TransformExpr{Kind: model.ExprGet, Path: []string{"item"}},
	}
	data := map[string]interface{}{"items": "not an array"}
	_, err := transform.Eval(expr, data, nil)
	require.Error(t, err)
	assert.Equal(t, coreerr.KindTypeMismatch, coreerr.KindOf(err))
}

func TestEvalTaggedUnion(t *testing.T) {
	expr := &model.TransformExpr{
		Kind: model.ExprTaggedUnion,
		Tag:  "wrapped",
		Fields: map[string]*model.TransformExpr{
			"value": {Kind: model.ExprGet, Path: []string{"x"}},
		},
	}
	data := map[string]interface{}{"x": 42.0}
	v, err := transform.Eval(expr, data, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"tag": "wrapped", "value": 42.0}, v)
}

func TestEvalPurity(t *testing.T) {
	expr := &model.TransformExpr{
		Kind: model.ExprObject,
		Fields: map[string]*model.TransformExpr{
			"greeting": {Kind: model.ExprConst, Value: "hi"},
			"name":     {Kind: model.ExprGet, Path: []string{"who"}},
		},
	}
	data := map[string]interface{}{"who": "Ada"}
	v1, err1 := transform.Eval(expr, data, nil)
	v2, err2 := transform.Eval(expr, data, nil)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, v1, v2)
}
