// Package transform implements the pure transform-expression evaluator
// (component C1): a small recursive interpreter over JSON-like values.
//
// Path resolution mirrors the teacher's node-reference resolver
// (cmd/workflow-runner/resolver.resolveNodeReference): marshal the current
// scope to JSON and query the dotted path with tidwall/gjson, which
// natively reports "not found" rather than panicking, matching the
// spec's "missing field yields the absent sentinel" requirement without
// a hand-rolled path walker.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lyzr/workflowcore/internal/coreerr"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/tidwall/gjson"
)

// Eval recursively interprets expr against data, starting path resolution
// at basePath. It is pure: no I/O, no randomness, no clock.
func Eval(expr *model.TransformExpr, data interface{}, basePath []string) (interface{}, error) {
	if expr == nil {
		return nil, coreerr.New(coreerr.KindUnknownExprKind, "nil transform expression")
	}

	switch expr.Kind {
	case model.ExprConst:
		return expr.Value, nil

	case model.ExprGet:
		v, _, err := resolve(data, append(append([]string{}, basePath...), expr.Path...))
		return v, err

	case model.ExprWith:
		return Eval(expr.Fn, data, append(append([]string{}, basePath...), expr.Path...))

	case model.ExprIf:
		return evalIf(expr, data, basePath)

	case model.ExprMap:
		return evalMap(expr, data, basePath)

	case model.ExprObject:
		out := make(map[string]interface{}, len(expr.Fields))
		for field, fieldExpr := range expr.Fields {
			v, err := Eval(fieldExpr, data, basePath)
			if err != nil {
				return nil, err
			}
			out[field] = v
		}
		return out, nil

	case model.ExprTaggedUnion:
		out := make(map[string]interface{}, len(expr.Fields)+1)
		out["tag"] = expr.Tag
		for field, fieldExpr := range expr.Fields {
			v, err := Eval(fieldExpr, data, basePath)
			if err != nil {
				return nil, err
			}
			out[field] = v
		}
		return out, nil

	default:
		return nil, coreerr.New(coreerr.KindUnknownExprKind, "unknown transform expr kind %q", expr.Kind)
	}
}

func evalIf(expr *model.TransformExpr, data interface{}, basePath []string) (interface{}, error) {
	v, _, err := resolve(data, append(append([]string{}, basePath...), expr.Path...))
	if err != nil {
		return nil, err
	}

	tag := dispatchTag(v)

	branch, ok := expr.Branches[tag]
	if !ok {
		return nil, coreerr.New(coreerr.KindNoMatchingBranch, "no branch matches tag %q", tag)
	}
	return Eval(branch, data, basePath)
}

// dispatchTag implements "if v is an object with a tag field, dispatch on
// v.tag; otherwise dispatch on the string form of v".
func dispatchTag(v interface{}) string {
	if m, ok := v.(map[string]interface{}); ok {
		if tag, ok := m["tag"].(string); ok {
			return tag
		}
	}
	return stringForm(v)
}

func stringForm(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

func evalMap(expr *model.TransformExpr, data interface{}, basePath []string) (interface{}, error) {
	v, _, err := resolve(data, append(append([]string{}, basePath...), expr.Path...))
	if err != nil {
		return nil, err
	}

	arr, ok := v.([]interface{})
	if !ok {
		return nil, coreerr.New(coreerr.KindTypeMismatch, "map expects an array at path, got %T", v)
	}

	out := make([]interface{}, len(arr))
	for i, elem := range arr {
		overlaid := overlayItem(data, elem)
		result, err := Eval(expr.Fn, overlaid, basePath)
		if err != nil {
			return nil, err
		}
		out[i] = result
	}
	return out, nil
}

// overlayItem implements "data overlaid with { item: <element> }": the
// element under evaluation becomes addressable as ["item", ...] alongside
// the rest of the original scope.
func overlayItem(data interface{}, item interface{}) interface{} {
	base, ok := data.(map[string]interface{})
	if !ok {
		return map[string]interface{}{"item": item}
	}
	out := make(map[string]interface{}, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out["item"] = item
	return out
}

// resolve looks up path against data using gjson, matching the absent
// sentinel (nil) on a missing field rather than erroring.
func resolve(data interface{}, path []string) (interface{}, bool, error) {
	if len(path) == 0 {
		return data, true, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false, coreerr.Wrap(coreerr.KindTypeMismatch, err, "marshal scope for path resolution")
	}

	result := gjson.GetBytes(raw, gjsonPath(path))
	if !result.Exists() {
		return nil, false, nil
	}
	return result.Value(), true, nil
}

// gjsonPath joins path segments into gjson's dotted syntax, escaping any
// literal dots within a segment so they aren't mistaken for separators.
func gjsonPath(path []string) string {
	escaped := make([]string, len(path))
	for i, seg := range path {
		escaped[i] = strings.ReplaceAll(seg, ".", `\.`)
	}
	return strings.Join(escaped, ".")
}
