package graph

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/lyzr/workflowcore/internal/coreerr"
)

// conditionEvaluator evaluates a Group edge's CEL condition against the
// producer's projected output and the group's context map, caching
// compiled programs by expression text. Grounded on the teacher's
// condition.Evaluator, minus the "$." JSONPath-compatibility rewrite
// (this spec's edges reference "output"/"ctx" directly).
type conditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{cache: make(map[string]cel.Program)}
}

func (e *conditionEvaluator) evaluate(expr string, output interface{}, groupContext map[string]interface{}) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"output": output,
		"ctx":    groupContext,
	})
	if err != nil {
		return false, coreerr.Wrap(coreerr.KindTypeMismatch, err, "evaluate edge condition %q", expr)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, coreerr.New(coreerr.KindTypeMismatch, "edge condition %q did not evaluate to a boolean, got %T", expr, out.Value())
	}
	return result, nil
}

func (e *conditionEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindTypeMismatch, err, "create CEL environment")
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, coreerr.Wrap(coreerr.KindTypeMismatch, issues.Err(), "compile edge condition %q", expr)
	}

	prg, err = env.Program(ast)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindTypeMismatch, err, fmt.Sprintf("build CEL program %q", expr))
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
