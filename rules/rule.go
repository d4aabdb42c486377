package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator defines the interface for evaluating rule expressions.
type Evaluator interface {
	Evaluate(expression string, env map[string]any) (bool, error)
}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
// Compiled programs are cached per expression.
type ExprEvaluator struct {
	cache    map[string]*vm.Program
	mu       sync.RWMutex
	envFuncs map[string]func(env map[string]any) any
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:    make(map[string]*vm.Program),
		envFuncs: make(map[string]func(map[string]any) any),
	}
}

// AddEnvFunc registers a value computed from the environment before every evaluation.
func (e *ExprEvaluator) AddEnvFunc(name string, f func(env map[string]any) any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.envFuncs[name] = f
}

// Evaluate evaluates the given expression against env. Unknown variables
// evaluate to nil. The expression must yield a boolean.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]any) (bool, error) {
	scope := make(map[string]any, len(env)+len(e.envFuncs))
	for k, v := range env {
		scope[k] = v
	}

	e.mu.RLock()
	for k, f := range e.envFuncs {
		scope[k] = f(env)
	}
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(scope), expr.AllowUndefinedVariables(), expr.AsBool())
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("failed to compile expression '%s': %w", expression, err)
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, scope)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}
