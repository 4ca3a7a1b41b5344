// Package cel provides CEL condition compilation and evaluation for policies
package cel

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/secretshub/policy-core/pkg/types"
)

// Engine compiles and evaluates policy condition expressions.
// Compiled programs are cached by expression text.
type Engine struct {
	env      *cel.Env
	programs sync.Map // map[string]cel.Program
}

// NewEngine creates a CEL environment exposing the request contexts
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("environment", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// Compile validates an expression without evaluating it.
// Used by the policy validator to reject bad conditions before versioning.
func (e *Engine) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Evaluate evaluates a condition against a request. Any compile or runtime
// error yields false: a malformed condition must never grant access.
func (e *Engine) Evaluate(expr string, req *types.EvaluationRequest) bool {
	prg, err := e.program(expr)
	if err != nil {
		return false
	}

	vars := map[string]interface{}{
		"user":        map[string]interface{}{},
		"resource":    map[string]interface{}{},
		"environment": map[string]interface{}{},
	}
	if req.User != nil {
		vars["user"] = req.User.ToMap()
	}
	if req.Resource != nil {
		vars["resource"] = req.Resource.ToMap()
	}
	if req.Environment != nil {
		vars["environment"] = req.Environment.ToMap()
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false
	}

	result, ok := out.Value().(bool)
	return ok && result
}

// program returns the compiled program for an expression, compiling on first use
func (e *Engine) program(expr string) (cel.Program, error) {
	if cached, ok := e.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program: %w", err)
	}

	e.programs.Store(expr, prg)
	return prg, nil
}
