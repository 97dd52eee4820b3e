package match

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// CELPredicate evaluates a CEL expression over the target and
// asserting objects, for deployments whose authorization rule is not a
// dotted-path subset check. The expression sees two map variables,
// `target` and `asserting`, and must evaluate to a boolean.
//
// Example expression:
//
//	asserting.creator == target.creator || "trusted" in asserting.roles
type CELPredicate struct {
	program cel.Program
}

// NewCELPredicate compiles the expression. Compilation errors surface
// here; evaluation errors at match time fail closed.
func NewCELPredicate(expression string) (*CELPredicate, error) {
	env, err := cel.NewEnv(
		cel.Variable("target", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("asserting", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("match: create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("match: compile %q: %w", expression, issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("match: build program: %w", err)
	}

	return &CELPredicate{program: program}, nil
}

// Matches evaluates the expression. A runtime error (such as a missing
// key) denies authorization rather than failing the merge.
func (p *CELPredicate) Matches(target, asserting map[string]any) bool {
	out, _, err := p.program.Eval(map[string]any{
		"target":    target,
		"asserting": asserting,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
