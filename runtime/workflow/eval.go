package workflow

import "github.com/strandworks/strand/runtime/program"

// Eval evaluates an expression against the scope. It is pure and total:
// literals yield their value, references resolve against the scope with
// missing paths yielding nil, lists and maps evaluate element-wise preserving
// order and keys, and any other expression kind yields nil. Only step
// execution can fail, never input evaluation.
func Eval(expr program.Expression, scope Scope) any {
	switch v := expr.(type) {
	case program.Literal:
		return v.Value
	case program.Ref:
		out, _ := scope.Resolve(v.Path)
		return out
	case program.List:
		out := make([]any, len(v.Elems))
		for i, el := range v.Elems {
			out[i] = Eval(el, scope)
		}
		return out
	case program.Map:
		out := make(map[string]any, len(v.Entries))
		for k, entry := range v.Entries {
			out[k] = Eval(entry, scope)
		}
		return out
	default:
		return nil
	}
}

// evalInputs evaluates a block's input attributes against the scope.
func evalInputs(inputs map[string]program.Expression, scope Scope) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, expr := range inputs {
		out[k] = Eval(expr, scope)
	}
	return out
}
