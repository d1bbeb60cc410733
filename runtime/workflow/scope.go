package workflow

// Scope is the per-invocation mapping from step name to produced value. The
// reserved key "input" holds the workflow input; later steps read earlier
// results by name. Each invocation owns a fresh scope.
type Scope map[string]any

// Resolve walks a dotted reference path through nested maps. A missing
// segment at any depth yields (nil, false), never an error, so reference
// evaluation stays total.
func (s Scope) Resolve(path []string) (any, bool) {
	var cur any = map[string]any(s)
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
