package program

type (
	// Expression is a workflow step expression. Implementations are exactly
	// Literal, Ref, List, Map and Block; the loader produces no other shapes.
	Expression interface {
		isExpression()
	}

	// Literal is a constant value (string, number, bool, nil).
	Literal struct {
		// Value is the constant. Numeric literals are float64, matching JSON
		// decoding of source programs.
		Value any
	}

	// Ref reads a value from the invocation scope by path. Evaluation never
	// fails: any missing segment yields nil.
	Ref struct {
		// Path is the dotted reference split into segments, e.g. "s1.content"
		// becomes ["s1", "content"]. Never empty.
		Path []string
	}

	// List evaluates to a slice, element order preserved.
	List struct {
		Elems []Expression
	}

	// Map evaluates to a map with the same keys and evaluated values.
	Map struct {
		Entries map[string]Expression
	}

	// Block invokes a tool, agent or capability with evaluated inputs. It is
	// the only expression with effects; steps with any other expression shape
	// evaluate purely into the invocation scope.
	Block struct {
		// Kind dispatches the invocation. BlockUnsupported preserves the source
		// label of kinds this runtime does not execute; such steps are skipped
		// with a warning.
		Kind BlockKind

		// Label is the raw source kind label, kept for diagnostics when Kind is
		// BlockUnsupported.
		Label string

		// Target is the invoked tool id, agent id or capability name.
		Target string

		// Inputs are the named argument expressions, evaluated against the
		// invocation scope before dispatch.
		Inputs map[string]Expression
	}

	// BlockKind is the closed set of block invocation kinds.
	BlockKind int
)

const (
	// BlockUnsupported marks a source kind label this runtime does not execute.
	BlockUnsupported BlockKind = iota
	// BlockTool invokes a declared tool through its sandbox.
	BlockTool
	// BlockAgent runs a declared agent completion.
	BlockAgent
	// BlockCapability acknowledges a declared capability extension point.
	BlockCapability
)

func (Literal) isExpression() {}
func (Ref) isExpression()     {}
func (List) isExpression()    {}
func (Map) isExpression()     {}
func (Block) isExpression()   {}

// BlockKindOf maps a source kind label to its BlockKind. Unknown labels map
// to BlockUnsupported; callers keep the label for diagnostics.
func BlockKindOf(label string) BlockKind {
	switch label {
	case "tool":
		return BlockTool
	case "agent":
		return BlockAgent
	case "capability":
		return BlockCapability
	default:
		return BlockUnsupported
	}
}

// String returns the canonical label of the kind.
func (k BlockKind) String() string {
	switch k {
	case BlockTool:
		return "tool"
	case BlockAgent:
		return "agent"
	case BlockCapability:
		return "capability"
	default:
		return "unsupported"
	}
}
