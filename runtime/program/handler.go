package program

import "strings"

type (
	// Handler is a tool's resolved invocation target. Implementations are
	// exactly ExternalHTTP, Passthrough and Unsupported. Descriptors are parsed
	// once by ParseHandler at load; executors dispatch on the concrete type and
	// never see the source string again.
	Handler interface {
		isHandler()
	}

	// ExternalHTTP posts the evaluated tool inputs as JSON to URL and decodes
	// the JSON response as the tool result.
	ExternalHTTP struct {
		// URL is the handler endpoint.
		URL string
	}

	// Passthrough echoes the evaluated inputs back as the tool result. Declared
	// with an empty handler descriptor; useful for development and tests.
	Passthrough struct{}

	// Unsupported preserves a handler descriptor this runtime cannot invoke.
	// Invoking it fails without performing any I/O.
	Unsupported struct {
		// Raw is the original descriptor, kept for the error message.
		Raw string
	}
)

func (ExternalHTTP) isHandler() {}
func (Passthrough) isHandler()  {}
func (Unsupported) isHandler()  {}

// ParseHandler resolves a tool handler descriptor into its Handler variant.
// Recognized shapes are `external("<url>")` and the empty descriptor
// (passthrough). Anything else resolves to Unsupported; the descriptor is
// never re-parsed at invocation time.
func ParseHandler(desc string) Handler {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return Passthrough{}
	}
	const prefix, suffix = `external("`, `")`
	if strings.HasPrefix(desc, prefix) && strings.HasSuffix(desc, suffix) {
		url := desc[len(prefix) : len(desc)-len(suffix)]
		if url != "" {
			return ExternalHTTP{URL: url}
		}
	}
	return Unsupported{Raw: desc}
}
