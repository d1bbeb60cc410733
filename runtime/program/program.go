// Package program defines the in-memory representation of a validated
// agent/workflow program: agents, tools, workflows, model providers and
// policies. Values are produced by an external loader, resolved once into
// closed variant types (handlers, model references, credentials, block kinds)
// and treated as immutable afterwards. Nothing in this package re-parses
// configuration at execution time; dual-shaped source constructs are settled
// here, at load, so executors dispatch on types rather than strings.
package program

import "time"

type (
	// Program is the root of a loaded program. All slices preserve declaration
	// order; execution semantics (event dispatch, workflow steps) depend on it.
	// A Program is immutable once handed to a runtime; reloading replaces the
	// whole value.
	Program struct {
		// Agents lists the declared agents in declaration order.
		Agents []Agent

		// Tools lists the declared tools.
		Tools []Tool

		// Workflows lists the declared workflows.
		Workflows []Workflow

		// Providers lists the model provider configurations.
		Providers []Provider

		// Policies lists the access policies referenced by agents.
		Policies []Policy
	}

	// Agent couples a model reference with an optional system prompt, an
	// optional policy and event handler bindings.
	Agent struct {
		// ID uniquely identifies the agent within the program.
		ID string

		// Model references the model (or failover group) the agent completes
		// with. Nil when the agent only reacts to events.
		Model ModelRef

		// SystemPrompt is prepended as a system message on every completion.
		// Empty means no system message.
		SystemPrompt string

		// PolicyID names the policy governing this agent's activity. Empty means
		// unrestricted.
		PolicyID string

		// Handlers bind events to workflows; when an event is emitted every
		// matching handler triggers its workflow, in declaration order.
		Handlers []EventHandler
	}

	// EventHandler is an `on <event>` binding declared on an agent.
	EventHandler struct {
		// Event is the event name the handler subscribes to.
		Event string

		// Workflow names the workflow to run when the event fires.
		Workflow string
	}

	// Tool couples a resolved handler descriptor with an optional security
	// configuration. Tools without a security configuration run unsandboxed.
	Tool struct {
		// ID uniquely identifies the tool within the program.
		ID string

		// Handler is the resolved invocation target. See ParseHandler.
		Handler Handler

		// Security configures input validation, sandboxing and output limits.
		// Nil disables all of them.
		Security *SecurityConfig
	}

	// Workflow is an ordered list of named steps. Step order is declaration
	// order and is the execution order.
	Workflow struct {
		// ID uniquely identifies the workflow within the program.
		ID string

		// Steps are executed strictly in order. A workflow with no steps is a
		// valid no-op.
		Steps []Step
	}

	// Step names the result of evaluating one expression. Later steps reference
	// earlier results by name.
	Step struct {
		// Name keys the step result in the invocation scope.
		Name string

		// Expr is the expression evaluated for this step.
		Expr Expression
	}

	// Provider configures one model provider instance.
	Provider struct {
		// ID uniquely identifies the provider; model references use it as the
		// provider segment.
		ID string

		// Type selects the adapter: "openai", "anthropic" or "bedrock".
		Type string

		// Credential resolves to the provider API key. See Credential.
		Credential Credential

		// RateLimit bounds request admission. Nil applies the defaults
		// (60 requests per minute).
		RateLimit *RateLimit

		// BaseURL overrides the provider endpoint when set. Used for
		// OpenAI-compatible gateways and test servers.
		BaseURL string

		// DefaultModel is used when a model reference omits the model segment.
		DefaultModel string
	}

	// RateLimit configures a provider token bucket.
	RateLimit struct {
		// RequestsPerMinute is the sustained refill rate. Zero means the default
		// of 60.
		RequestsPerMinute int

		// Burst is the bucket capacity. Zero means equal to RequestsPerMinute.
		Burst int
	}

	// Policy declares allow/deny lists per resource kind plus resource limits.
	// Deny always wins over allow; an absent allow list permits everything not
	// denied, a present allow list permits only its members.
	Policy struct {
		// ID uniquely identifies the policy within the program.
		ID string

		// Allow lists explicitly permitted resources per kind. A nil list for a
		// kind means "no allow-list restriction" for that kind.
		Allow AccessLists

		// Deny lists explicitly forbidden resources per kind. Capabilities have
		// no deny list; they are allow-list only.
		Deny AccessLists

		// Limits bounds resource consumption. Zero-valued fields are unlimited.
		Limits ResourceLimits
	}

	// AccessLists groups the per-kind resource id lists of a policy.
	AccessLists struct {
		Tools        []string
		Workflows    []string
		Data         []string
		Capabilities []string
	}

	// ResourceLimits bounds what one policy-governed execution may consume.
	// Zero values mean unlimited.
	ResourceLimits struct {
		// MaxMemoryBytes caps tracked memory use. The runtime does not sample
		// process memory; the limit applies when a caller supplies its own
		// measurement.
		MaxMemoryBytes int64

		// MaxExecutionTime caps wall-clock time of a workflow invocation.
		MaxExecutionTime time.Duration

		// MaxToolCalls caps the number of tool steps per invocation.
		MaxToolCalls int

		// MaxWorkflowDepth caps nested workflow triggering.
		MaxWorkflowDepth int
	}
)

// Agent returns the agent with the given id.
func (p *Program) Agent(id string) (Agent, bool) {
	for _, a := range p.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// Tool returns the tool with the given id.
func (p *Program) Tool(id string) (Tool, bool) {
	for _, t := range p.Tools {
		if t.ID == id {
			return t, true
		}
	}
	return Tool{}, false
}

// Workflow returns the workflow with the given id.
func (p *Program) Workflow(id string) (Workflow, bool) {
	for _, w := range p.Workflows {
		if w.ID == id {
			return w, true
		}
	}
	return Workflow{}, false
}

// Provider returns the provider with the given id.
func (p *Program) Provider(id string) (Provider, bool) {
	for _, pr := range p.Providers {
		if pr.ID == id {
			return pr, true
		}
	}
	return Provider{}, false
}

// Policy returns the policy with the given id.
func (p *Program) Policy(id string) (Policy, bool) {
	for _, pol := range p.Policies {
		if pol.ID == id {
			return pol, true
		}
	}
	return Policy{}, false
}
