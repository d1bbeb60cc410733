// Package strand is a local execution runtime for pre-validated
// agent/workflow programs. A Runtime owns one loaded program.Program and
// composes the subsystems that execute it: the model gateway (provider
// registry, throttling, selection strategies), one policy enforcer per
// declared policy, and the workflow engine with its per-invocation tool
// sandboxes.
//
// Operations:
//   - ExecuteAgent runs one completion for a declared agent.
//   - CallWorkflow runs one workflow against an input value.
//   - Emit dispatches an event to every subscribed agent handler.
//
// The program is treated as immutable; Reload replaces it wholesale. The
// audit logger passed in Options is owned by the Runtime and released by
// Close.
package strand

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/strandworks/strand/features/provider/bedrock"
	"github.com/strandworks/strand/runtime/audit"
	"github.com/strandworks/strand/runtime/gateway"
	"github.com/strandworks/strand/runtime/policy"
	"github.com/strandworks/strand/runtime/program"
	"github.com/strandworks/strand/runtime/telemetry"
	"github.com/strandworks/strand/runtime/workflow"
)

type (
	// Options configures Runtime construction. Nil collaborators default to
	// no-ops.
	Options struct {
		// Audit receives tool, agent, workflow and event dispatch records.
		// The Runtime owns its lifecycle and closes it in Close.
		Audit audit.Logger

		// Logger, Metrics and Tracer observe runtime activity.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer

		// CredentialResolver resolves provider credential references. Nil
		// reads process environment variables for both reference kinds.
		CredentialResolver gateway.CredentialResolver

		// HTTPClient performs external tool handler calls. Nil uses
		// http.DefaultClient.
		HTTPClient *http.Client

		// BedrockRuntime backs providers of type "bedrock". Nil disables
		// them; other provider types are unaffected.
		BedrockRuntime bedrock.RuntimeClient

		// ClientFactory overrides the built-in provider adapter wiring. Nil
		// selects the openai, anthropic or bedrock adapter by provider type.
		ClientFactory gateway.ClientFactory
	}

	// Runtime holds the loaded program and the subsystems built from it.
	// All methods are safe for concurrent use; separate workflow invocations
	// interleave freely while steps within one invocation stay sequential.
	Runtime struct {
		audit    audit.Logger
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
		resolver gateway.CredentialResolver
		client   *http.Client
		factory  gateway.ClientFactory

		mu        sync.RWMutex
		prog      *program.Program
		gw        *gateway.Gateway
		engine    *workflow.Engine
		enforcers map[string]*policy.Enforcer
	}
)

// New builds a Runtime over the program: the gateway from its providers, one
// enforcer per declared policy and the workflow engine. A provider whose
// credential cannot be resolved or whose type is unrecognized is disabled
// and logged; construction itself only fails on a nil program.
func New(prog *program.Program, opts Options) (*Runtime, error) {
	if prog == nil {
		return nil, errors.New("strand: program is required")
	}
	r := &Runtime{
		audit:    opts.Audit,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		resolver: opts.CredentialResolver,
		client:   opts.HTTPClient,
		factory:  opts.ClientFactory,
	}
	if r.audit == nil {
		r.audit = audit.NewNopLogger()
	}
	if r.logger == nil {
		r.logger = telemetry.NewNoopLogger()
	}
	if r.metrics == nil {
		r.metrics = telemetry.NewNoopMetrics()
	}
	if r.tracer == nil {
		r.tracer = telemetry.NewNoopTracer()
	}
	if r.factory == nil {
		r.factory = defaultClientFactory(opts.BedrockRuntime)
	}
	if err := r.rebuild(prog); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the loaded program wholesale, rebuilding the gateway, the
// enforcers and the engine. Operations already in flight finish against the
// subsystems they started with; usage counters start from zero.
func (r *Runtime) Reload(prog *program.Program) error {
	if prog == nil {
		return errors.New("strand: program is required")
	}
	return r.rebuild(prog)
}

// Close releases the audit logger. The Runtime must not be used afterwards.
func (r *Runtime) Close() error {
	return r.audit.Close()
}

// Program returns the currently loaded program.
func (r *Runtime) Program() *program.Program {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prog
}

// Gateway returns the model gateway built from the current program.
func (r *Runtime) Gateway() *gateway.Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gw
}

func (r *Runtime) rebuild(prog *program.Program) error {
	gw, err := gateway.New(prog.Providers, gateway.Options{
		Factory:  r.factory,
		Resolver: r.resolver,
		Logger:   r.logger,
		Metrics:  r.metrics,
	})
	if err != nil {
		return err
	}
	enforcers := make(map[string]*policy.Enforcer, len(prog.Policies))
	for _, p := range prog.Policies {
		if _, exists := enforcers[p.ID]; exists {
			r.logger.Warn(context.Background(), "duplicate policy id, keeping first", "policy", p.ID)
			continue
		}
		enforcers[p.ID] = policy.NewEnforcer(p)
	}
	eng := workflow.New(prog, workflow.Options{
		Agents:     agentCaller{r},
		Audit:      r.audit,
		Logger:     r.logger,
		Metrics:    r.metrics,
		Tracer:     r.tracer,
		HTTPClient: r.client,
	})

	r.mu.Lock()
	r.prog, r.gw, r.engine, r.enforcers = prog, gw, eng, enforcers
	r.mu.Unlock()
	return nil
}

// snapshot returns the program, gateway and engine under one read lock so an
// operation runs against a consistent build across a concurrent Reload.
func (r *Runtime) snapshot() (*program.Program, *gateway.Gateway, *workflow.Engine) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prog, r.gw, r.engine
}

// enforcer returns the enforcer for the policy id. Empty and undeclared ids
// mean unrestricted.
func (r *Runtime) enforcer(id string) *policy.Enforcer {
	if id == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enforcers[id]
}
