// Package workflow executes pre-validated workflow programs: ordered named
// steps whose expressions invoke tools inside a sandbox, delegate to agents,
// or acknowledge capabilities. Steps run strictly in declaration order so a
// step may reference any earlier step's result through the shared scope.
package workflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/strandworks/strand/runtime/audit"
	"github.com/strandworks/strand/runtime/model"
	"github.com/strandworks/strand/runtime/policy"
	"github.com/strandworks/strand/runtime/program"
	"github.com/strandworks/strand/runtime/sandbox"
	"github.com/strandworks/strand/runtime/telemetry"
)

type (
	// AgentCaller runs an agent on behalf of an agent step. Implemented by
	// the runtime core; the interface keeps the engine decoupled from its
	// embedder.
	AgentCaller interface {
		CallAgent(ctx context.Context, agentID string, msgs []model.Message, params *model.Params) (*model.Response, error)
	}

	// Options configures engine construction. Zero-value collaborators
	// default to no-ops; an engine without an AgentCaller fails agent steps.
	Options struct {
		Agents     AgentCaller
		Audit      audit.Logger
		Logger     telemetry.Logger
		Metrics    telemetry.Metrics
		Tracer     telemetry.Tracer
		HTTPClient *http.Client
	}

	// Engine executes workflows against one loaded program. Stateless across
	// invocations; safe for concurrent use.
	Engine struct {
		prog    *program.Program
		agents  AgentCaller
		audit   audit.Logger
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		client  *http.Client
	}

	// ExecContext carries the policy enforcer and execution counters for one
	// top-level execution, including nested workflow calls. A nil ExecContext
	// or nil Enforcer means unrestricted.
	ExecContext struct {
		Enforcer *policy.Enforcer
		State    *ExecState
	}

	// ExecState tracks counters the policy limit checks compare against.
	ExecState struct {
		// Start anchors the execution time limit.
		Start time.Time

		// ToolCalls counts tool invocations attempted so far, including the
		// one currently being admitted.
		ToolCalls int

		// Depth is the nested workflow call depth, checked on entry by the
		// runtime core.
		Depth int
	}
)

// New builds an engine over the program. Nil collaborators default to no-ops.
func New(prog *program.Program, opts Options) *Engine {
	e := &Engine{
		prog:    prog,
		agents:  opts.Agents,
		audit:   opts.Audit,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		client:  opts.HTTPClient,
	}
	if e.audit == nil {
		e.audit = audit.NewNopLogger()
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetrics()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNoopTracer()
	}
	return e
}

// Execute runs the workflow's steps in declaration order against a fresh
// scope seeded with {input: input}. A workflow with no steps is a valid
// no-op. Pure data steps evaluate into the scope; block steps with an
// unrecognized kind are skipped with a warning rather than failing. Any
// executed step's failure aborts the remainder and discards the partial
// scope; the error is returned in its place.
func (e *Engine) Execute(ctx context.Context, wf program.Workflow, input any, ec *ExecContext) (Scope, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.execute")
	defer span.End()

	start := time.Now()
	scope := Scope{"input": input}
	if len(wf.Steps) == 0 {
		return scope, nil
	}
	if ec == nil {
		ec = &ExecContext{}
	}
	if ec.State == nil {
		ec.State = &ExecState{Start: start}
	}

	for _, step := range wf.Steps {
		blk, ok := step.Expr.(program.Block)
		if !ok {
			// Pure data steps (literals, references, collections) evaluate
			// into the scope without executing anything.
			scope[step.Name] = Eval(step.Expr, scope)
			continue
		}

		var (
			result any
			err    error
		)
		switch blk.Kind {
		case program.BlockTool:
			result, err = e.runToolStep(ctx, wf.ID, blk, scope, ec)
		case program.BlockAgent:
			result, err = e.runAgentStep(ctx, wf.ID, step.Name, blk, scope)
		case program.BlockCapability:
			result, err = e.runCapabilityStep(blk, scope, ec)
		default:
			e.logger.Warn(ctx, "skipping unsupported step kind",
				"workflow", wf.ID, "step", step.Name, "kind", blk.Label)
			continue
		}
		if err != nil {
			span.RecordError(err)
			e.metrics.IncCounter("workflow_step_failures_total", 1, "workflow", wf.ID)
			return nil, err
		}
		scope[step.Name] = result

		if ec.Enforcer != nil {
			if lerr := ec.Enforcer.CheckExecutionTimeLimit(time.Since(ec.State.Start)); lerr != nil {
				span.RecordError(lerr)
				return nil, lerr
			}
		}
	}
	e.metrics.RecordTimer("workflow_duration", time.Since(start), "workflow", wf.ID)
	return scope, nil
}

func (e *Engine) runToolStep(ctx context.Context, workflowID string, blk program.Block, scope Scope, ec *ExecContext) (any, error) {
	tool, ok := e.prog.Tool(blk.Target)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrToolNotFound, blk.Target)
		e.auditTool(ctx, workflowID, blk.Target, err)
		return nil, err
	}
	if ec.Enforcer != nil {
		if err := ec.Enforcer.CheckToolAccess(tool.ID); err != nil {
			e.auditTool(ctx, workflowID, tool.ID, err)
			return nil, err
		}
		ec.State.ToolCalls++
		if err := ec.Enforcer.CheckToolCallsLimit(ec.State.ToolCalls); err != nil {
			e.auditTool(ctx, workflowID, tool.ID, err)
			return nil, err
		}
	}

	inputs := evalInputs(blk.Inputs, scope)

	// Each invocation gets a sandbox built from this tool's security config.
	sb := sandbox.New(tool.Security)
	result, err := sb.Invoke(ctx, sandbox.Invoker(tool.Handler, sb, e.client), inputs)
	if err != nil {
		e.auditTool(ctx, workflowID, tool.ID, err)
		return nil, err
	}
	e.auditTool(ctx, workflowID, tool.ID, nil)
	e.metrics.IncCounter("tool_invocations_total", 1, "tool", tool.ID)
	return result, nil
}

func (e *Engine) runAgentStep(ctx context.Context, workflowID, stepName string, blk program.Block, scope Scope) (any, error) {
	if e.agents == nil {
		return nil, fmt.Errorf("workflow %q step %q: no agent caller configured", workflowID, stepName)
	}
	inputs := evalInputs(blk.Inputs, scope)
	params := model.ParamsFromMap(asMap(inputs["params"]))
	resp, err := e.agents.CallAgent(ctx, blk.Target, messagesFromInputs(inputs), &params)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"content": resp.Content}
	if resp.Usage != nil {
		out["usage"] = map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// runCapabilityStep acknowledges a capability invocation. Capabilities have
// no execution backend yet; the step checks the allow-list when a policy is
// in scope and returns a placeholder acknowledgment.
func (e *Engine) runCapabilityStep(blk program.Block, scope Scope, ec *ExecContext) (any, error) {
	_ = evalInputs(blk.Inputs, scope)
	if ec.Enforcer != nil {
		if err := ec.Enforcer.CheckCapabilityAccess(blk.Target); err != nil {
			return nil, err
		}
	}
	return map[string]any{"success": true, "capability": blk.Target}, nil
}

func (e *Engine) auditTool(ctx context.Context, workflowID, toolID string, err error) {
	ev := audit.Event{
		Event:    "tool_execution",
		Success:  err == nil,
		Tool:     toolID,
		Workflow: workflowID,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.audit.Log(ctx, ev)
}

// messagesFromInputs builds the agent message list: inputs.message wraps as a
// single user message; otherwise inputs.messages is used verbatim; neither
// present means an empty list.
func messagesFromInputs(inputs map[string]any) []model.Message {
	if v, ok := inputs["message"]; ok && v != nil {
		content, ok := v.(string)
		if !ok {
			content = fmt.Sprint(v)
		}
		return []model.Message{{Role: model.RoleUser, Content: content}}
	}
	raw, ok := inputs["messages"].([]any)
	if !ok {
		return nil
	}
	msgs := make([]model.Message, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		if role == "" {
			role = model.RoleUser
		}
		content, _ := m["content"].(string)
		msgs = append(msgs, model.Message{Role: role, Content: content})
	}
	return msgs
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
