package strand

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strandworks/strand/runtime/audit"
	"github.com/strandworks/strand/runtime/model"
	"github.com/strandworks/strand/runtime/program"
	"github.com/strandworks/strand/runtime/workflow"
)

// agentCaller adapts the Runtime to the workflow engine's agent seam.
type agentCaller struct{ r *Runtime }

func (a agentCaller) CallAgent(ctx context.Context, agentID string, msgs []model.Message, params *model.Params) (*model.Response, error) {
	return a.r.ExecuteAgent(ctx, agentID, msgs, params)
}

// ExecuteAgent runs one completion for the agent. The agent's system prompt,
// when present, is prepended as a system message; the request then routes
// through the gateway per the agent's model reference. An agent-level policy
// is logged and not enforced: only tools, workflows and capabilities have a
// deny path.
func (r *Runtime) ExecuteAgent(ctx context.Context, agentID string, msgs []model.Message, params *model.Params) (*model.Response, error) {
	ctx, span := r.tracer.Start(ctx, "agent.execute")
	defer span.End()

	prog, gw, _ := r.snapshot()
	agent, ok := prog.Agent(agentID)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrAgentNotFound, agentID)
		span.RecordError(err)
		r.auditEvent(ctx, audit.Event{Event: "agent_execution", Agent: agentID}, err)
		return nil, err
	}
	if agent.Model == nil {
		err := fmt.Errorf("strand: agent %q has no model", agentID)
		span.RecordError(err)
		r.auditEvent(ctx, audit.Event{Event: "agent_execution", Agent: agentID}, err)
		return nil, err
	}
	if agent.PolicyID != "" {
		// Known gap carried deliberately: agent completions have no deny
		// path, the governing policy is only recorded.
		r.logger.Warn(ctx, "agent policy is not enforced on completions",
			"agent", agentID, "policy", agent.PolicyID)
	}
	if agent.SystemPrompt != "" {
		withSystem := make([]model.Message, 0, len(msgs)+1)
		withSystem = append(withSystem, model.Message{Role: model.RoleSystem, Content: agent.SystemPrompt})
		msgs = append(withSystem, msgs...)
	}

	resp, err := gw.Complete(ctx, agent.Model, msgs, params)
	r.auditEvent(ctx, audit.Event{Event: "agent_execution", Agent: agentID}, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return resp, nil
}

// CallWorkflow runs the workflow against the input with no policy in scope.
// Policy-governed runs happen through Emit, which derives the enforcer from
// the subscribing agent.
func (r *Runtime) CallWorkflow(ctx context.Context, workflowID string, input any) (workflow.Scope, error) {
	return r.callWorkflow(ctx, workflowID, input, nil)
}

func (r *Runtime) callWorkflow(ctx context.Context, workflowID string, input any, ec *workflow.ExecContext) (workflow.Scope, error) {
	prog, _, eng := r.snapshot()
	wf, ok := prog.Workflow(workflowID)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrWorkflowNotFound, workflowID)
		r.auditEvent(ctx, audit.Event{Event: "workflow_execution", Workflow: workflowID}, err)
		return nil, err
	}
	if ec != nil && ec.Enforcer != nil {
		if ec.State == nil {
			ec.State = &workflow.ExecState{Start: time.Now()}
		}
		ec.State.Depth++
		if err := ec.Enforcer.CheckWorkflowDepthLimit(ec.State.Depth); err != nil {
			r.auditEvent(ctx, audit.Event{Event: "workflow_execution", Workflow: workflowID}, err)
			return nil, err
		}
	}

	scope, err := eng.Execute(ctx, wf, input, ec)
	r.auditEvent(ctx, audit.Event{Event: "workflow_execution", Workflow: workflowID}, err)
	if err != nil {
		return nil, err
	}
	return scope, nil
}

// Emit dispatches the event to every subscribed handler: agents in
// declaration order, each agent's handlers in declaration order, strictly
// sequentially. The payload becomes the triggered workflow's input. A
// failing handler is recorded and later handlers still run; the joined
// handler failures are returned.
func (r *Runtime) Emit(ctx context.Context, event string, payload any) error {
	ctx, span := r.tracer.Start(ctx, "event.emit")
	defer span.End()

	prog, _, _ := r.snapshot()
	r.metrics.IncCounter("events_emitted_total", 1, "event", event)

	var errs []error
	for _, ag := range prog.Agents {
		for _, h := range ag.Handlers {
			if h.Event != event {
				continue
			}
			if err := r.runHandler(ctx, event, ag, h, payload); err != nil {
				span.RecordError(err)
				errs = append(errs, fmt.Errorf("agent %q handler for %q: %w", ag.ID, event, err))
			}
		}
	}
	return errors.Join(errs...)
}

// runHandler triggers one handler's workflow under the subscribing agent's
// policy: the workflow access check runs first, then the workflow itself
// with a fresh policy-scoped execution context.
func (r *Runtime) runHandler(ctx context.Context, event string, ag program.Agent, h program.EventHandler, payload any) error {
	enf := r.enforcer(ag.PolicyID)
	ev := audit.Event{
		Event:    "event_handler",
		Agent:    ag.ID,
		Workflow: h.Workflow,
		Metadata: map[string]any{"event": event},
	}
	if enf != nil {
		if err := enf.CheckWorkflowAccess(h.Workflow); err != nil {
			r.auditEvent(ctx, ev, err)
			return err
		}
	}
	var ec *workflow.ExecContext
	if enf != nil {
		ec = &workflow.ExecContext{Enforcer: enf, State: &workflow.ExecState{Start: time.Now()}}
	}
	_, err := r.callWorkflow(ctx, h.Workflow, payload, ec)
	r.auditEvent(ctx, ev, err)
	return err
}

// auditEvent derives the success flag and error text from err, stamps a run
// correlation id and hands the event to the audit logger.
func (r *Runtime) auditEvent(ctx context.Context, ev audit.Event, err error) {
	ev.Success = err == nil
	if err != nil {
		ev.Error = err.Error()
	}
	if ev.Metadata == nil {
		ev.Metadata = make(map[string]any, 1)
	}
	ev.Metadata["run_id"] = uuid.NewString()
	r.audit.Log(ctx, ev)
}
