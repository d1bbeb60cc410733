package workflow_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strandworks/strand/runtime/audit"
	"github.com/strandworks/strand/runtime/model"
	"github.com/strandworks/strand/runtime/policy"
	"github.com/strandworks/strand/runtime/program"
	"github.com/strandworks/strand/runtime/workflow"
)

type stubAgents struct {
	mu     sync.Mutex
	agent  string
	msgs   []model.Message
	params *model.Params
	resp   *model.Response
	err    error
}

func (s *stubAgents) CallAgent(_ context.Context, agentID string, msgs []model.Message, params *model.Params) (*model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent = agentID
	s.msgs = msgs
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

type captureAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureAudit) Log(_ context.Context, e audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureAudit) Close() error { return nil }

func (c *captureAudit) byEvent(name string) []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []audit.Event
	for _, e := range c.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func echoProgram() *program.Program {
	return &program.Program{Tools: []program.Tool{{ID: "echo", Handler: program.Passthrough{}}}}
}

func toolStep(name, target string) program.Step {
	return program.Step{Name: name, Expr: program.Block{Kind: program.BlockTool, Label: "tool", Target: target}}
}

func TestExecuteEmptyWorkflow(t *testing.T) {
	eng := workflow.New(&program.Program{}, workflow.Options{})

	scope, err := eng.Execute(context.Background(), program.Workflow{ID: "wf"}, map[string]any{"k": "v"}, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.Scope{"input": map[string]any{"k": "v"}}, scope)
}

func TestExecuteDataStepsEvaluateIntoScope(t *testing.T) {
	wf := program.Workflow{ID: "wf", Steps: []program.Step{
		{Name: "s1", Expr: program.Literal{Value: float64(10)}},
		{Name: "s2", Expr: program.Ref{Path: []string{"s1"}}},
	}}
	eng := workflow.New(&program.Program{}, workflow.Options{})

	scope, err := eng.Execute(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	require.Equal(t, float64(10), scope["s1"])
	require.Equal(t, float64(10), scope["s2"])
}

func TestExecuteToolResultFlowsToReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`10`))
	}))
	defer srv.Close()

	prog := &program.Program{Tools: []program.Tool{{ID: "ten", Handler: program.ExternalHTTP{URL: srv.URL}}}}
	wf := program.Workflow{ID: "wf", Steps: []program.Step{
		toolStep("s1", "ten"),
		{Name: "s2", Expr: program.Ref{Path: []string{"s1"}}},
	}}
	eng := workflow.New(prog, workflow.Options{})

	scope, err := eng.Execute(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	require.Equal(t, float64(10), scope["s1"])
	require.Equal(t, float64(10), scope["s2"])
}

func TestExecuteToolStepEvaluatesInputs(t *testing.T) {
	wf := program.Workflow{ID: "wf", Steps: []program.Step{{
		Name: "s1",
		Expr: program.Block{
			Kind:   program.BlockTool,
			Target: "echo",
			Inputs: map[string]program.Expression{
				"city":  program.Ref{Path: []string{"input", "city"}},
				"units": program.Literal{Value: "metric"},
			},
		},
	}}}
	eng := workflow.New(echoProgram(), workflow.Options{})

	scope, err := eng.Execute(context.Background(), wf, map[string]any{"city": "Oslo"}, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"city": "Oslo", "units": "metric"}, scope["s1"])
}

func TestExecuteSkipsUnsupportedBlockKind(t *testing.T) {
	wf := program.Workflow{ID: "wf", Steps: []program.Step{
		{Name: "s1", Expr: program.Block{Kind: program.BlockUnsupported, Label: "memory", Target: "recall"}},
		{Name: "s2", Expr: program.Literal{Value: "after"}},
	}}
	eng := workflow.New(&program.Program{}, workflow.Options{})

	scope, err := eng.Execute(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	require.NotContains(t, scope, "s1")
	require.Equal(t, "after", scope["s2"])
}

func TestExecuteToolNotFound(t *testing.T) {
	sink := &captureAudit{}
	wf := program.Workflow{ID: "wf", Steps: []program.Step{toolStep("s1", "ghost")}}
	eng := workflow.New(&program.Program{}, workflow.Options{Audit: sink})

	scope, err := eng.Execute(context.Background(), wf, nil, nil)
	require.ErrorIs(t, err, workflow.ErrToolNotFound)
	require.ErrorContains(t, err, `"ghost"`)
	require.Nil(t, scope)

	events := sink.byEvent("tool_execution")
	require.Len(t, events, 1)
	require.False(t, events[0].Success)
	require.Equal(t, "ghost", events[0].Tool)
	require.Equal(t, "wf", events[0].Workflow)
}

func TestExecuteStepFailureDiscardsScope(t *testing.T) {
	prog := &program.Program{Tools: []program.Tool{
		{ID: "echo", Handler: program.Passthrough{}},
		{ID: "down", Handler: program.ExternalHTTP{URL: "http://127.0.0.1:1/echo"}},
	}}
	wf := program.Workflow{ID: "wf", Steps: []program.Step{
		toolStep("s1", "echo"),
		toolStep("s2", "down"),
	}}
	eng := workflow.New(prog, workflow.Options{})

	scope, err := eng.Execute(context.Background(), wf, nil, nil)
	require.ErrorContains(t, err, "tool handler failed")
	require.Nil(t, scope)
}

func TestExecuteToolAccessDenied(t *testing.T) {
	sink := &captureAudit{}
	enf := policy.NewEnforcer(program.Policy{
		ID:   "locked",
		Deny: program.AccessLists{Tools: []string{"echo"}},
	})
	wf := program.Workflow{ID: "wf", Steps: []program.Step{toolStep("s1", "echo")}}
	eng := workflow.New(echoProgram(), workflow.Options{Audit: sink})

	scope, err := eng.Execute(context.Background(), wf, nil, &workflow.ExecContext{Enforcer: enf})
	var perr *policy.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, policy.KindTool, perr.Kind)
	require.Equal(t, policy.RuleDenied, perr.Rule)
	require.Nil(t, scope)

	events := sink.byEvent("tool_execution")
	require.Len(t, events, 1)
	require.False(t, events[0].Success)
	require.Equal(t, "echo", events[0].Tool)
}

func TestExecuteToolCallsLimit(t *testing.T) {
	enf := policy.NewEnforcer(program.Policy{
		ID:     "budget",
		Limits: program.ResourceLimits{MaxToolCalls: 1},
	})
	wf := program.Workflow{ID: "wf", Steps: []program.Step{
		toolStep("s1", "echo"),
		toolStep("s2", "echo"),
	}}
	eng := workflow.New(echoProgram(), workflow.Options{})

	scope, err := eng.Execute(context.Background(), wf, nil, &workflow.ExecContext{Enforcer: enf})
	var perr *policy.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, policy.LimitToolCalls, perr.Kind)
	require.Equal(t, policy.RuleExceeded, perr.Rule)
	require.Nil(t, scope)
}

func TestExecuteExecutionTimeLimit(t *testing.T) {
	enf := policy.NewEnforcer(program.Policy{
		ID:     "deadline",
		Limits: program.ResourceLimits{MaxExecutionTime: time.Nanosecond},
	})
	wf := program.Workflow{ID: "wf", Steps: []program.Step{toolStep("s1", "echo")}}
	eng := workflow.New(echoProgram(), workflow.Options{})

	scope, err := eng.Execute(context.Background(), wf, nil, &workflow.ExecContext{Enforcer: enf})
	var perr *policy.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, policy.LimitExecutionTime, perr.Kind)
	require.Nil(t, scope)
}

func TestExecuteAgentStep(t *testing.T) {
	agents := &stubAgents{resp: &model.Response{
		Content: "four",
		Usage:   &model.TokenUsage{PromptTokens: 9, CompletionTokens: 1, TotalTokens: 10},
	}}
	wf := program.Workflow{ID: "wf", Steps: []program.Step{{
		Name: "ask",
		Expr: program.Block{
			Kind:   program.BlockAgent,
			Target: "assistant",
			Inputs: map[string]program.Expression{
				"message": program.Literal{Value: "what is 2+2?"},
				"params": program.Map{Entries: map[string]program.Expression{
					"temperature": program.Literal{Value: float64(0.2)},
					"max_tokens":  program.Literal{Value: float64(64)},
				}},
			},
		},
	}}}
	eng := workflow.New(&program.Program{}, workflow.Options{Agents: agents})

	scope, err := eng.Execute(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"content": "four",
		"usage": map[string]any{
			"prompt_tokens":     9,
			"completion_tokens": 1,
			"total_tokens":      10,
		},
	}, scope["ask"])

	require.Equal(t, "assistant", agents.agent)
	require.Equal(t, []model.Message{{Role: model.RoleUser, Content: "what is 2+2?"}}, agents.msgs)
	require.NotNil(t, agents.params.Temperature)
	require.InEpsilon(t, 0.2, *agents.params.Temperature, 1e-9)
	require.NotNil(t, agents.params.MaxTokens)
	require.Equal(t, 64, *agents.params.MaxTokens)
}

func TestExecuteAgentStepMessageList(t *testing.T) {
	agents := &stubAgents{resp: &model.Response{Content: "ok"}}
	wf := program.Workflow{ID: "wf", Steps: []program.Step{{
		Name: "ask",
		Expr: program.Block{
			Kind:   program.BlockAgent,
			Target: "assistant",
			Inputs: map[string]program.Expression{
				"messages": program.List{Elems: []program.Expression{
					program.Map{Entries: map[string]program.Expression{
						"role":    program.Literal{Value: "system"},
						"content": program.Literal{Value: "be brief"},
					}},
					program.Map{Entries: map[string]program.Expression{
						"content": program.Literal{Value: "hello"},
					}},
				}},
			},
		},
	}}}
	eng := workflow.New(&program.Program{}, workflow.Options{Agents: agents})

	_, err := eng.Execute(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []model.Message{
		{Role: model.RoleSystem, Content: "be brief"},
		{Role: model.RoleUser, Content: "hello"},
	}, agents.msgs)
}

func TestExecuteAgentStepWithoutCaller(t *testing.T) {
	wf := program.Workflow{ID: "wf", Steps: []program.Step{{
		Name: "ask",
		Expr: program.Block{Kind: program.BlockAgent, Target: "assistant"},
	}}}
	eng := workflow.New(&program.Program{}, workflow.Options{})

	scope, err := eng.Execute(context.Background(), wf, nil, nil)
	require.ErrorContains(t, err, "no agent caller configured")
	require.Nil(t, scope)
}

func TestExecuteAgentStepPropagatesError(t *testing.T) {
	boom := errors.New("gateway down")
	agents := &stubAgents{err: boom}
	wf := program.Workflow{ID: "wf", Steps: []program.Step{{
		Name: "ask",
		Expr: program.Block{Kind: program.BlockAgent, Target: "assistant"},
	}}}
	eng := workflow.New(&program.Program{}, workflow.Options{Agents: agents})

	scope, err := eng.Execute(context.Background(), wf, nil, nil)
	require.ErrorIs(t, err, boom)
	require.Nil(t, scope)
}

func TestExecuteCapabilityStep(t *testing.T) {
	wf := program.Workflow{ID: "wf", Steps: []program.Step{{
		Name: "grant",
		Expr: program.Block{Kind: program.BlockCapability, Target: "browse"},
	}}}
	eng := workflow.New(&program.Program{}, workflow.Options{})

	scope, err := eng.Execute(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"success": true, "capability": "browse"}, scope["grant"])
}

func TestExecuteCapabilityNotAllowed(t *testing.T) {
	enf := policy.NewEnforcer(program.Policy{
		ID:    "caps",
		Allow: program.AccessLists{Capabilities: []string{"search"}},
	})
	wf := program.Workflow{ID: "wf", Steps: []program.Step{{
		Name: "grant",
		Expr: program.Block{Kind: program.BlockCapability, Target: "browse"},
	}}}
	eng := workflow.New(&program.Program{}, workflow.Options{})

	scope, err := eng.Execute(context.Background(), wf, nil, &workflow.ExecContext{Enforcer: enf})
	var perr *policy.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, policy.KindCapability, perr.Kind)
	require.Equal(t, policy.RuleNotAllowed, perr.Rule)
	require.Nil(t, scope)
}

func TestExecuteAuditsToolSuccess(t *testing.T) {
	sink := &captureAudit{}
	wf := program.Workflow{ID: "wf", Steps: []program.Step{toolStep("s1", "echo")}}
	eng := workflow.New(echoProgram(), workflow.Options{Audit: sink})

	_, err := eng.Execute(context.Background(), wf, nil, nil)
	require.NoError(t, err)

	events := sink.byEvent("tool_execution")
	require.Len(t, events, 1)
	require.True(t, events[0].Success)
	require.Equal(t, "echo", events[0].Tool)
	require.Equal(t, "wf", events[0].Workflow)
	require.Empty(t, events[0].Error)
}
