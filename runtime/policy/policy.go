// Package policy enforces program access policies: per-kind allow/deny lists
// over tools, workflows, data and capabilities, plus resource limits. An
// Enforcer is bound to a single policy and is stateless; callers supply their
// own counters to the limit checks. Checks return a structured *Error rather
// than a boolean so callers always know which policy, resource and rule
// triggered a denial.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/strandworks/strand/runtime/program"
)

// Resource kinds used in Error.Kind.
const (
	KindTool       = "tool"
	KindWorkflow   = "workflow"
	KindData       = "data"
	KindCapability = "capability"
)

// Limit names used in Error.Kind for resource limit violations.
const (
	LimitMemory        = "max_memory_bytes"
	LimitExecutionTime = "max_execution_time"
	LimitToolCalls     = "max_tool_calls"
	LimitDepth         = "max_workflow_depth"
)

// Rules used in Error.Rule.
const (
	RuleDenied     = "denied"
	RuleNotAllowed = "not_in_allow_list"
	RuleExceeded   = "limit_exceeded"
)

type (
	// Error reports a policy violation. It identifies the policy, the resource
	// kind and id (or limit name and measurement) and the violated rule.
	Error struct {
		// Policy is the id of the violated policy.
		Policy string

		// Kind is the resource kind or limit name.
		Kind string

		// Resource is the denied resource id, or the measured value for limit
		// violations.
		Resource string

		// Rule is RuleDenied, RuleNotAllowed or RuleExceeded.
		Rule string
	}

	// Enforcer checks operations against one policy. It is immutable and safe
	// for concurrent use.
	Enforcer struct {
		id     string
		limits program.ResourceLimits

		allowTools map[string]struct{}
		denyTools  map[string]struct{}
		allowWfs   map[string]struct{}
		denyWfs    map[string]struct{}
		allowData  map[string]struct{}
		denyData   map[string]struct{}
		allowCaps  map[string]struct{}
	}
)

// Error formats the violation, e.g.
// `policy "restricted": tool "shell" denied` or
// `policy "restricted": max_tool_calls limit_exceeded (11)`.
func (e *Error) Error() string {
	switch e.Rule {
	case RuleExceeded:
		return fmt.Sprintf("policy %q: %s %s (%s)", e.Policy, e.Kind, e.Rule, e.Resource)
	default:
		return fmt.Sprintf("policy %q: %s %q %s", e.Policy, e.Kind, e.Resource, e.Rule)
	}
}

// NewEnforcer builds an Enforcer for the given policy. List membership is
// precomputed; empty lists impose no restriction for their kind.
func NewEnforcer(p program.Policy) *Enforcer {
	return &Enforcer{
		id:         p.ID,
		limits:     p.Limits,
		allowTools: toSet(p.Allow.Tools),
		denyTools:  toSet(p.Deny.Tools),
		allowWfs:   toSet(p.Allow.Workflows),
		denyWfs:    toSet(p.Deny.Workflows),
		allowData:  toSet(p.Allow.Data),
		denyData:   toSet(p.Deny.Data),
		allowCaps:  toSet(p.Allow.Capabilities),
	}
}

// PolicyID returns the id of the enforced policy.
func (e *Enforcer) PolicyID() string { return e.id }

// CheckToolAccess checks whether the policy permits invoking the tool.
// An explicit deny always wins; an allow list, when present, only permits its
// members; otherwise access is granted.
func (e *Enforcer) CheckToolAccess(id string) error {
	return e.checkAccess(KindTool, id, e.allowTools, e.denyTools)
}

// CheckWorkflowAccess checks whether the policy permits triggering the
// workflow.
func (e *Enforcer) CheckWorkflowAccess(id string) error {
	return e.checkAccess(KindWorkflow, id, e.allowWfs, e.denyWfs)
}

// CheckDataAccess checks whether the policy permits accessing the data
// resource.
func (e *Enforcer) CheckDataAccess(id string) error {
	return e.checkAccess(KindData, id, e.allowData, e.denyData)
}

// CheckCapabilityAccess checks whether the policy permits the capability.
// Capabilities are allow-list only: with no allow list every capability is
// permitted, with one only its members are.
func (e *Enforcer) CheckCapabilityAccess(name string) error {
	if len(e.allowCaps) == 0 {
		return nil
	}
	if _, ok := e.allowCaps[name]; ok {
		return nil
	}
	return &Error{Policy: e.id, Kind: KindCapability, Resource: name, Rule: RuleNotAllowed}
}

// CheckMemoryLimit checks a caller-tracked memory measurement against the
// policy limit. Zero limit means unlimited.
func (e *Enforcer) CheckMemoryLimit(bytes int64) error {
	if e.limits.MaxMemoryBytes > 0 && bytes > e.limits.MaxMemoryBytes {
		return &Error{Policy: e.id, Kind: LimitMemory, Resource: fmt.Sprintf("%d", bytes), Rule: RuleExceeded}
	}
	return nil
}

// CheckExecutionTimeLimit checks elapsed invocation time against the policy
// limit. Zero limit means unlimited.
func (e *Enforcer) CheckExecutionTimeLimit(elapsed time.Duration) error {
	if e.limits.MaxExecutionTime > 0 && elapsed > e.limits.MaxExecutionTime {
		return &Error{Policy: e.id, Kind: LimitExecutionTime, Resource: elapsed.String(), Rule: RuleExceeded}
	}
	return nil
}

// CheckToolCallsLimit checks the number of tool calls made so far, including
// the one about to run. Zero limit means unlimited.
func (e *Enforcer) CheckToolCallsLimit(calls int) error {
	if e.limits.MaxToolCalls > 0 && calls > e.limits.MaxToolCalls {
		return &Error{Policy: e.id, Kind: LimitToolCalls, Resource: fmt.Sprintf("%d", calls), Rule: RuleExceeded}
	}
	return nil
}

// CheckWorkflowDepthLimit checks the nested workflow depth. Zero limit means
// unlimited.
func (e *Enforcer) CheckWorkflowDepthLimit(depth int) error {
	if e.limits.MaxWorkflowDepth > 0 && depth > e.limits.MaxWorkflowDepth {
		return &Error{Policy: e.id, Kind: LimitDepth, Resource: fmt.Sprintf("%d", depth), Rule: RuleExceeded}
	}
	return nil
}

func (e *Enforcer) checkAccess(kind, id string, allow, deny map[string]struct{}) error {
	if _, blocked := deny[id]; blocked {
		return &Error{Policy: e.id, Kind: kind, Resource: id, Rule: RuleDenied}
	}
	if len(allow) > 0 {
		if _, ok := allow[id]; !ok {
			return &Error{Policy: e.id, Kind: kind, Resource: id, Rule: RuleNotAllowed}
		}
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
