// Package sandbox confines tool handler invocations. A Sandbox is built per
// invocation from the tool's security configuration and applies, in order:
// input field validation, a wall-clock timeout around the handler, and an
// output size budget. It also exposes the network and filesystem pre-flight
// guards handlers call before performing I/O. The sandbox cannot stop a
// handler that ignores context cancellation; on timeout the handler's result
// is discarded regardless.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/strandworks/strand/runtime/program"
)

type (
	// InvokeFunc is a tool handler: it receives the evaluated inputs and
	// returns the tool result. Implementations should honor ctx cancellation;
	// the sandbox cancels it when the invocation times out.
	InvokeFunc func(ctx context.Context, input map[string]any) (any, error)

	// Sandbox applies one tool's security configuration to one invocation.
	// A nil configuration disables validation, timeout and guards entirely.
	Sandbox struct {
		sec *program.SecurityConfig
	}

	// ValidationError reports an input field (or output budget) rule
	// violation.
	ValidationError struct {
		// Field is the violating input field, or "output" for the output size
		// budget.
		Field string

		// Rule describes the violated rule.
		Rule string
	}

	// Error reports a sandbox enforcement failure: a timed-out invocation or
	// a denied network/filesystem access.
	Error struct {
		// Op is OpTimeout, OpNetwork or OpFilesystem.
		Op string

		// Detail describes the failure.
		Detail string
	}
)

// Sandbox enforcement operations used in Error.Op.
const (
	OpTimeout    = "timeout"
	OpNetwork    = "network"
	OpFilesystem = "filesystem"
)

// Error formats the violation, e.g. `sandbox: invalid field "query": length 2 < min 3`.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("sandbox: invalid field %q: %s", e.Field, e.Rule)
}

// Error formats the failure, e.g. `sandbox: timeout: tool execution exceeded 10ms`.
func (e *Error) Error() string {
	return fmt.Sprintf("sandbox: %s: %s", e.Op, e.Detail)
}

// New builds a Sandbox for one invocation of a tool with the given security
// configuration. Nil is valid and disables all enforcement.
func New(sec *program.SecurityConfig) *Sandbox {
	return &Sandbox{sec: sec}
}

// Invoke runs fn inside the sandbox: inputs are validated first, then fn runs
// under the configured timeout (none when the sandbox configuration is
// absent), then the result is checked against the output budget. On timeout
// the handler context is cancelled and the eventual result is discarded; a
// handler that ignores cancellation keeps running detached.
func (s *Sandbox) Invoke(ctx context.Context, fn InvokeFunc, input map[string]any) (any, error) {
	if err := s.ValidateInput(input); err != nil {
		return nil, err
	}

	var (
		out any
		err error
	)
	if s.sec == nil || s.sec.Sandbox == nil {
		out, err = fn(ctx, input)
	} else {
		out, err = s.invokeWithTimeout(ctx, fn, input, s.timeout())
	}
	if err != nil {
		return nil, err
	}

	if err := s.CheckOutputSize(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Sandbox) timeout() time.Duration {
	if d := s.sec.Sandbox.Timeout; d > 0 {
		return d
	}
	return program.DefaultSandboxTimeout
}

func (s *Sandbox) invokeWithTimeout(ctx context.Context, fn InvokeFunc, input map[string]any, timeout time.Duration) (any, error) {
	type result struct {
		value any
		err   error
	}

	callCtx, cancel := context.WithCancel(ctx)
	ch := make(chan result, 1)
	go func() {
		v, err := fn(callCtx, input)
		ch <- result{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		cancel()
		return r.value, r.err
	case <-timer.C:
		cancel()
		return nil, &Error{Op: OpTimeout, Detail: fmt.Sprintf("tool execution exceeded %s", timeout)}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// ValidateInput checks each input field that has a declared rule. Fields
// without rules, and rule types that do not match the value's type, are not
// checked. String rules cover length bounds, a required pattern and deny
// patterns; numeric rules cover min/max.
func (s *Sandbox) ValidateInput(input map[string]any) error {
	if s.sec == nil || len(s.sec.Validation) == 0 {
		return nil
	}
	for field, rule := range s.sec.Validation {
		value, ok := input[field]
		if !ok {
			continue
		}
		if err := checkField(field, value, rule); err != nil {
			return err
		}
	}
	return nil
}

func checkField(field string, value any, rule program.FieldRule) error {
	if str, ok := value.(string); ok {
		if rule.MinLength != nil && len(str) < *rule.MinLength {
			return &ValidationError{Field: field, Rule: fmt.Sprintf("length %d < min %d", len(str), *rule.MinLength)}
		}
		if rule.MaxLength != nil && len(str) > *rule.MaxLength {
			return &ValidationError{Field: field, Rule: fmt.Sprintf("length %d > max %d", len(str), *rule.MaxLength)}
		}
		if rule.Pattern != nil && !rule.Pattern.MatchString(str) {
			return &ValidationError{Field: field, Rule: fmt.Sprintf("value does not match pattern %s", rule.Pattern)}
		}
		for _, deny := range rule.DenyPatterns {
			if deny.MatchString(str) {
				return &ValidationError{Field: field, Rule: fmt.Sprintf("value matches deny pattern %s", deny)}
			}
		}
	}
	if num, ok := toNumber(value); ok {
		if rule.Min != nil && num < *rule.Min {
			return &ValidationError{Field: field, Rule: fmt.Sprintf("value %v < min %v", num, *rule.Min)}
		}
		if rule.Max != nil && num > *rule.Max {
			return &ValidationError{Field: field, Rule: fmt.Sprintf("value %v > max %v", num, *rule.Max)}
		}
	}
	return nil
}

// CheckOutputSize checks the JSON-encoded size of a tool result against the
// configured budget. Zero budget means unlimited. Content-level schema
// validation of outputs is intentionally not performed.
func (s *Sandbox) CheckOutputSize(out any) error {
	if s.sec == nil || s.sec.MaxOutputBytes <= 0 || out == nil {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return &ValidationError{Field: "output", Rule: "result is not serializable"}
	}
	if len(data) > s.sec.MaxOutputBytes {
		return &ValidationError{Field: "output", Rule: fmt.Sprintf("size %d > max %d bytes", len(data), s.sec.MaxOutputBytes)}
	}
	return nil
}

// CheckNetworkAccess is the pre-flight guard handlers call before outbound
// network I/O. Without a sandbox configuration the tool is ungoverned and
// access is granted. With one, network must be enabled and, when an allow
// list is present, the host must match an entry exactly or be a subdomain of
// it.
func (s *Sandbox) CheckNetworkAccess(host string) error {
	if s.sec == nil || s.sec.Sandbox == nil {
		return nil
	}
	net := s.sec.Sandbox.Network
	if net == nil || !net.Enabled {
		return &Error{Op: OpNetwork, Detail: "network access is disabled"}
	}
	if len(net.AllowedHosts) == 0 {
		return nil
	}
	for _, allowed := range net.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return &Error{Op: OpNetwork, Detail: fmt.Sprintf("host %q is not in the allowed hosts", host)}
}

// CheckFilesystemAccess is the pre-flight guard handlers call before touching
// the filesystem. Without a sandbox configuration access is granted. With
// one, filesystem access must be enabled, writes are rejected in read-only
// mode and, when an allow list is present, the path must be under one of its
// prefixes.
func (s *Sandbox) CheckFilesystemAccess(path string, write bool) error {
	if s.sec == nil || s.sec.Sandbox == nil {
		return nil
	}
	fs := s.sec.Sandbox.Filesystem
	if fs == nil || !fs.Enabled {
		return &Error{Op: OpFilesystem, Detail: "filesystem access is disabled"}
	}
	if write && fs.ReadOnly {
		return &Error{Op: OpFilesystem, Detail: fmt.Sprintf("write to %q denied (read-only)", path)}
	}
	if len(fs.AllowedPaths) == 0 {
		return nil
	}
	for _, allowed := range fs.AllowedPaths {
		if strings.HasPrefix(path, allowed) {
			return nil
		}
	}
	return &Error{Op: OpFilesystem, Detail: fmt.Sprintf("path %q is not in the allowed paths", path)}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
