// Package audit records security-relevant runtime events: tool executions,
// agent completions, workflow runs and policy denials. Events are ephemeral;
// the package formats them as single text lines (JSON, key=value or CEF) and
// hands them to an injected io.Writer. Opening, rotating and shipping the
// underlying sink is the embedder's concern.
package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Event is one audit record. Optional fields are empty when not relevant
	// to the event kind.
	Event struct {
		// Timestamp is when the event occurred. The logger stamps the current
		// time when zero.
		Timestamp time.Time

		// Event names the event kind, e.g. "tool_execution".
		Event string

		// Success reports whether the audited operation succeeded.
		Success bool

		// Agent, Tool, Workflow and User identify the involved resources.
		Agent    string
		Tool     string
		Workflow string
		User     string

		// Error carries the failure message when Success is false.
		Error string

		// Metadata carries event-specific details (run ids, durations, policy
		// ids). Always serialized.
		Metadata map[string]any

		// Payload carries operation inputs/outputs. Only serialized when the
		// logger's configuration opts in; payloads may contain sensitive data.
		Payload any
	}

	// Logger consumes audit events. The runtime owns the logger's lifecycle
	// and closes it when the runtime closes; components receive it as an
	// explicit collaborator, never through a global.
	Logger interface {
		// Log records one event. Implementations must not block on slow sinks
		// longer than necessary and must be safe for concurrent use.
		Log(ctx context.Context, e Event)

		// Close releases the underlying sink.
		Close() error
	}

	// Config selects the line serialization.
	Config struct {
		// Format is the serialization: FormatJSONLines (default), FormatKV or
		// FormatCEF.
		Format Format

		// IncludePayload opts into serializing Event.Payload.
		IncludePayload bool
	}

	// Format is the closed set of line serializations.
	Format int

	// LineLogger formats events as single lines and writes them to a sink.
	// Write failures are counted and otherwise dropped; audit sinks must not
	// take down executions.
	LineLogger struct {
		mu      sync.Mutex
		w       io.Writer
		cfg     Config
		dropped atomic.Int64
	}

	// NopLogger discards all events.
	NopLogger struct{}

	yamlConfig struct {
		Format         string `yaml:"format"`
		IncludePayload bool   `yaml:"include_payload"`
	}
)

const (
	// FormatJSONLines writes one JSON object per line.
	FormatJSONLines Format = iota
	// FormatKV writes pipe-delimited key=value lines.
	FormatKV
	// FormatCEF writes ArcSight CEF lines (fixed header plus key=value
	// extension).
	FormatCEF
)

// ParseConfig parses the YAML audit configuration:
//
//	format: jsonl | kv | cef
//	include_payload: true | false
//
// An absent format selects FormatJSONLines.
func ParseConfig(data []byte) (Config, error) {
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("audit: parse config: %w", err)
	}
	var f Format
	switch yc.Format {
	case "", "jsonl":
		f = FormatJSONLines
	case "kv":
		f = FormatKV
	case "cef":
		f = FormatCEF
	default:
		return Config{}, fmt.Errorf("audit: unknown format %q", yc.Format)
	}
	return Config{Format: f, IncludePayload: yc.IncludePayload}, nil
}

// NewLineLogger constructs a LineLogger writing formatted lines to w. When w
// also implements io.Closer, Close closes it.
func NewLineLogger(w io.Writer, cfg Config) *LineLogger {
	return &LineLogger{w: w, cfg: cfg}
}

// Log formats and writes one event. The zero Timestamp is stamped with the
// current UTC time. Failed writes increment the dropped counter.
func (l *LineLogger) Log(_ context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	line, err := encodeLine(e, l.cfg)
	if err != nil {
		l.dropped.Add(1)
		return
	}
	l.mu.Lock()
	_, err = l.w.Write(append(line, '\n'))
	l.mu.Unlock()
	if err != nil {
		l.dropped.Add(1)
	}
}

// Close closes the sink when it implements io.Closer.
func (l *LineLogger) Close() error {
	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Dropped reports how many events failed to serialize or write.
func (l *LineLogger) Dropped() int64 {
	return l.dropped.Load()
}

// NewNopLogger constructs a Logger that discards all events.
func NewNopLogger() Logger {
	return NopLogger{}
}

// Log discards the event.
func (NopLogger) Log(context.Context, Event) {}

// Close is a no-op.
func (NopLogger) Close() error { return nil }
