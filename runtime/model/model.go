// Package model defines the provider-agnostic completion contract used by the
// gateway and its provider adapters. It normalizes chat completion requests
// and responses over OpenAI-style, Anthropic-style and Bedrock backends so the
// rest of the runtime never couples to a specific SDK. Adapters translate
// these types into provider wire formats and back.
package model

import "context"

type (
	// Client is the contract every provider adapter implements. Implementations
	// wrap provider SDKs and translate Request/Response to provider-specific
	// formats. Clients must be safe for concurrent use; the gateway shares one
	// instance across all workflow invocations.
	Client interface {
		// Complete sends a chat completion request to the provider and returns the
		// generated response. Returns an error if the provider is unreachable, the
		// request is rejected, or the response cannot be decoded. Retries are the
		// caller's concern; adapters surface provider errors unchanged.
		Complete(ctx context.Context, req *Request) (*Response, error)

		// Available reports whether the adapter is ready to serve requests, e.g.
		// its credential resolved and any injected SDK client is present. The
		// gateway logs unavailable adapters at construction; it does not skip
		// them at call time.
		Available() bool
	}

	// Request captures the normalized parameters of a model invocation. Optional
	// fields use pointers so adapters can distinguish "unset" from zero and
	// apply provider defaults.
	Request struct {
		// Model is the provider-specific model identifier (e.g. "gpt-4o",
		// "claude-sonnet-4-20250514", "anthropic.claude-v2").
		Model string

		// Messages is the ordered conversation sent to the model: system
		// instructions, user inputs and prior assistant turns. Order matters.
		Messages []Message

		// Temperature controls sampling temperature when set. Nil means use the
		// provider default.
		Temperature *float64

		// MaxTokens caps completion tokens when set. Nil means use the provider
		// default; adapters whose API requires a cap apply their own.
		MaxTokens *int

		// Stop lists sequences that terminate generation. Empty means none.
		Stop []string

		// Stream indicates the caller would prefer incremental output. Adapters
		// that do not stream ignore the flag and return the full response.
		Stream bool
	}

	// Message is a single chat message with role and content.
	Message struct {
		// Role is one of RoleSystem, RoleUser or RoleAssistant.
		Role string

		// Content is the message text.
		Content string
	}

	// Response is the normalized completion result.
	Response struct {
		// Content is the generated assistant text.
		Content string

		// Model echoes the model that produced the response when the provider
		// reports it; otherwise the requested identifier.
		Model string

		// Usage reports token consumption when the provider supplies it. Nil when
		// the provider omits usage.
		Usage *TokenUsage

		// FinishReason explains why generation stopped ("stop", "max_tokens",
		// "end_turn", ...). Values are provider-specific and may be empty.
		FinishReason string
	}

	// TokenUsage records token counts for a single completion.
	TokenUsage struct {
		// PromptTokens counts tokens consumed by the prompt and history.
		PromptTokens int

		// CompletionTokens counts tokens generated by the model.
		CompletionTokens int

		// TotalTokens is the aggregate reported by the provider. Prefer it over
		// summing the parts; some providers include overhead.
		TotalTokens int
	}

	// Params carries the per-call generation settings a workflow step or agent
	// invocation may override. Unset fields leave the provider default in place.
	Params struct {
		Temperature *float64
		MaxTokens   *int
		Stop        []string
	}
)

// Conversation roles understood by every adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Apply copies the set fields of p onto req, leaving unset fields untouched.
func (p Params) Apply(req *Request) {
	if p.Temperature != nil {
		req.Temperature = p.Temperature
	}
	if p.MaxTokens != nil {
		req.MaxTokens = p.MaxTokens
	}
	if len(p.Stop) > 0 {
		req.Stop = p.Stop
	}
}

// ParamsFromMap extracts generation settings from an evaluated parameter map,
// as produced by workflow step inputs. Recognized keys are "temperature"
// (number), "max_tokens" (number) and "stop" (string or list of strings).
// Unrecognized keys and malformed values are ignored.
func ParamsFromMap(m map[string]any) Params {
	var p Params
	if m == nil {
		return p
	}
	if v, ok := toFloat(m["temperature"]); ok {
		p.Temperature = &v
	}
	if v, ok := toFloat(m["max_tokens"]); ok {
		n := int(v)
		p.MaxTokens = &n
	}
	switch v := m["stop"].(type) {
	case string:
		if v != "" {
			p.Stop = []string{v}
		}
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				p.Stop = append(p.Stop, s)
			}
		}
	case []string:
		p.Stop = append(p.Stop, v...)
	}
	return p
}

func toFloat(v any) (float64, bool) {
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
