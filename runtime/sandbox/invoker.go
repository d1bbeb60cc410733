package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"

	"github.com/strandworks/strand/runtime/program"
)

// maxHandlerResponseBytes caps how much of an external handler response is
// read, independent of the tool's own output budget.
const maxHandlerResponseBytes = 1 << 20

// Invoker builds the InvokeFunc for a resolved tool handler. External HTTP
// handlers post the inputs as JSON and decode the JSON response, consulting
// the sandbox network guard first. Passthrough handlers echo their inputs.
// Unsupported handlers fail on invocation without performing any I/O. A nil
// sandbox or client selects the ungoverned sandbox and http.DefaultClient.
func Invoker(h program.Handler, sb *Sandbox, client *http.Client) InvokeFunc {
	if sb == nil {
		sb = New(nil)
	}
	if client == nil {
		client = http.DefaultClient
	}
	switch h := h.(type) {
	case program.ExternalHTTP:
		return externalInvoker(h.URL, sb, client)
	case program.Passthrough:
		return func(_ context.Context, input map[string]any) (any, error) {
			if input == nil {
				return map[string]any{}, nil
			}
			return maps.Clone(input), nil
		}
	case program.Unsupported:
		raw := h.Raw
		return func(context.Context, map[string]any) (any, error) {
			return nil, fmt.Errorf("unrecognized tool handler %q", raw)
		}
	default:
		return func(context.Context, map[string]any) (any, error) {
			return nil, fmt.Errorf("unrecognized tool handler %T", h)
		}
	}
}

func externalInvoker(rawURL string, sb *Sandbox, client *http.Client) InvokeFunc {
	u, parseErr := url.Parse(rawURL)
	return func(ctx context.Context, input map[string]any) (any, error) {
		if parseErr != nil {
			return nil, fmt.Errorf("tool handler failed: invalid url %q: %w", rawURL, parseErr)
		}
		if err := sb.CheckNetworkAccess(u.Hostname()); err != nil {
			return nil, err
		}
		if input == nil {
			input = map[string]any{}
		}
		body, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("tool handler failed: encode inputs: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("tool handler failed: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tool handler failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxHandlerResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("tool handler failed: read response: %w", err)
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("tool handler failed: status %d", resp.StatusCode)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("tool handler failed: decode response: %w", err)
		}
		return out, nil
	}
}
