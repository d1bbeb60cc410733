// Package gateway routes model completions to registered provider adapters.
// It owns the provider registry, one rate limiter and usage record per
// provider, credential resolution at construction, and the failover,
// cost-optimized and round-robin selection strategies.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/strandworks/strand/runtime/model"
	"github.com/strandworks/strand/runtime/program"
	"github.com/strandworks/strand/runtime/telemetry"
)

type (
	// ClientFactory builds the adapter for one declared provider. The
	// credential has already been resolved; it is empty when the provider
	// declares none. Returning an error skips the provider without failing
	// gateway construction.
	ClientFactory func(p program.Provider, credential string) (model.Client, error)

	// Options configures gateway construction.
	Options struct {
		// Factory builds provider adapters. Required.
		Factory ClientFactory

		// Resolver resolves credential references. Defaults to EnvResolver.
		Resolver CredentialResolver

		// Logger receives provider registration diagnostics. Defaults to noop.
		Logger telemetry.Logger

		// Metrics receives request/error counters. Defaults to noop.
		Metrics telemetry.Metrics
	}

	// Gateway is the model completion router. The registry is immutable after
	// construction; only the usage counters mutate. Safe for concurrent use.
	Gateway struct {
		providers map[string]*provider
		logger    telemetry.Logger
		metrics   telemetry.Metrics
	}

	// Usage is a point-in-time snapshot of one provider's counters.
	Usage struct {
		// Requests counts completion attempts admitted past the limiter.
		Requests int64

		// Tokens accumulates total token usage reported by successful
		// completions.
		Tokens int64

		// Errors counts failed completion attempts.
		Errors int64
	}

	provider struct {
		decl    program.Provider
		client  model.Client
		limiter *Limiter

		requests atomic.Int64
		tokens   atomic.Int64
		errors   atomic.Int64
	}
)

// New builds a gateway from the program's provider declarations. Each
// provider resolves its credential and constructs its adapter independently;
// a failure disables that provider only, logged at warn level, and
// construction continues with the rest. Unknown ids surface later as
// ErrProviderNotFound at completion time.
func New(provs []program.Provider, opts Options) (*Gateway, error) {
	if opts.Factory == nil {
		return nil, ErrFactoryRequired
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = EnvResolver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	g := &Gateway{
		providers: make(map[string]*provider, len(provs)),
		logger:    logger,
		metrics:   metrics,
	}
	ctx := context.Background()
	for _, p := range provs {
		if _, exists := g.providers[p.ID]; exists {
			logger.Warn(ctx, "duplicate provider id, keeping first", "provider", p.ID)
			continue
		}
		cred, err := resolveCredential(p.Credential, resolver)
		if err != nil {
			logger.Warn(ctx, "provider disabled: credential resolution failed",
				"provider", p.ID, "type", p.Type, "err", err)
			continue
		}
		client, err := opts.Factory(p, cred)
		if err != nil {
			logger.Warn(ctx, "provider disabled: adapter construction failed",
				"provider", p.ID, "type", p.Type, "err", err)
			continue
		}
		g.providers[p.ID] = &provider{
			decl:    p,
			client:  client,
			limiter: NewLimiter(p.RateLimit),
		}
		logger.Info(ctx, "provider registered", "provider", p.ID, "type", p.Type)
	}
	return g, nil
}

// Complete routes a completion through the model reference's strategy. A
// SimpleModel dispatches directly; an AdvancedModel walks its candidates per
// the configured strategy. Failover catches each candidate's error and tries
// the next; exhaustion returns an aggregate error wrapping the last failure.
// Round-robin routes to exactly one candidate with no fallback.
func (g *Gateway) Complete(ctx context.Context, ref program.ModelRef, msgs []model.Message, params *model.Params) (*model.Response, error) {
	switch mr := ref.(type) {
	case program.SimpleModel:
		return g.CompleteWithProvider(ctx, mr.Target.Provider, mr.Target.Model, msgs, params)
	case program.AdvancedModel:
		candidates := mr.Candidates()
		ordered := orderCandidates(mr.Strategy, candidates, g.TotalRequests())
		if mr.Strategy == program.StrategyRoundRobin {
			t := ordered[0]
			return g.CompleteWithProvider(ctx, t.Provider, t.Model, msgs, params)
		}
		var lastErr error
		for _, t := range ordered {
			resp, err := g.CompleteWithProvider(ctx, t.Provider, t.Model, msgs, params)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			g.logger.Warn(ctx, "model candidate failed",
				"provider", t.Provider, "model", t.Model, "strategy", mr.Strategy.String(), "err", err)
		}
		return nil, fmt.Errorf("model gateway: all %d candidates failed: %w", len(ordered), lastErr)
	case nil:
		return nil, errors.New("model gateway: model reference is required")
	default:
		return nil, fmt.Errorf("model gateway: unsupported model reference %T", ref)
	}
}

// CompleteWithProvider issues one completion against a specific provider:
// look up the adapter, acquire a rate-limit permit (may block), count the
// request, invoke the adapter. Success accumulates reported token usage;
// failure counts an error and returns the adapter's error unchanged so the
// strategy layer decides about retries.
func (g *Gateway) CompleteWithProvider(ctx context.Context, providerID, modelID string, msgs []model.Message, params *model.Params) (*model.Response, error) {
	p, ok := g.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, providerID)
	}
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("model gateway: rate limit wait: %w", err)
	}
	p.requests.Add(1)
	g.metrics.IncCounter("model_requests_total", 1, "provider", providerID)

	if modelID == "" {
		modelID = p.decl.DefaultModel
	}
	req := &model.Request{Model: modelID, Messages: msgs}
	if params != nil {
		params.Apply(req)
	}
	resp, err := p.client.Complete(ctx, req)
	if err != nil {
		p.errors.Add(1)
		g.metrics.IncCounter("model_errors_total", 1, "provider", providerID)
		return nil, err
	}
	if resp.Usage != nil {
		p.tokens.Add(int64(resp.Usage.TotalTokens))
	}
	return resp, nil
}

// Usage returns a snapshot of the named provider's counters. The second
// return is false when the provider is not registered.
func (g *Gateway) Usage(providerID string) (Usage, bool) {
	p, ok := g.providers[providerID]
	if !ok {
		return Usage{}, false
	}
	return Usage{
		Requests: p.requests.Load(),
		Tokens:   p.tokens.Load(),
		Errors:   p.errors.Load(),
	}, true
}

// TotalRequests sums request counts across all providers. The round-robin
// strategy keys candidate selection off this value.
func (g *Gateway) TotalRequests() int64 {
	var total int64
	for _, p := range g.providers {
		total += p.requests.Load()
	}
	return total
}

// Providers lists the registered provider ids. Order is unspecified.
func (g *Gateway) Providers() []string {
	ids := make([]string, 0, len(g.providers))
	for id := range g.providers {
		ids = append(ids, id)
	}
	return ids
}

// Available reports whether the named provider is registered and its adapter
// considers itself usable.
func (g *Gateway) Available(providerID string) bool {
	p, ok := g.providers[providerID]
	return ok && p.client.Available()
}
