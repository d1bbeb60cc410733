package gateway_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strandworks/strand/runtime/gateway"
	"github.com/strandworks/strand/runtime/model"
	"github.com/strandworks/strand/runtime/program"
)

type fakeClient struct {
	mu   sync.Mutex
	reqs []*model.Request
	resp *model.Response
	err  error
}

func (f *fakeClient) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &model.Response{Content: "ok", Model: req.Model}, nil
}

func (f *fakeClient) Available() bool { return true }

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeClient) lastRequest() *model.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		return nil
	}
	return f.reqs[len(f.reqs)-1]
}

// clientFactory returns a factory dispatching to pre-built fakes by provider
// id and records the credential each provider was constructed with.
func clientFactory(clients map[string]*fakeClient, creds map[string]string) gateway.ClientFactory {
	return func(p program.Provider, credential string) (model.Client, error) {
		c, ok := clients[p.ID]
		if !ok {
			return nil, errors.New("no fake for provider")
		}
		if creds != nil {
			creds[p.ID] = credential
		}
		return c, nil
	}
}

func newTestGateway(t *testing.T, provs []program.Provider, clients map[string]*fakeClient) *gateway.Gateway {
	t.Helper()
	g, err := gateway.New(provs, gateway.Options{
		Factory:  clientFactory(clients, nil),
		Resolver: gateway.StaticResolver{"KEY": "k"},
	})
	require.NoError(t, err)
	return g
}

func provider(id string) program.Provider {
	return program.Provider{
		ID:         id,
		Type:       "openai",
		Credential: program.SingleCredential{Ref: program.CredentialRef{Key: "KEY"}},
	}
}

func TestNewRequiresFactory(t *testing.T) {
	_, err := gateway.New(nil, gateway.Options{})
	require.ErrorIs(t, err, gateway.ErrFactoryRequired)
}

func TestNewIsolatesProviderFailures(t *testing.T) {
	clients := map[string]*fakeClient{"good": {}}
	creds := map[string]string{}
	g, err := gateway.New([]program.Provider{
		provider("good"),
		{
			ID:         "nocred",
			Type:       "openai",
			Credential: program.SingleCredential{Ref: program.CredentialRef{Key: "MISSING"}},
		},
		{ID: "nofactory", Type: "openai"},
	}, gateway.Options{
		Factory:  clientFactory(clients, creds),
		Resolver: gateway.StaticResolver{"KEY": "resolved-key"},
	})
	require.NoError(t, err, "one provider failing must not fail construction")

	require.ElementsMatch(t, []string{"good"}, g.Providers())
	require.Equal(t, "resolved-key", creds["good"])

	_, err = g.CompleteWithProvider(context.Background(), "nocred", "m", nil, nil)
	require.ErrorIs(t, err, gateway.ErrProviderNotFound)
}

func TestNewCredentialMapFirstResolvableWins(t *testing.T) {
	clients := map[string]*fakeClient{"p": {}}
	creds := map[string]string{}
	_, err := gateway.New([]program.Provider{{
		ID:   "p",
		Type: "openai",
		Credential: program.CredentialMap{Entries: []program.NamedRef{
			{Name: "primary", Ref: program.CredentialRef{Key: "ABSENT"}},
			{Name: "backup", Ref: program.CredentialRef{Key: "PRESENT"}},
		}},
	}}, gateway.Options{
		Factory:  clientFactory(clients, creds),
		Resolver: gateway.StaticResolver{"PRESENT": "backup-key"},
	})
	require.NoError(t, err)
	require.Equal(t, "backup-key", creds["p"])
}

func TestCompleteWithProviderNotFound(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	_, err := g.CompleteWithProvider(context.Background(), "ghost", "m", nil, nil)
	require.ErrorIs(t, err, gateway.ErrProviderNotFound)
	require.Contains(t, err.Error(), `"ghost"`)
}

func TestCompleteWithProviderCountsUsage(t *testing.T) {
	fc := &fakeClient{resp: &model.Response{
		Content: "hi",
		Usage:   &model.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	g := newTestGateway(t, []program.Provider{provider("p")}, map[string]*fakeClient{"p": fc})

	resp, err := g.CompleteWithProvider(context.Background(), "p", "gpt-4o", []model.Message{{Role: model.RoleUser, Content: "hello"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Content)

	u, ok := g.Usage("p")
	require.True(t, ok)
	require.Equal(t, gateway.Usage{Requests: 1, Tokens: 15, Errors: 0}, u)
	require.Equal(t, int64(1), g.TotalRequests())
}

func TestCompleteWithProviderReturnsAdapterErrorUnchanged(t *testing.T) {
	boom := errors.New("upstream 500")
	fc := &fakeClient{err: boom}
	g := newTestGateway(t, []program.Provider{provider("p")}, map[string]*fakeClient{"p": fc})

	_, err := g.CompleteWithProvider(context.Background(), "p", "m", nil, nil)
	require.ErrorIs(t, err, boom)

	u, _ := g.Usage("p")
	require.Equal(t, gateway.Usage{Requests: 1, Tokens: 0, Errors: 1}, u)
}

func TestCompleteWithProviderDefaultModel(t *testing.T) {
	fc := &fakeClient{}
	prov := provider("p")
	prov.DefaultModel = "gpt-4o-mini"
	g := newTestGateway(t, []program.Provider{prov}, map[string]*fakeClient{"p": fc})

	_, err := g.CompleteWithProvider(context.Background(), "p", "", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", fc.lastRequest().Model)
}

func TestCompleteWithProviderAppliesParams(t *testing.T) {
	fc := &fakeClient{}
	g := newTestGateway(t, []program.Provider{provider("p")}, map[string]*fakeClient{"p": fc})

	temp := 0.2
	maxTok := 256
	params := &model.Params{Temperature: &temp, MaxTokens: &maxTok, Stop: []string{"END"}}
	_, err := g.CompleteWithProvider(context.Background(), "p", "m", nil, params)
	require.NoError(t, err)

	req := fc.lastRequest()
	require.NotNil(t, req.Temperature)
	require.Equal(t, 0.2, *req.Temperature)
	require.NotNil(t, req.MaxTokens)
	require.Equal(t, 256, *req.MaxTokens)
	require.Equal(t, []string{"END"}, req.Stop)
}

func TestCompleteSimpleModel(t *testing.T) {
	fc := &fakeClient{}
	g := newTestGateway(t, []program.Provider{provider("p")}, map[string]*fakeClient{"p": fc})

	ref := program.SimpleModel{Target: program.Target{Provider: "p", Model: "gpt-4o"}}
	_, err := g.Complete(context.Background(), ref, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, fc.calls())
	require.Equal(t, "gpt-4o", fc.lastRequest().Model)
}

func TestCompleteNilReference(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	_, err := g.Complete(context.Background(), nil, nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model reference is required")
}

func TestFailoverReturnsFirstSuccess(t *testing.T) {
	a := &fakeClient{err: errors.New("a is down")}
	b := &fakeClient{resp: &model.Response{Content: "from b"}}
	g := newTestGateway(t,
		[]program.Provider{provider("a"), provider("b")},
		map[string]*fakeClient{"a": a, "b": b})

	ref := program.AdvancedModel{
		Primary:  program.Target{Provider: "a", Model: "m"},
		Fallback: []program.Target{{Provider: "b", Model: "m"}},
	}
	resp, err := g.Complete(context.Background(), ref, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "from b", resp.Content)

	ua, _ := g.Usage("a")
	require.Equal(t, int64(1), ua.Requests)
	require.Equal(t, int64(1), ua.Errors)
	ub, _ := g.Usage("b")
	require.Equal(t, int64(1), ub.Requests)
	require.Equal(t, int64(0), ub.Errors)
}

func TestFailoverExhaustionAggregates(t *testing.T) {
	lastErr := errors.New("b is down too")
	a := &fakeClient{err: errors.New("a is down")}
	b := &fakeClient{err: lastErr}
	g := newTestGateway(t,
		[]program.Provider{provider("a"), provider("b")},
		map[string]*fakeClient{"a": a, "b": b})

	ref := program.AdvancedModel{
		Primary:  program.Target{Provider: "a", Model: "m"},
		Fallback: []program.Target{{Provider: "b", Model: "m"}},
	}
	_, err := g.Complete(context.Background(), ref, nil, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, lastErr, "aggregate error wraps the last failure")
	require.Contains(t, err.Error(), "all 2 candidates failed")
}

func TestLatencyOptimizedBehavesAsFailover(t *testing.T) {
	a := &fakeClient{err: errors.New("a is down")}
	b := &fakeClient{resp: &model.Response{Content: "from b"}}
	g := newTestGateway(t,
		[]program.Provider{provider("a"), provider("b")},
		map[string]*fakeClient{"a": a, "b": b})

	ref := program.AdvancedModel{
		Primary:  program.Target{Provider: "a", Model: "m"},
		Fallback: []program.Target{{Provider: "b", Model: "m"}},
		Strategy: program.StrategyLatencyOptimized,
	}
	resp, err := g.Complete(context.Background(), ref, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "from b", resp.Content)
}

func TestCostOptimizedPrefersCheaperModel(t *testing.T) {
	expensive := &fakeClient{}
	cheap := &fakeClient{}
	g := newTestGateway(t,
		[]program.Provider{provider("exp"), provider("chp")},
		map[string]*fakeClient{"exp": expensive, "chp": cheap})

	ref := program.AdvancedModel{
		Primary:  program.Target{Provider: "exp", Model: "claude-opus-4"},
		Fallback: []program.Target{{Provider: "chp", Model: "claude-3-5-haiku"}},
		Strategy: program.StrategyCostOptimized,
	}
	_, err := g.Complete(context.Background(), ref, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, expensive.calls(), "cheaper candidate is tried first")
	require.Equal(t, 1, cheap.calls())
}

func TestRoundRobinRoutesByRequestOrdinal(t *testing.T) {
	p0 := &fakeClient{}
	p1 := &fakeClient{}
	g := newTestGateway(t,
		[]program.Provider{provider("p0"), provider("p1")},
		map[string]*fakeClient{"p0": p0, "p1": p1})

	// Three prior completions anywhere in the gateway.
	for i := 0; i < 3; i++ {
		_, err := g.CompleteWithProvider(context.Background(), "p0", "m", nil, nil)
		require.NoError(t, err)
	}

	ref := program.AdvancedModel{
		Primary:  program.Target{Provider: "p0", Model: "m"},
		Fallback: []program.Target{{Provider: "p1", Model: "m"}},
		Strategy: program.StrategyRoundRobin,
	}
	// Request #4: 4 mod 2 routes to candidate index 0.
	_, err := g.Complete(context.Background(), ref, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 4, p0.calls())
	require.Equal(t, 0, p1.calls())

	// Request #5 rotates to index 1.
	_, err = g.Complete(context.Background(), ref, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, p1.calls())
}

func TestRoundRobinNoFallbackOnFailure(t *testing.T) {
	boom := errors.New("selected candidate down")
	p0 := &fakeClient{err: boom}
	p1 := &fakeClient{}
	g := newTestGateway(t,
		[]program.Provider{provider("p0"), provider("p1")},
		map[string]*fakeClient{"p0": p0, "p1": p1})

	ref := program.AdvancedModel{
		Primary:  program.Target{Provider: "p1", Model: "m"},
		Fallback: []program.Target{{Provider: "p0", Model: "m"}},
		Strategy: program.StrategyRoundRobin,
	}
	// First request routes to index 1 of [p1, p0], which fails; the error
	// surfaces without trying the other candidate.
	_, err := g.Complete(context.Background(), ref, nil, nil)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, p0.calls())
	require.Equal(t, 0, p1.calls())
}

func TestAvailable(t *testing.T) {
	fc := &fakeClient{}
	g := newTestGateway(t, []program.Provider{provider("p")}, map[string]*fakeClient{"p": fc})

	require.True(t, g.Available("p"))
	require.False(t, g.Available("ghost"))
}
