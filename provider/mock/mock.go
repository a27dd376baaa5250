package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/inferhub"
)

// Provider is a mock LLM provider for testing.
type Provider struct {
	name         string
	mu           sync.RWMutex
	models       []string
	discovered   []string
	refreshErr   error
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	usage        inferhub.Usage
	responseFunc func(inferhub.ProviderRequest) (inferhub.ProviderResponse, error)
	lastRequest  atomic.Pointer[inferhub.ProviderRequest]
}

var (
	_ inferhub.Provider       = (*Provider)(nil)
	_ inferhub.ModelRefresher = (*Provider)(nil)
	_ inferhub.ModelPinner    = (*Provider)(nil)
)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:   "mock",
		models: []string{"mock-model"},
		usage: inferhub.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithModels sets supported models.
func WithModels(models ...string) Option {
	return func(p *Provider) { p.models = models }
}

// WithDiscovery makes RefreshModels replace the model list with models,
// or fail with err when err is non-nil.
func WithDiscovery(err error, models ...string) Option {
	return func(p *Provider) {
		p.refreshErr = err
		p.discovered = models
	}
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u inferhub.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(inferhub.ProviderRequest) (inferhub.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsModel(model string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *Provider) Models() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.models...)
}

// ModelsPinned is true unless WithDiscovery was given.
func (p *Provider) ModelsPinned() bool {
	return p.discovered == nil && p.refreshErr == nil
}

// RefreshModels is a no-op unless WithDiscovery was given.
func (p *Provider) RefreshModels(ctx context.Context) error {
	if p.refreshErr != nil {
		return p.refreshErr
	}
	if p.discovered == nil {
		return nil
	}
	p.mu.Lock()
	p.models = append([]string(nil), p.discovered...)
	p.mu.Unlock()
	return nil
}

func (p *Provider) ChatCompletion(ctx context.Context, req inferhub.ProviderRequest) (inferhub.ProviderResponse, error) {
	p.lastRequest.Store(&req)

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return inferhub.ProviderResponse{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)

	if p.staticErr != nil {
		return inferhub.ProviderResponse{}, p.staticErr
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return inferhub.ProviderResponse{}, inferhub.ErrProviderUnavailable
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return inferhub.ProviderResponse{
		ID:           "mock-response-id",
		Content:      "Hello from mock provider",
		FinishReason: "stop",
		Usage:        p.usage,
		Model:        req.Model,
	}, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// LastRequest returns the most recent request, if any.
func (p *Provider) LastRequest() (inferhub.ProviderRequest, bool) {
	r := p.lastRequest.Load()
	if r == nil {
		return inferhub.ProviderRequest{}, false
	}
	return *r, true
}
