package inferhub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Router dispatches prompts to the provider that claims the requested model.
type Router struct {
	order     []string
	providers map[string]Provider
	meter     Meter
	logger    *zap.Logger
	health    *HealthTracker
	strict    bool
}

// Option configures a Router.
type Option func(*Router)

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(r *Router) { r.meter = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithHealthTracker replaces the default provider health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(r *Router) { r.health = h }
}

// WithStrictConflicts makes Refresh fail when two providers claim the same model.
// Without it conflicts are logged and registration order decides.
func WithStrictConflicts() Option {
	return func(r *Router) { r.strict = true }
}

// NewRouter creates a Router. Providers are consulted in the order given.
func NewRouter(providers []Provider, opts ...Option) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("inferhub: at least one provider is required")
	}

	r := &Router{
		providers: make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		name := p.Name()
		if _, dup := r.providers[name]; dup {
			return nil, fmt.Errorf("inferhub: duplicate provider name %q", name)
		}
		r.providers[name] = p
		r.order = append(r.order, name)
	}

	for _, opt := range opts {
		opt(r)
	}
	if r.meter == nil {
		r.meter = noopMeter{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.health == nil {
		r.health = NewHealthTracker(nil)
	}

	return r, nil
}

// ModelConflict is a model id claimed by more than one provider.
type ModelConflict struct {
	Model     string   `json:"model"`
	Providers []string `json:"providers"` // registration order; the first one wins
}

// Refresh reloads model lists from providers that support discovery and checks
// for conflicting claims. A provider whose listing fails keeps its previous
// model set and is logged; it does not fail the refresh.
func (r *Router) Refresh(ctx context.Context) ([]ModelConflict, error) {
	for _, name := range r.order {
		refresher, ok := r.providers[name].(ModelRefresher)
		if !ok || pinned(r.providers[name]) {
			continue
		}
		if err := refresher.RefreshModels(ctx); err != nil {
			r.logger.Warn("model list refresh failed",
				zap.String("provider", name),
				zap.Error(err),
			)
			continue
		}
		r.logger.Info("model list refreshed",
			zap.String("provider", name),
			zap.Int("models", len(r.providers[name].Models())),
		)
	}

	conflicts := r.Conflicts()
	for _, c := range conflicts {
		r.logger.Warn("model claimed by several providers",
			zap.String("model", c.Model),
			zap.Strings("providers", c.Providers),
			zap.String("winner", c.Providers[0]),
		)
	}
	if r.strict && len(conflicts) > 0 {
		models := make([]string, len(conflicts))
		for i, c := range conflicts {
			models[i] = c.Model
		}
		return conflicts, fmt.Errorf("%w: %s", ErrModelConflict, strings.Join(models, ", "))
	}
	return conflicts, nil
}

// Conflicts lists models claimed by more than one provider, sorted by model id.
func (r *Router) Conflicts() []ModelConflict {
	claims := make(map[string][]string)
	for _, name := range r.order {
		seen := make(map[string]bool)
		for _, m := range r.providers[name].Models() {
			if seen[m] {
				continue
			}
			seen[m] = true
			claims[m] = append(claims[m], name)
		}
	}

	var conflicts []ModelConflict
	for model, names := range claims {
		if len(names) > 1 {
			conflicts = append(conflicts, ModelConflict{Model: model, Providers: names})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Model < conflicts[j].Model })
	return conflicts
}

// Resolve returns the first provider, in registration order, that supports model.
func (r *Router) Resolve(model string) (Provider, error) {
	for _, name := range r.order {
		p := r.providers[name]
		if p.SupportsModel(model) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
}

// Completion is the successful outcome of a dispatch.
type Completion struct {
	Provider string
	Model    string
	Content  string
	Usage    Usage
	Elapsed  time.Duration
}

// Route sends prompt to the provider claiming model. Elapsed time covers the
// provider call only. Provider failures are returned as *ProviderError, with
// the elapsed time still reported in the Completion.
func (r *Router) Route(ctx context.Context, model, prompt string) (Completion, error) {
	p, err := r.Resolve(model)
	if err != nil {
		return Completion{}, err
	}

	r.meter.OnDispatch(DispatchEvent{
		Provider:        p.Name(),
		Model:           model,
		EstimatedTokens: EstimateTokens(prompt),
	})

	start := time.Now()
	resp, err := p.ChatCompletion(ctx, ProviderRequest{
		Model:    model,
		Messages: UserPrompt(prompt),
	})
	elapsed := time.Since(start)

	out := Completion{Provider: p.Name(), Model: model, Elapsed: elapsed}

	if err != nil {
		r.meter.OnResult(ResultEvent{
			Provider: p.Name(),
			Model:    model,
			Success:  false,
			Duration: elapsed,
			Error:    err,
		})
		if !errors.Is(err, context.Canceled) {
			r.health.RecordFailure(p.Name(), err)
		}
		return out, &ProviderError{Provider: p.Name(), Model: model, Err: err}
	}

	r.meter.OnResult(ResultEvent{
		Provider: p.Name(),
		Model:    model,
		Success:  true,
		Duration: elapsed,
		Usage:    resp.Usage,
	})
	r.health.RecordSuccess(p.Name())

	out.Content = resp.Content
	out.Usage = resp.Usage
	return out, nil
}

// Models lists every model known to the registered providers, grouped by
// provider in registration order.
func (r *Router) Models() []ModelInfo {
	var out []ModelInfo
	for _, name := range r.order {
		p := r.providers[name]
		source := "discovered from " + name
		if pinned(p) {
			source = "static"
		}
		models := append([]string(nil), p.Models()...)
		sort.Strings(models)
		for _, m := range models {
			out = append(out, ModelInfo{
				ID:       m,
				Provider: name,
				Source:   source,
			})
		}
	}
	return out
}

// pinned reports whether p's model set is fixed, either explicitly or because
// it cannot be refreshed at all.
func pinned(p Provider) bool {
	if mp, ok := p.(ModelPinner); ok {
		return mp.ModelsPinned()
	}
	_, refreshes := p.(ModelRefresher)
	return !refreshes
}

// Providers returns the provider names in registration order.
func (r *Router) Providers() []string {
	return append([]string(nil), r.order...)
}

// Health reports the recent dispatch health of every registered provider in
// registration order. Providers never dispatched to are healthy.
func (r *Router) Health() []ProviderHealth {
	seen := make(map[string]ProviderHealth)
	for _, ph := range r.health.Snapshot() {
		seen[ph.Provider] = ph
	}
	out := make([]ProviderHealth, 0, len(r.order))
	for _, name := range r.order {
		ph, ok := seen[name]
		if !ok {
			ph = ProviderHealth{Provider: name, State: HealthHealthy}
		}
		out = append(out, ph)
	}
	return out
}
