package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ineyio/inferhub"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider is the Gemini API adapter.
type Provider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	models     atomic.Pointer[[]string]
	pinned     bool
}

var (
	_ inferhub.Provider       = (*Provider)(nil)
	_ inferhub.ModelRefresher = (*Provider)(nil)
	_ inferhub.ModelPinner    = (*Provider)(nil)
)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithAPIKey sets the key passed as the "key" query parameter.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithName overrides the provider name (default "gemini").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithModels pins the model list. RefreshModels leaves a pinned list alone.
func WithModels(models ...string) Option {
	return func(p *Provider) {
		ids := append([]string(nil), models...)
		p.models.Store(&ids)
		p.pinned = len(ids) > 0
	}
}

// WithRateLimit throttles outgoing requests. A non-positive rps disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Provider) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// New creates a new Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:       "gemini",
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	p.models.Store(&[]string{})
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsModel(model string) bool {
	for _, m := range *p.models.Load() {
		if m == model {
			return true
		}
	}
	return false
}

func (p *Provider) Models() []string {
	return append([]string(nil), *p.models.Load()...)
}

func (p *Provider) ModelsPinned() bool { return p.pinned }

type listResponse struct {
	Models []struct {
		Name                       string   `json:"name"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
}

// RefreshModels reloads the model set from GET {base}/models. Only models
// that support generateContent are kept; the "models/" prefix is stripped.
// On failure the previous set is kept. A pinned set is not refreshed.
func (p *Provider) RefreshModels(ctx context.Context) error {
	if p.pinned {
		return nil
	}
	if err := p.wait(ctx); err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/models"), nil)
	if err != nil {
		return fmt.Errorf("inferhub: create gemini request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", inferhub.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if err := mapHTTPError(resp); err != nil {
		return err
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("%w: decode gemini model list: %v", inferhub.ErrMalformedResponse, err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		if len(m.SupportedGenerationMethods) > 0 && !contains(m.SupportedGenerationMethods, "generateContent") {
			continue
		}
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	p.models.Store(&ids)
	return nil
}

// Gemini API types.
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (p *Provider) ChatCompletion(ctx context.Context, req inferhub.ProviderRequest) (inferhub.ProviderResponse, error) {
	if err := p.wait(ctx); err != nil {
		return inferhub.ProviderResponse{}, err
	}

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return inferhub.ProviderResponse{}, fmt.Errorf("inferhub: marshal gemini request: %w", err)
	}

	path := "/models/" + url.PathEscape(req.Model) + ":generateContent"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return inferhub.ProviderResponse{}, fmt.Errorf("inferhub: create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return inferhub.ProviderResponse{}, ctx.Err()
		}
		return inferhub.ProviderResponse{}, fmt.Errorf("%w: %v", inferhub.ErrProviderUnavailable, err)
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return inferhub.ProviderResponse{}, err
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return inferhub.ProviderResponse{}, fmt.Errorf("%w: decode gemini response: %v", inferhub.ErrMalformedResponse, err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return inferhub.ProviderResponse{}, fmt.Errorf("%w: empty candidates", inferhub.ErrMalformedResponse)
	}

	return inferhub.ProviderResponse{
		Content:      resp.Candidates[0].Content.Parts[0].Text,
		FinishReason: strings.ToLower(resp.Candidates[0].FinishReason),
		Model:        req.Model,
		Usage: inferhub.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (p *Provider) buildRequest(req inferhub.ProviderRequest) geminiRequest {
	var contents []geminiContent
	for _, m := range req.Messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	gr := geminiRequest{Contents: contents}
	if req.Temperature != nil || req.MaxTokens != nil {
		gr.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return gr
}

func (p *Provider) endpoint(path string) string {
	u := p.baseURL + path
	if p.apiKey != "" {
		u += "?key=" + url.QueryEscape(p.apiKey)
	}
	return u
}

func (p *Provider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return inferhub.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return inferhub.ErrAuthFailed
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", inferhub.ErrInvalidRequest, string(body))
	default:
		return fmt.Errorf("%w: status %d", inferhub.ErrProviderUnavailable, resp.StatusCode)
	}
}
