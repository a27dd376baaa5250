package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ineyio/inferhub"
)

// Provider is a universal OpenAI-compatible API adapter.
// Works with Groq, Together, OpenAI, Ollama, and others.
type Provider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	models     atomic.Pointer[modelSet]
	pinned     bool
}

var (
	_ inferhub.Provider       = (*Provider)(nil)
	_ inferhub.ModelRefresher = (*Provider)(nil)
	_ inferhub.ModelPinner    = (*Provider)(nil)
)

type modelSet struct {
	ids    []string
	lookup map[string]struct{}
}

func newModelSet(ids []string) *modelSet {
	s := &modelSet{lookup: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if _, dup := s.lookup[id]; dup || id == "" {
			continue
		}
		s.lookup[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return s
}

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithModels pins the model list. RefreshModels leaves a pinned list alone.
func WithModels(models ...string) Option {
	return func(p *Provider) {
		p.models.Store(newModelSet(models))
		p.pinned = len(models) > 0
	}
}

// WithBaseURL overrides the base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithRateLimit throttles outgoing requests. A non-positive rps disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Provider) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	p.models.Store(newModelSet(nil))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewGroq creates a provider for Groq.
func NewGroq(opts ...Option) *Provider {
	return New("groq", "https://api.groq.com/openai/v1", opts...)
}

// NewTogether creates a provider for Together.
func NewTogether(opts ...Option) *Provider {
	return New("together", "https://api.together.xyz/v1", opts...)
}

func (p *Provider) Name() string { return p.name }

// SupportsModel reports exact membership in the current model set.
func (p *Provider) SupportsModel(model string) bool {
	_, ok := p.models.Load().lookup[model]
	return ok
}

func (p *Provider) Models() []string {
	return append([]string(nil), p.models.Load().ids...)
}

// ModelsPinned reports whether WithModels fixed the model set.
func (p *Provider) ModelsPinned() bool { return p.pinned }

// listResponse covers both {"data":[{"id":...}]} and a bare [{"id":...}].
type listEntry struct {
	ID string `json:"id"`
}

type listResponse struct {
	Data []listEntry `json:"data"`
}

// RefreshModels reloads the model set from GET {base}/models.
// On failure the previous set is kept. A pinned set is not refreshed.
func (p *Provider) RefreshModels(ctx context.Context) error {
	if p.pinned {
		return nil
	}
	if err := p.wait(ctx); err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("inferhub: create request: %w", err)
	}
	p.authorize(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", inferhub.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if err := mapHTTPError(resp); err != nil {
		return err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read model list: %v", inferhub.ErrProviderUnavailable, err)
	}

	entries, err := decodeModelList(raw)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	p.models.Store(newModelSet(ids))
	return nil
}

func decodeModelList(raw []byte) ([]listEntry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []listEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("%w: decode model list: %v", inferhub.ErrMalformedResponse, err)
		}
		return entries, nil
	}

	var list listResponse
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("%w: decode model list: %v", inferhub.ErrMalformedResponse, err)
	}
	return list.Data, nil
}

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse is the OpenAI chat completion response format.
type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) ChatCompletion(ctx context.Context, req inferhub.ProviderRequest) (inferhub.ProviderResponse, error) {
	if err := p.wait(ctx); err != nil {
		return inferhub.ProviderResponse{}, err
	}

	httpResp, err := p.doRequest(ctx, p.buildRequest(req))
	if err != nil {
		return inferhub.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return inferhub.ProviderResponse{}, err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return inferhub.ProviderResponse{}, fmt.Errorf("%w: %v", inferhub.ErrMalformedResponse, err)
	}

	if len(resp.Choices) == 0 {
		return inferhub.ProviderResponse{}, fmt.Errorf("%w: empty choices", inferhub.ErrMalformedResponse)
	}

	return inferhub.ProviderResponse{
		ID:           resp.ID,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Model:        resp.Model,
		Usage: inferhub.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *Provider) buildRequest(req inferhub.ProviderRequest) apiRequest {
	msgs := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = apiMessage{Role: m.Role, Content: m.Content}
	}
	return apiRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func (p *Provider) doRequest(ctx context.Context, body apiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("inferhub: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("inferhub: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	p.authorize(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", inferhub.ErrProviderUnavailable, err)
	}

	return resp, nil
}

func (p *Provider) authorize(r *http.Request) {
	if p.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

func (p *Provider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
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
