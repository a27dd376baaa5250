package inferhub

import "context"

// Provider is the interface that upstream AI service adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "groq", "together", "gemini").
	Name() string

	// SupportsModel returns true if this provider can handle the given model.
	SupportsModel(model string) bool

	// Models returns the currently known model ids.
	Models() []string

	// ChatCompletion performs a synchronous chat completion.
	ChatCompletion(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// ModelRefresher is implemented by providers that discover their models
// through the upstream listing endpoint. A failed refresh keeps the previous set.
type ModelRefresher interface {
	RefreshModels(ctx context.Context) error
}

// ModelPinner is implemented by providers whose model set can be fixed by
// configuration. A pinned set is never replaced by a refresh.
type ModelPinner interface {
	ModelsPinned() bool
}

// ProviderRequest is the request sent to a provider adapter.
type ProviderRequest struct {
	Model    string
	Messages []Message

	Temperature *float64
	MaxTokens   *int
}

// ProviderResponse is the response from a provider adapter.
type ProviderResponse struct {
	ID           string
	Content      string
	FinishReason string
	Usage        Usage
	Model        string
}

// UserPrompt wraps a single prompt as the one-message conversation providers expect.
func UserPrompt(prompt string) []Message {
	return []Message{{Role: "user", Content: prompt}}
}
