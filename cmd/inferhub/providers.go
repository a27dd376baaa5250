package main

import (
	"fmt"
	"net/http"

	"github.com/ineyio/inferhub"
	"github.com/ineyio/inferhub/provider/gemini"
	"github.com/ineyio/inferhub/provider/openaicompat"
)

// buildProviders creates adapters in config order, which is also the order
// that decides who wins a model claimed twice.
func buildProviders(cfgs []inferhub.ProviderConfig) ([]inferhub.Provider, error) {
	out := make([]inferhub.Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		client := &http.Client{Timeout: pc.HTTPTimeout}

		switch pc.Kind {
		case inferhub.ProviderKindOpenAI:
			opts := []openaicompat.Option{
				openaicompat.WithHTTPClient(client),
				openaicompat.WithAPIKey(pc.APIKey),
			}
			if len(pc.Models) > 0 {
				opts = append(opts, openaicompat.WithModels(pc.Models...))
			}
			if pc.RequestsPerSecond > 0 {
				opts = append(opts, openaicompat.WithRateLimit(pc.RequestsPerSecond, pc.Burst))
			}
			out = append(out, openaicompat.New(pc.Name, pc.BaseURL, opts...))

		case inferhub.ProviderKindGemini:
			opts := []gemini.Option{
				gemini.WithName(pc.Name),
				gemini.WithHTTPClient(client),
				gemini.WithAPIKey(pc.APIKey),
			}
			if pc.BaseURL != "" {
				opts = append(opts, gemini.WithBaseURL(pc.BaseURL))
			}
			if len(pc.Models) > 0 {
				opts = append(opts, gemini.WithModels(pc.Models...))
			}
			if pc.RequestsPerSecond > 0 {
				opts = append(opts, gemini.WithRateLimit(pc.RequestsPerSecond, pc.Burst))
			}
			out = append(out, gemini.New(opts...))

		default:
			return nil, fmt.Errorf("provider %q: unknown kind %q", pc.Name, pc.Kind)
		}
	}
	return out, nil
}
