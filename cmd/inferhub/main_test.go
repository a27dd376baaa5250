package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/ineyio/inferhub"
)

func TestBuildProviders(t *testing.T) {
	providers, err := buildProviders([]inferhub.ProviderConfig{
		{Name: "groq", Kind: inferhub.ProviderKindOpenAI, BaseURL: "https://api.groq.com/openai/v1", Models: []string{"llama3-8b"}},
		{Name: "gemini", Kind: inferhub.ProviderKindGemini, RequestsPerSecond: 2, Burst: 1},
	})
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "groq", providers[0].Name())
	assert.True(t, providers[0].SupportsModel("llama3-8b"))
	assert.Equal(t, "gemini", providers[1].Name())

	_, err = buildProviders([]inferhub.ProviderConfig{{Name: "x", Kind: "grpc"}})
	assert.Error(t, err)
}

func TestBuildProviders_ConfiguredModelsSurviveRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"other-model"}]}`))
	}))
	defer srv.Close()

	providers, err := buildProviders([]inferhub.ProviderConfig{
		{Name: "groq", Kind: inferhub.ProviderKindOpenAI, BaseURL: srv.URL, Models: []string{"llama3-8b"}},
		{Name: "together", Kind: inferhub.ProviderKindOpenAI, BaseURL: srv.URL},
	})
	require.NoError(t, err)

	router, err := inferhub.NewRouter(providers)
	require.NoError(t, err)
	_, err = router.Refresh(context.Background())
	require.NoError(t, err)

	p, err := router.Resolve("llama3-8b")
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())

	p, err = router.Resolve("other-model")
	require.NoError(t, err)
	assert.Equal(t, "together", p.Name())

	assert.Equal(t, []inferhub.ModelInfo{
		{ID: "llama3-8b", Provider: "groq", Source: "static"},
		{ID: "other-model", Provider: "together", Source: "discovered from together"},
	}, router.Models())
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(inferhub.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = newLogger(inferhub.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
