package inferhub

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
providers:
  - name: groq
    base_url: https://api.groq.com/openai/v1
`))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "inferhub.db", cfg.Database.DSN)
	assert.Equal(t, ProviderKindOpenAI, cfg.Providers[0].Kind)
	assert.Equal(t, "memory", cfg.Quota.Backend)
	assert.Equal(t, int64(1000), cfg.Quota.Default)
	assert.Equal(t, int64(1500), cfg.Quota.QuotaLimits().Limit("gpt"))
	assert.Equal(t, int64(500), cfg.Quota.QuotaLimits().Limit("claude"))
	assert.Equal(t, int64(1000), cfg.Quota.QuotaLimits().Limit("unknown"))
	assert.Equal(t, 60*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, time.Hour, cfg.Backfill.LogInterval)
	assert.Equal(t, "mcp", cfg.Backfill.ContextProject)
	assert.True(t, cfg.Backfill.BackfillEnabled())
}

func TestParseConfig_Full(t *testing.T) {
	t.Setenv("TEST_GROQ_KEY", "gsk-123")

	cfg, err := ParseConfig([]byte(`
server:
  addr: ":9090"
database:
  driver: postgres
  dsn: postgres://localhost/inferhub
providers:
  - name: groq
    kind: openai
    base_url: https://api.groq.com/openai/v1
    api_key: ${TEST_GROQ_KEY}
    requests_per_second: 2
    burst: 4
  - name: gemini
    kind: gemini
    models: [gemini-1.5-flash]
quota:
  default_limit: 10
  limits:
    llama3-8b: 3
  timezone: Asia/Seoul
dispatch:
  timeout: 5s
backfill:
  enabled: false
  log_interval: 30m
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "gsk-123", cfg.Providers[0].APIKey)
	assert.Equal(t, 2.0, cfg.Providers[0].RequestsPerSecond)
	assert.Equal(t, []string{"gemini-1.5-flash"}, cfg.Providers[1].Models)
	assert.Equal(t, int64(3), cfg.Quota.QuotaLimits().Limit("llama3-8b"))
	assert.Equal(t, int64(10), cfg.Quota.QuotaLimits().Limit("gpt"))
	assert.Equal(t, 5*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Backfill.LogInterval)
	assert.False(t, cfg.Backfill.BackfillEnabled())

	loc, err := cfg.Quota.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", loc.String())
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no providers", `providers: []`},
		{"missing name", "providers:\n  - base_url: http://x\n"},
		{"duplicate", "providers:\n  - {name: a, base_url: http://x}\n  - {name: a, base_url: http://y}\n"},
		{"missing base url", "providers:\n  - name: a\n"},
		{"bad kind", "providers:\n  - {name: a, kind: soap}\n"},
		{"bad driver", "providers:\n  - {name: a, base_url: http://x}\ndatabase:\n  driver: oracle\n"},
		{"postgres without dsn", "providers:\n  - {name: a, base_url: http://x}\ndatabase:\n  driver: postgres\n"},
		{"redis without addr", "providers:\n  - {name: a, base_url: http://x}\nquota:\n  backend: redis\n"},
		{"postgres quota on sqlite", "providers:\n  - {name: a, base_url: http://x}\nquota:\n  backend: postgres\n"},
		{"bad timezone", "providers:\n  - {name: a, base_url: http://x}\nquota:\n  timezone: Mars/Olympus\n"},
		{"admin without hash", "providers:\n  - {name: a, base_url: http://x}\nadmin:\n  jwt_secret: s\n  username: root\n"},
		{"not yaml", "providers: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	cfgPath := filepath.Join(dir, "config.yml")

	require.NoError(t, os.WriteFile(envPath, []byte("INFERHUB_TEST_TOGETHER_KEY=tk-9\n"), 0o600))
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
providers:
  - name: together
    base_url: https://api.together.xyz/v1
    api_key: ${INFERHUB_TEST_TOGETHER_KEY}
`), 0o600))
	t.Cleanup(func() { os.Unsetenv("INFERHUB_TEST_TOGETHER_KEY") })

	cfg, err := LoadConfig(cfgPath, envPath)
	require.NoError(t, err)
	assert.Equal(t, "tk-9", cfg.Providers[0].APIKey)
}

func TestLoadConfig_MissingEnvFileIgnored(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("providers:\n  - {name: a, base_url: http://x}\n"), 0o600))

	_, err := LoadConfig(cfgPath, filepath.Join(dir, "missing.env"))
	assert.NoError(t, err)

	_, err = LoadConfig(filepath.Join(dir, "nope.yml"), filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}
