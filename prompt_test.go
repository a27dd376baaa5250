package inferhub

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatPrompt(t *testing.T) {
	cs := ContextSet{Persona: "Senior engineer", Role: "mentor", Situation: "code review", Goal: "teach", Tone: "kind"}

	got := FormatPrompt("demo", cs.ContextJSON(), "Explain quotas")

	want := "[Project] demo\n\n[Context]\n" +
		"{\n  \"persona\": \"Senior engineer\",\n  \"role\": \"mentor\",\n  \"situation\": \"code review\",\n  \"goal\": \"teach\",\n  \"tone\": \"kind\"\n}" +
		"\n\n[User Query]\nExplain quotas"
	assert.Equal(t, want, got)
}

func TestFormatPrompt_QueryVerbatim(t *testing.T) {
	query := "line one\n\"quoted\" {braces} \\ backslash"
	got := FormatPrompt("p", "{}", query)
	assert.True(t, strings.HasSuffix(got, "[User Query]\n"+query))
}

func TestFormatPromptMap(t *testing.T) {
	got := FormatPromptMap("mcp", map[string]any{
		"currentStep": "collect requirements",
		"schemas": map[string]any{
			"user":  "id, name",
			"order": "id, total",
		},
		"ignored": true,
	}, "What next?")

	want := "[Project] mcp\n" +
		"[Step] collect requirements\n" +
		"[Schemas]\n" +
		"- order: id, total\n" +
		"- user: id, name\n" +
		"\n[User Query]\nWhat next?"
	assert.Equal(t, want, got)
}

func TestFormatPromptMap_Empty(t *testing.T) {
	got := FormatPromptMap("mcp", nil, "hi")
	assert.Equal(t, "[Project] mcp\n"+NoContextMarker+"\n\n[User Query]\nhi", got)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 0, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 100, EstimateTokens(strings.Repeat("x", 400)))
	assert.Equal(t, 100, EstimateTokens(strings.Repeat("x", 403)))
}
