package inferhub

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used for usage dates and quota day markers.
const DateLayout = "2006-01-02"

// ContextSet is a named persona/role/situation/goal/tone bundle used to seed a prompt.
type ContextSet struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Persona   string    `json:"persona" db:"persona"`
	Role      string    `json:"role" db:"role"`
	Situation string    `json:"situation" db:"situation"`
	Goal      string    `json:"goal" db:"goal"`
	Tone      string    `json:"tone" db:"tone"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// ContextJSON renders the set as the JSON-like block embedded under [Context].
// Field values are inserted verbatim.
func (c ContextSet) ContextJSON() string {
	return fmt.Sprintf("{\n  \"persona\": \"%s\",\n  \"role\": \"%s\",\n  \"situation\": \"%s\",\n  \"goal\": \"%s\",\n  \"tone\": \"%s\"\n}",
		c.Persona, c.Role, c.Situation, c.Goal, c.Tone)
}

// LogStatus marks whether an inference log holds a model answer or a dispatch failure.
type LogStatus string

const (
	LogStatusOK    LogStatus = "ok"
	LogStatusError LogStatus = "error"
)

// InferenceLog is the append-only record of one dispatched request.
type InferenceLog struct {
	ID        int64     `json:"id" db:"id"`
	RequestID string    `json:"requestId" db:"request_id"`
	Project   string    `json:"project" db:"project"`
	Provider  string    `json:"provider" db:"provider"`
	Model     string    `json:"model" db:"model"`
	Prompt    string    `json:"prompt" db:"prompt"`
	Query     string    `json:"query" db:"query_text"`
	Result    string    `json:"result" db:"result"`
	Status    LogStatus `json:"status" db:"status"`
	Error     string    `json:"error,omitempty" db:"error_message"`
	ElapsedMs int64     `json:"elapsedMs" db:"elapsed_ms"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// UsageRecord is one usage entry per call that reached a provider.
type UsageRecord struct {
	ID            int64     `json:"id" db:"id"`
	Model         string    `json:"model" db:"model"`
	TokensUsed    int       `json:"tokensUsed" db:"tokens_used"`
	ElapsedTimeMs int64     `json:"elapsedTimeMs" db:"elapsed_time_ms"`
	Date          string    `json:"date" db:"usage_date"`
	IPAddress     string    `json:"ipAddress" db:"ip_address"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// StubKind separates log-derived from context-derived embedding metadata.
type StubKind string

const (
	StubKindLog     StubKind = "log"
	StubKindContext StubKind = "context"
)

// ContentType names which text a stub carries.
type ContentType string

const (
	ContentPrompt  ContentType = "PROMPT"
	ContentQuery   ContentType = "QUERY"
	ContentResult  ContentType = "RESULT"
	ContentContext ContentType = "CONTEXT"
)

// LogContentTypes lists the stubs every successful log owns, in creation order.
var LogContentTypes = []ContentType{ContentPrompt, ContentQuery, ContentResult}

// Stub marks a piece of text as pending (or done) for an external embedding pipeline.
// At most one stub exists per (Kind, OwnerID, ContentType).
type Stub struct {
	ID          int64       `json:"id" db:"id"`
	Kind        StubKind    `json:"kind" db:"-"`
	OwnerID     int64       `json:"ownerId" db:"owner_id"`
	Project     string      `json:"project" db:"project"`
	ContentType ContentType `json:"contentType" db:"content_type"`
	Content     string      `json:"content" db:"content"`
	Embedded    bool        `json:"embedded" db:"embedded"`
	CreatedAt   time.Time   `json:"createdAt" db:"created_at"`
}

// Template is a reusable key/value context for the map-based prompt path.
type Template struct {
	ID          int64          `json:"id"`
	Project     string         `json:"project"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// ModelInfo describes a model offered by a registered provider.
type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Source   string `json:"source"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage represents token usage information reported by a provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}
