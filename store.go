package inferhub

import (
	"context"
	"time"
)

// ContextSetStore persists context sets.
type ContextSetStore interface {
	CreateContextSet(ctx context.Context, cs *ContextSet) error
	// GetContextSet returns ErrContextNotFound for an unknown id.
	GetContextSet(ctx context.Context, id int64) (ContextSet, error)
	UpdateContextSet(ctx context.Context, cs ContextSet) error
	ListContextSets(ctx context.Context) ([]ContextSet, error)
}

// LogFilter narrows a log listing. Zero values mean "no filter".
// Project, Provider and Model compare case-insensitively.
type LogFilter struct {
	Project  string
	Provider string
	Model    string
	From     time.Time // inclusive, by created_at
	To       time.Time // inclusive through the end of that day
	Desc     bool
	AfterID  int64 // keyset pagination, ascending id order only
	Limit    int
}

// LogStore persists inference logs. Logs are never updated or deleted.
type LogStore interface {
	CreateLog(ctx context.Context, l *InferenceLog) error
	// GetLog returns ErrNotFound for an unknown id.
	GetLog(ctx context.Context, id int64) (InferenceLog, error)
	ListLogs(ctx context.Context, f LogFilter) ([]InferenceLog, error)
}

// StubStore persists embedding metadata stubs.
type StubStore interface {
	// UpsertStub inserts s unless a stub with the same kind, owner and content
	// type exists. It reports whether a row was created and fills s.ID when so.
	UpsertStub(ctx context.Context, s *Stub) (bool, error)
	ListStubs(ctx context.Context, kind StubKind, ownerID int64) ([]Stub, error)
	ListPendingStubs(ctx context.Context, kind StubKind, limit int) ([]Stub, error)
	// MarkEmbedded returns ErrNotFound for an unknown id.
	MarkEmbedded(ctx context.Context, kind StubKind, id int64) error
}

// UsageSummary aggregates usage for one (date, model) pair.
type UsageSummary struct {
	Date           string  `json:"date" db:"usage_date"`
	Model          string  `json:"model" db:"model"`
	Count          int64   `json:"count" db:"calls"`
	TotalTokens    int64   `json:"totalTokens" db:"total_tokens"`
	AverageElapsed float64 `json:"averageElapsed" db:"avg_elapsed"`
}

// UsageStore persists usage records.
type UsageStore interface {
	CreateUsage(ctx context.Context, u *UsageRecord) error
	// ListUsage returns records with from <= date <= to, optionally for one model.
	ListUsage(ctx context.Context, from, to, model string) ([]UsageRecord, error)
	SummarizeUsage(ctx context.Context, from, to string) ([]UsageSummary, error)
}

// TemplateStore persists context templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *Template) error
	ListTemplates(ctx context.Context, project string) ([]Template, error)
	// DeleteTemplate returns ErrNotFound for an unknown id.
	DeleteTemplate(ctx context.Context, id int64) error
	GetTemplate(ctx context.Context, id int64) (Template, error)
}

// EventPublisher announces freshly created stubs to the embedding pipeline.
type EventPublisher interface {
	PublishStubs(ctx context.Context, stubs []Stub) error
}
