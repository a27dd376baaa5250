package inferhub

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LogRecorder writes inference logs and their embedding stubs.
type LogRecorder struct {
	logs   LogStore
	stubs  StubStore
	events EventPublisher
	logger *zap.Logger
}

// RecorderOption configures a LogRecorder.
type RecorderOption func(*LogRecorder)

// WithEventPublisher announces created stubs through p.
func WithEventPublisher(p EventPublisher) RecorderOption {
	return func(r *LogRecorder) { r.events = p }
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(l *zap.Logger) RecorderOption {
	return func(r *LogRecorder) { r.logger = l }
}

// NewLogRecorder creates a LogRecorder.
func NewLogRecorder(logs LogStore, stubs StubStore, opts ...RecorderOption) *LogRecorder {
	r := &LogRecorder{logs: logs, stubs: stubs}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Record stores l. Successful logs also get their PROMPT, QUERY and RESULT stubs.
// The returned stubs are the ones this call created.
func (r *LogRecorder) Record(ctx context.Context, l *InferenceLog) ([]Stub, error) {
	if err := r.logs.CreateLog(ctx, l); err != nil {
		return nil, fmt.Errorf("inferhub: create log: %w", err)
	}
	if l.Status != LogStatusOK {
		return nil, nil
	}
	return r.EnsureLogStubs(ctx, *l, nil)
}

// EnsureLogStubs creates whichever of the log's stubs are not in existing.
// Creation is an upsert, so a concurrent writer cannot produce duplicates.
func (r *LogRecorder) EnsureLogStubs(ctx context.Context, l InferenceLog, existing []Stub) ([]Stub, error) {
	have := make(map[ContentType]bool, len(existing))
	for _, s := range existing {
		have[s.ContentType] = true
	}

	var created []Stub
	for _, ct := range LogContentTypes {
		if have[ct] {
			continue
		}
		s := Stub{
			Kind:        StubKindLog,
			OwnerID:     l.ID,
			Project:     l.Project,
			ContentType: ct,
			Content:     logContent(l, ct),
		}
		ok, err := r.stubs.UpsertStub(ctx, &s)
		if err != nil {
			return created, fmt.Errorf("inferhub: upsert %s stub for log %d: %w", ct, l.ID, err)
		}
		if ok {
			created = append(created, s)
		}
	}

	r.announce(ctx, created)
	return created, nil
}

// EnsureContextStub creates the CONTEXT stub for cs under project.
func (r *LogRecorder) EnsureContextStub(ctx context.Context, cs ContextSet, project string) (bool, error) {
	s := Stub{
		Kind:        StubKindContext,
		OwnerID:     cs.ID,
		Project:     project,
		ContentType: ContentContext,
		Content:     cs.ContextJSON(),
	}
	ok, err := r.stubs.UpsertStub(ctx, &s)
	if err != nil {
		return false, fmt.Errorf("inferhub: upsert context stub for set %d: %w", cs.ID, err)
	}
	if ok {
		r.announce(ctx, []Stub{s})
	}
	return ok, nil
}

func (r *LogRecorder) announce(ctx context.Context, stubs []Stub) {
	if r.events == nil || len(stubs) == 0 {
		return
	}
	if err := r.events.PublishStubs(ctx, stubs); err != nil {
		r.logger.Warn("publish stub event failed", zap.Int("stubs", len(stubs)), zap.Error(err))
	}
}

func logContent(l InferenceLog, ct ContentType) string {
	switch ct {
	case ContentPrompt:
		return l.Prompt
	case ContentQuery:
		return l.Query
	case ContentResult:
		return l.Result
	default:
		return ""
	}
}
