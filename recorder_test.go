package inferhub

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStubs is a StubStore keyed the same way the SQL tables are.
type memStubs struct {
	mu     sync.Mutex
	nextID int64
	rows   map[StubKind][]Stub
	failOn ContentType
}

func newMemStubs() *memStubs { return &memStubs{rows: map[StubKind][]Stub{}} }

func (m *memStubs) UpsertStub(_ context.Context, s *Stub) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ContentType == m.failOn {
		return false, errors.New("write failed")
	}
	for _, r := range m.rows[s.Kind] {
		if r.OwnerID == s.OwnerID && r.ContentType == s.ContentType {
			return false, nil
		}
	}
	m.nextID++
	s.ID = m.nextID
	m.rows[s.Kind] = append(m.rows[s.Kind], *s)
	return true, nil
}

func (m *memStubs) ListStubs(_ context.Context, kind StubKind, ownerID int64) ([]Stub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Stub
	for _, r := range m.rows[kind] {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStubs) ListPendingStubs(context.Context, StubKind, int) ([]Stub, error) { return nil, nil }
func (m *memStubs) MarkEmbedded(context.Context, StubKind, int64) error            { return nil }

type memLogs struct {
	nextID int64
	logs   []InferenceLog
}

func (m *memLogs) CreateLog(_ context.Context, l *InferenceLog) error {
	m.nextID++
	l.ID = m.nextID
	m.logs = append(m.logs, *l)
	return nil
}

func (m *memLogs) GetLog(context.Context, int64) (InferenceLog, error) {
	return InferenceLog{}, ErrNotFound
}

func (m *memLogs) ListLogs(context.Context, LogFilter) ([]InferenceLog, error) { return m.logs, nil }

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishStubs(context.Context, []Stub) error {
	p.calls++
	return errors.New("nats down")
}

func TestRecord_CreatesThreeStubs(t *testing.T) {
	stubs := newMemStubs()
	r := NewLogRecorder(&memLogs{}, stubs)

	l := InferenceLog{Project: "demo", Prompt: "P", Query: "Q", Result: "R", Status: LogStatusOK}
	created, err := r.Record(context.Background(), &l)
	require.NoError(t, err)
	require.Len(t, created, 3)

	assert.Equal(t, ContentPrompt, created[0].ContentType)
	assert.Equal(t, "P", created[0].Content)
	assert.Equal(t, "Q", created[1].Content)
	assert.Equal(t, "R", created[2].Content)
	for _, s := range created {
		assert.Equal(t, l.ID, s.OwnerID)
		assert.Equal(t, StubKindLog, s.Kind)
	}
}

func TestRecord_ErrorLogHasNoStubs(t *testing.T) {
	stubs := newMemStubs()
	r := NewLogRecorder(&memLogs{}, stubs)

	l := InferenceLog{Project: "demo", Status: LogStatusError, Error: "boom"}
	created, err := r.Record(context.Background(), &l)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, stubs.rows[StubKindLog])
}

func TestEnsureLogStubs_OnlyMissing(t *testing.T) {
	stubs := newMemStubs()
	r := NewLogRecorder(&memLogs{}, stubs)
	ctx := context.Background()

	l := InferenceLog{ID: 4, Project: "demo", Prompt: "P", Query: "Q", Result: "R"}
	existing := Stub{Kind: StubKindLog, OwnerID: 4, ContentType: ContentQuery, Content: "Q"}
	_, err := stubs.UpsertStub(ctx, &existing)
	require.NoError(t, err)

	created, err := r.EnsureLogStubs(ctx, l, []Stub{existing})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, ContentPrompt, created[0].ContentType)
	assert.Equal(t, ContentResult, created[1].ContentType)

	// A second pass with a stale "existing" list still writes nothing new.
	created, err = r.EnsureLogStubs(ctx, l, nil)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestEnsureLogStubs_StopsOnWriteError(t *testing.T) {
	stubs := newMemStubs()
	stubs.failOn = ContentResult
	r := NewLogRecorder(&memLogs{}, stubs)

	created, err := r.EnsureLogStubs(context.Background(), InferenceLog{ID: 1}, nil)
	require.Error(t, err)
	assert.Len(t, created, 2)
}

func TestEnsureContextStub(t *testing.T) {
	stubs := newMemStubs()
	r := NewLogRecorder(&memLogs{}, stubs)
	ctx := context.Background()
	cs := ContextSet{ID: 9, Persona: "p"}

	ok, err := r.EnsureContextStub(ctx, cs, "mcp")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.EnsureContextStub(ctx, cs, "mcp")
	require.NoError(t, err)
	assert.False(t, ok)

	rows, _ := stubs.ListStubs(ctx, StubKindContext, 9)
	require.Len(t, rows, 1)
	assert.Equal(t, ContentContext, rows[0].ContentType)
	assert.Equal(t, cs.ContextJSON(), rows[0].Content)
	assert.Equal(t, "mcp", rows[0].Project)
}

func TestRecord_PublishFailureIsNotFatal(t *testing.T) {
	pub := &failingPublisher{}
	r := NewLogRecorder(&memLogs{}, newMemStubs(), WithEventPublisher(pub))

	l := InferenceLog{Status: LogStatusOK}
	created, err := r.Record(context.Background(), &l)
	require.NoError(t, err)
	assert.Len(t, created, 3)
	assert.Equal(t, 1, pub.calls)
}
