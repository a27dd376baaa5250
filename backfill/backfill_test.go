package backfill_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ineyio/inferhub"
	"github.com/ineyio/inferhub/backfill"
	"github.com/ineyio/inferhub/sqlstore"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	logger := zap.NewNop()
	db, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "backfill.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlstore.Migrate(db, sqlstore.DriverSQLite, logger))
	return sqlstore.New(db, logger)
}

func newReconciler(store *sqlstore.Store, opts ...backfill.Option) *backfill.Reconciler {
	return backfill.NewReconciler(store, store, store, inferhub.NewLogRecorder(store, store), opts...)
}

// seedLogs writes logs directly so none of them has stubs.
func seedLogs(t *testing.T, store *sqlstore.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		l := inferhub.InferenceLog{
			Project: "demo", Provider: "groq", Model: "llama3-8b",
			Prompt: fmt.Sprintf("p%d", i), Query: fmt.Sprintf("q%d", i), Result: fmt.Sprintf("r%d", i),
			Status: inferhub.LogStatusOK,
		}
		require.NoError(t, store.CreateLog(context.Background(), &l))
	}
}

func TestLogPass_CreatesMissingStubsOnce(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedLogs(t, store, 7)

	failed := inferhub.InferenceLog{Project: "demo", Status: inferhub.LogStatusError, Error: "boom"}
	require.NoError(t, store.CreateLog(ctx, &failed))

	r := newReconciler(store, backfill.WithPageSize(3), backfill.WithWorkers(2))

	res, err := r.LogPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Scanned)
	assert.Equal(t, int64(21), res.Created)
	assert.Zero(t, res.Failed)

	res, err = r.LogPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)

	stubs, err := store.ListStubs(ctx, inferhub.StubKindLog, failed.ID)
	require.NoError(t, err)
	assert.Empty(t, stubs)
}

func TestLogPass_FillsPartialStubs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedLogs(t, store, 1)

	logs, err := store.ListLogs(ctx, inferhub.LogFilter{})
	require.NoError(t, err)
	s := inferhub.Stub{Kind: inferhub.StubKindLog, OwnerID: logs[0].ID, Project: "demo", ContentType: inferhub.ContentQuery, Content: "q0"}
	_, err = store.UpsertStub(ctx, &s)
	require.NoError(t, err)

	res, err := newReconciler(store).LogPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Created)

	stubs, err := store.ListStubs(ctx, inferhub.StubKindLog, logs[0].ID)
	require.NoError(t, err)
	assert.Len(t, stubs, 3)
}

func TestContextPass(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		cs := inferhub.ContextSet{Name: name, Persona: "p-" + name}
		require.NoError(t, store.CreateContextSet(ctx, &cs))
	}

	r := newReconciler(store, backfill.WithContextProject("mcp"))
	res, err := r.ContextPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Scanned)
	assert.Equal(t, int64(2), res.Created)

	res, err = r.ContextPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)

	sets, err := store.ListContextSets(ctx)
	require.NoError(t, err)
	stubs, err := store.ListStubs(ctx, inferhub.StubKindContext, sets[0].ID)
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	assert.Equal(t, "mcp", stubs[0].Project)
	assert.Equal(t, sets[0].ContextJSON(), stubs[0].Content)
}

func TestScheduler_RunOnce(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedLogs(t, store, 2)
	cs := inferhub.ContextSet{Name: "c"}
	require.NoError(t, store.CreateContextSet(ctx, &cs))

	s := backfill.NewScheduler(newReconciler(store), time.Hour, time.Hour, nil)
	rep, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, rep.RunID, 26)
	assert.Equal(t, int64(6), rep.Logs.Created)
	assert.Equal(t, int64(1), rep.Contexts.Created)
}

func TestScheduler_RunStartsImmediatelyAndStops(t *testing.T) {
	store := newStore(t)
	seedLogs(t, store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s := backfill.NewScheduler(newReconciler(store), time.Hour, time.Hour, nil)
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		logs, err := store.ListLogs(context.Background(), inferhub.LogFilter{})
		if err != nil || len(logs) == 0 {
			return false
		}
		stubs, err := store.ListStubs(context.Background(), inferhub.StubKindLog, logs[0].ID)
		return err == nil && len(stubs) == 3
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
