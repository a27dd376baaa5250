package usage_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ineyio/inferhub"
	"github.com/ineyio/inferhub/sqlstore"
	"github.com/ineyio/inferhub/usage"
)

func newService(t *testing.T, now time.Time) *usage.Service {
	t.Helper()
	logger := zap.NewNop()
	db, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "usage.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlstore.Migrate(db, sqlstore.DriverSQLite, logger))

	return usage.New(sqlstore.New(db, logger),
		usage.WithLocation(time.UTC),
		usage.WithClock(func() time.Time { return now }),
	)
}

func TestService_TodayAndStats(t *testing.T) {
	now := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	s := newService(t, now)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, inferhub.UsageRecord{Model: "gpt", TokensUsed: 10, ElapsedTimeMs: 100, IPAddress: "1.1.1.1"}))
	require.NoError(t, s.Record(ctx, inferhub.UsageRecord{Model: "gpt", TokensUsed: 30, ElapsedTimeMs: 201}))
	require.NoError(t, s.Record(ctx, inferhub.UsageRecord{Model: "groq", TokensUsed: 5, ElapsedTimeMs: 50}))
	require.NoError(t, s.Record(ctx, inferhub.UsageRecord{Model: "gpt", TokensUsed: 99, Date: "2024-05-01"}))

	today, err := s.Today(ctx)
	require.NoError(t, err)
	assert.Len(t, today, 3)
	assert.Equal(t, "2024-05-02", today[0].Date)

	gpt, err := s.TodayByModel(ctx, "gpt")
	require.NoError(t, err)
	assert.Len(t, gpt, 2)

	stats, err := s.StatsToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, []usage.ModelStat{
		{Model: "gpt", Calls: 2, TotalTokens: 40, AvgElapsedMs: 150},
		{Model: "groq", Calls: 1, TotalTokens: 5, AvgElapsedMs: 50},
	}, stats)

	ranged, err := s.StatsBetween(ctx, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ranged[0].Calls)
}

func TestService_RangeValidation(t *testing.T) {
	s := newService(t, time.Now())

	_, err := s.Between(context.Background(), time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, inferhub.ErrInvalidRequest)

	_, err = usage.ParseDate("from", "05/01/2024")
	assert.ErrorIs(t, err, inferhub.ErrInvalidRequest)

	d, err := usage.ParseDate("from", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Day())
}

func TestService_Summary(t *testing.T) {
	s := newService(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, inferhub.UsageRecord{Model: "gpt", TokensUsed: 1, ElapsedTimeMs: 1, Date: "2024-05-01"}))
	require.NoError(t, s.Record(ctx, inferhub.UsageRecord{Model: "gpt", TokensUsed: 2, ElapsedTimeMs: 2, Date: "2024-05-01"}))
	require.NoError(t, s.Record(ctx, inferhub.UsageRecord{Model: "gpt", TokensUsed: 3, ElapsedTimeMs: 3}))

	summary, err := s.Summary(ctx, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, int64(2), summary[0].Count)
	assert.Equal(t, 1.5, summary[0].AverageElapsed)
	assert.Equal(t, "2024-05-02", summary[1].Date)
}

func TestStats_Empty(t *testing.T) {
	assert.Empty(t, usage.Stats(nil))
}

func TestWriteCSV(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, usage.WriteCSV(&buf, []inferhub.UsageRecord{
		{Model: "gpt", TokensUsed: 10, ElapsedTimeMs: 120, IPAddress: "10.0.0.1", Date: "2024-05-01", CreatedAt: created},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Model,TokensUsed,ElapsedTimeMs,IP,Date,CreatedAt", lines[0])
	assert.Equal(t, "gpt,10,120,10.0.0.1,2024-05-01,2024-05-01T10:00:00Z", lines[1])
}

func TestWriteSummaryCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, usage.WriteSummaryCSV(&buf, []inferhub.UsageSummary{
		{Date: "2024-05-01", Model: "gpt", Count: 3, TotalTokens: 60, AverageElapsed: 123.456},
	}))

	assert.Equal(t, "Date,Model,Requests,TotalTokens,AvgElapsedMs\n2024-05-01,gpt,3,60,123.46\n", buf.String())
}
