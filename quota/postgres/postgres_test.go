//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/inferhub"
	quotapg "github.com/ineyio/inferhub/quota/postgres"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/inferhub_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestGate(t *testing.T, pool *pgxpool.Pool, limits inferhub.QuotaLimits, opts ...quotapg.Option) *quotapg.Gate {
	t.Helper()
	// A prefix per test keeps tables apart.
	prefix := fmt.Sprintf("test_%s_", strings.ToLower(t.Name()))
	opts = append([]quotapg.Option{quotapg.WithTablePrefix(prefix), quotapg.WithLocation(time.UTC)}, opts...)
	g := quotapg.New(pool, limits, opts...)

	ctx := context.Background()
	require.NoError(t, g.EnsureSchema(ctx))
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %squota_counters", prefix))
	})
	return g
}

func TestAdmit_Limit(t *testing.T) {
	g := newTestGate(t, newTestPool(t), inferhub.QuotaLimits{Default: 2})
	ctx := context.Background()

	require.NoError(t, g.Admit(ctx, "m"))
	require.NoError(t, g.Admit(ctx, "m"))

	err := g.Admit(ctx, "m")
	var qe *inferhub.QuotaError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, int64(2), qe.Used)

	snap, err := g.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, int64(2), snap[0].Used)
}

func TestAdmit_ZeroLimit(t *testing.T) {
	g := newTestGate(t, newTestPool(t), inferhub.QuotaLimits{Default: 5, PerModel: map[string]int64{"off": 0}})

	assert.ErrorIs(t, g.Admit(context.Background(), "off"), inferhub.ErrQuotaExceeded)
}

func TestAdmit_NewDay(t *testing.T) {
	now := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	g := newTestGate(t, newTestPool(t), inferhub.QuotaLimits{Default: 1}, quotapg.WithClock(clock))
	ctx := context.Background()

	require.NoError(t, g.Admit(ctx, "m"))
	require.Error(t, g.Admit(ctx, "m"))

	now = now.Add(2 * time.Minute)
	require.NoError(t, g.Admit(ctx, "m"))

	n, err := g.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAdmit_Concurrent(t *testing.T) {
	g := newTestGate(t, newTestPool(t), inferhub.QuotaLimits{Default: 25})
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit(ctx, "m") == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(25), admitted.Load())
}
