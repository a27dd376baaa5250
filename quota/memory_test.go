package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/inferhub"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func limits(def int64, per map[string]int64) inferhub.QuotaLimits {
	return inferhub.QuotaLimits{Default: def, PerModel: per}
}

func TestDailyGate_Boundary(t *testing.T) {
	g := NewDailyGate(limits(10, map[string]int64{"gpt": 3}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Admit(ctx, "gpt"), "call %d", i+1)
	}

	err := g.Admit(ctx, "gpt")
	require.Error(t, err)
	assert.ErrorIs(t, err, inferhub.ErrQuotaExceeded)

	var qe *inferhub.QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "gpt", qe.Model)
	assert.Equal(t, int64(3), qe.Used)
	assert.Equal(t, int64(3), qe.Limit)

	// Rejection does not count.
	snap, err := g.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, int64(3), snap[0].Used)
}

func TestDailyGate_DefaultLimitForUnlistedModel(t *testing.T) {
	g := NewDailyGate(limits(2, nil))
	ctx := context.Background()

	require.NoError(t, g.Admit(ctx, "mixtral"))
	require.NoError(t, g.Admit(ctx, "mixtral"))
	assert.ErrorIs(t, g.Admit(ctx, "mixtral"), inferhub.ErrQuotaExceeded)

	// Models are counted independently.
	assert.NoError(t, g.Admit(ctx, "llama3-8b"))
}

func TestDailyGate_ZeroLimitRejectsEverything(t *testing.T) {
	g := NewDailyGate(limits(5, map[string]int64{"blocked": 0}))
	assert.ErrorIs(t, g.Admit(context.Background(), "blocked"), inferhub.ErrQuotaExceeded)
}

func TestDailyGate_Rollover(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)}
	g := NewDailyGate(limits(1, nil), WithClock(clock.Now), WithLocation(time.UTC))
	ctx := context.Background()

	require.NoError(t, g.Admit(ctx, "gpt"))
	assert.ErrorIs(t, g.Admit(ctx, "gpt"), inferhub.ErrQuotaExceeded)

	clock.Set(time.Date(2024, 5, 2, 0, 0, 1, 0, time.UTC))
	require.NoError(t, g.Admit(ctx, "gpt"))

	snap, err := g.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "2024-05-02", snap[0].Day)
	assert.Equal(t, int64(1), snap[0].Used)
}

func TestDailyGate_LocationDecidesDayBoundary(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	// 16:00 UTC is already the next day at UTC+9.
	clock := &fakeClock{now: time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)}
	g := NewDailyGate(limits(1, nil), WithClock(clock.Now), WithLocation(seoul))
	ctx := context.Background()

	require.NoError(t, g.Admit(ctx, "gpt"))
	clock.Set(time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC))
	assert.NoError(t, g.Admit(ctx, "gpt"))
}

func TestDailyGate_ConcurrentAdmitsNeverOverAdmit(t *testing.T) {
	const limit = 50
	const callers = 200

	g := NewDailyGate(limits(limit, nil))
	ctx := context.Background()

	var wg sync.WaitGroup
	var admitted, rejected atomic.Int64
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Admit(ctx, "gpt"); err != nil {
				rejected.Add(1)
				return
			}
			admitted.Add(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())
	assert.Equal(t, int64(callers-limit), rejected.Load())
}
