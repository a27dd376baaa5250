// Package quota provides per-model daily call gates.
package quota

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ineyio/inferhub"
)

// DailyGate is an in-process QuotaGate. Counters are cleared the first time a
// call observes a new calendar day in the gate's location.
type DailyGate struct {
	mu     sync.Mutex
	limits inferhub.QuotaLimits
	loc    *time.Location
	now    func() time.Time
	day    string
	counts map[string]int64
}

var (
	_ inferhub.QuotaGate     = (*DailyGate)(nil)
	_ inferhub.QuotaReporter = (*DailyGate)(nil)
)

// Option configures a DailyGate.
type Option func(*DailyGate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *DailyGate) { g.now = now }
}

// WithLocation sets the time zone that decides where a day ends.
func WithLocation(loc *time.Location) Option {
	return func(g *DailyGate) { g.loc = loc }
}

// NewDailyGate creates a gate enforcing limits.
func NewDailyGate(limits inferhub.QuotaLimits, opts ...Option) *DailyGate {
	g := &DailyGate{
		limits: limits,
		loc:    time.Local,
		now:    time.Now,
		counts: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit counts one call for model, or returns *inferhub.QuotaError without
// counting when the model has reached its limit today.
func (g *DailyGate) Admit(_ context.Context, model string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()

	used := g.counts[model]
	limit := g.limits.Limit(model)
	if used >= limit {
		return &inferhub.QuotaError{Model: model, Used: used, Limit: limit}
	}

	g.counts[model] = used + 1
	return nil
}

// Snapshot returns today's counters sorted by model.
func (g *DailyGate) Snapshot(_ context.Context) ([]inferhub.QuotaUsage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()

	out := make([]inferhub.QuotaUsage, 0, len(g.counts))
	for model, used := range g.counts {
		out = append(out, inferhub.QuotaUsage{
			Model: model,
			Used:  used,
			Limit: g.limits.Limit(model),
			Day:   g.day,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out, nil
}

// rollover must be called with mu held.
func (g *DailyGate) rollover() {
	today := g.now().In(g.loc).Format(inferhub.DateLayout)
	if today != g.day {
		g.day = today
		clear(g.counts)
	}
}
