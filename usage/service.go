// Package usage records per-call usage and answers aggregation queries over it.
package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ineyio/inferhub"
)

// ModelStat aggregates usage for one model.
type ModelStat struct {
	Model        string `json:"model"`
	Calls        int64  `json:"calls"`
	TotalTokens  int64  `json:"totalTokens"`
	AvgElapsedMs int64  `json:"avgElapsedMs"`
}

// Service is the usage recorder. Dates are calendar days in the service's location.
type Service struct {
	store  inferhub.UsageStore
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

var _ inferhub.UsageRecorder = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithLocation sets the time zone used to stamp and query dates.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service over store.
func New(store inferhub.UsageStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		loc:    time.Local,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends u, stamping today's date when u.Date is empty.
func (s *Service) Record(ctx context.Context, u inferhub.UsageRecord) error {
	if u.Date == "" {
		u.Date = s.today()
	}
	if err := s.store.CreateUsage(ctx, &u); err != nil {
		return fmt.Errorf("inferhub/usage: record: %w", err)
	}
	s.logger.Debug("usage recorded",
		zap.String("model", u.Model),
		zap.Int("tokens", u.TokensUsed),
		zap.Int64("elapsed_ms", u.ElapsedTimeMs),
	)
	return nil
}

// Today returns today's records for every model.
func (s *Service) Today(ctx context.Context) ([]inferhub.UsageRecord, error) {
	day := s.today()
	return s.store.ListUsage(ctx, day, day, "")
}

// TodayByModel returns today's records for model.
func (s *Service) TodayByModel(ctx context.Context, model string) ([]inferhub.UsageRecord, error) {
	day := s.today()
	return s.store.ListUsage(ctx, day, day, model)
}

// Between returns records dated from..to, both inclusive.
func (s *Service) Between(ctx context.Context, from, to time.Time) ([]inferhub.UsageRecord, error) {
	f, t, err := dateRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.store.ListUsage(ctx, f, t, "")
}

// StatsToday aggregates today's records per model.
func (s *Service) StatsToday(ctx context.Context) ([]ModelStat, error) {
	records, err := s.Today(ctx)
	if err != nil {
		return nil, err
	}
	return Stats(records), nil
}

// StatsBetween aggregates records dated from..to per model.
func (s *Service) StatsBetween(ctx context.Context, from, to time.Time) ([]ModelStat, error) {
	records, err := s.Between(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return Stats(records), nil
}

// Summary aggregates records dated from..to per (date, model).
func (s *Service) Summary(ctx context.Context, from, to time.Time) ([]inferhub.UsageSummary, error) {
	f, t, err := dateRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.store.SummarizeUsage(ctx, f, t)
}

// Stats groups records by model, sorted by model. The average is truncated
// to whole milliseconds.
func Stats(records []inferhub.UsageRecord) []ModelStat {
	type acc struct {
		calls, tokens, elapsed int64
	}
	byModel := make(map[string]*acc)
	for _, r := range records {
		a := byModel[r.Model]
		if a == nil {
			a = &acc{}
			byModel[r.Model] = a
		}
		a.calls++
		a.tokens += int64(r.TokensUsed)
		a.elapsed += r.ElapsedTimeMs
	}

	out := make([]ModelStat, 0, len(byModel))
	for model, a := range byModel {
		out = append(out, ModelStat{
			Model:        model,
			Calls:        a.calls,
			TotalTokens:  a.tokens,
			AvgElapsedMs: a.elapsed / a.calls,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

func (s *Service) today() string {
	return s.now().In(s.loc).Format(inferhub.DateLayout)
}

func dateRange(from, to time.Time) (string, string, error) {
	if from.After(to) {
		return "", "", &inferhub.ValidationError{Field: "from", Reason: "must not be after to"}
	}
	return from.Format(inferhub.DateLayout), to.Format(inferhub.DateLayout), nil
}

// ParseDate parses a YYYY-MM-DD query value.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(inferhub.DateLayout, value)
	if err != nil {
		return time.Time{}, &inferhub.ValidationError{Field: field, Reason: "must be a YYYY-MM-DD date"}
	}
	return t, nil
}
