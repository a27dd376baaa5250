package inferhub

import "context"

// QuotaGate admits or rejects a call before it reaches a provider.
type QuotaGate interface {
	// Admit counts one call against the model's daily limit. It returns a
	// *QuotaError (errors.Is ErrQuotaExceeded) without counting when the limit
	// has been reached.
	Admit(ctx context.Context, model string) error
}

// QuotaLimits maps model names to daily call limits.
type QuotaLimits struct {
	Default  int64            `yaml:"default_limit"`
	PerModel map[string]int64 `yaml:"limits"`
}

// DefaultQuotaLimits returns the stock limits.
func DefaultQuotaLimits() QuotaLimits {
	return QuotaLimits{
		Default: 1000,
		PerModel: map[string]int64{
			"gpt":    1500,
			"groq":   1000,
			"claude": 500,
		},
	}
}

// Limit returns the configured daily limit for model.
func (l QuotaLimits) Limit(model string) int64 {
	if n, ok := l.PerModel[model]; ok {
		return n
	}
	return l.Default
}

// QuotaUsage is one model's counter for the current day.
type QuotaUsage struct {
	Model string `json:"model"`
	Used  int64  `json:"used"`
	Limit int64  `json:"limit"`
	Day   string `json:"day"`
}

// QuotaReporter is implemented by gates that can report today's counters.
type QuotaReporter interface {
	Snapshot(ctx context.Context) ([]QuotaUsage, error)
}
