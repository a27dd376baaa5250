package sqlstore

import (
	"context"
	"fmt"

	"github.com/ineyio/inferhub"
)

const usageColumns = `id, model, tokens_used, elapsed_time_ms, usage_date, ip_address, created_at`

func (s *Store) CreateUsage(ctx context.Context, u *inferhub.UsageRecord) error {
	u.CreatedAt = s.now()
	if u.Date == "" {
		u.Date = u.CreatedAt.Format(inferhub.DateLayout)
	}
	query := s.db.Rebind(`INSERT INTO usage_records (model, tokens_used, elapsed_time_ms, usage_date, ip_address, created_at)
	          VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
	err := s.db.QueryRowxContext(ctx, query,
		u.Model, u.TokensUsed, u.ElapsedTimeMs, u.Date, u.IPAddress, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: create usage: %w", err)
	}
	return nil
}

// ListUsage returns records with from <= date <= to (YYYY-MM-DD), optionally
// restricted to one model, ordered by id.
func (s *Store) ListUsage(ctx context.Context, from, to, model string) ([]inferhub.UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE usage_date >= ? AND usage_date <= ?`
	args := []any{from, to}
	if model != "" {
		query += ` AND model = ?`
		args = append(args, model)
	}
	query += ` ORDER BY id`

	records := []inferhub.UsageRecord{}
	if err := s.db.SelectContext(ctx, &records, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: list usage: %w", err)
	}
	return records, nil
}

// SummarizeUsage groups records by (date, model), ordered by date then model.
func (s *Store) SummarizeUsage(ctx context.Context, from, to string) ([]inferhub.UsageSummary, error) {
	query := s.db.Rebind(`SELECT usage_date, model,
	              COUNT(*) AS calls,
	              COALESCE(SUM(tokens_used), 0) AS total_tokens,
	              CAST(COALESCE(AVG(elapsed_time_ms), 0) AS DOUBLE PRECISION) AS avg_elapsed
	          FROM usage_records
	          WHERE usage_date >= ? AND usage_date <= ?
	          GROUP BY usage_date, model
	          ORDER BY usage_date, model`)

	summary := []inferhub.UsageSummary{}
	if err := s.db.SelectContext(ctx, &summary, query, from, to); err != nil {
		return nil, fmt.Errorf("sqlstore: summarize usage: %w", err)
	}
	return summary, nil
}
