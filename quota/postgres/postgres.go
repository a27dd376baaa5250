// Package postgres provides a PostgreSQL-backed daily quota gate.
//
// Counters live in one table keyed by (day, model), so several instances
// sharing a database enforce the same limits and counts survive restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/inferhub"
)

// Gate is a PostgreSQL-backed QuotaGate.
type Gate struct {
	pool        *pgxpool.Pool
	limits      inferhub.QuotaLimits
	tablePrefix string
	loc         *time.Location
	now         func() time.Time
}

var (
	_ inferhub.QuotaGate     = (*Gate)(nil)
	_ inferhub.QuotaReporter = (*Gate)(nil)
)

// Option configures Gate.
type Option func(*Gate)

// WithTablePrefix sets the table name prefix (default "inferhub_").
func WithTablePrefix(prefix string) Option {
	return func(g *Gate) { g.tablePrefix = prefix }
}

// WithLocation sets the time zone whose midnight starts a new day.
func WithLocation(loc *time.Location) Option {
	return func(g *Gate) { g.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a Gate. Call EnsureSchema before the first Admit.
func New(pool *pgxpool.Pool, limits inferhub.QuotaLimits, opts ...Option) *Gate {
	g := &Gate{
		pool:        pool,
		limits:      limits,
		tablePrefix: "inferhub_",
		loc:         time.Local,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) table() string { return g.tablePrefix + "quota_counters" }

// EnsureSchema creates the counters table if it doesn't exist.
func (g *Gate) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			day   TEXT   NOT NULL,
			model TEXT   NOT NULL,
			used  BIGINT NOT NULL,
			PRIMARY KEY (day, model)
		)`, g.table())
	if _, err := g.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("inferhub/postgres: ensure schema: %w", err)
	}
	return nil
}

// Admit increments today's counter for model in one statement. The row lock
// taken by the upsert makes check-and-increment atomic across instances.
func (g *Gate) Admit(ctx context.Context, model string) error {
	limit := g.limits.Limit(model)
	day := g.day()
	if limit <= 0 {
		return &inferhub.QuotaError{Model: model, Used: 0, Limit: limit}
	}

	var used int64
	err := g.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s AS c (day, model, used) VALUES ($1, $2, 1)
			ON CONFLICT (day, model) DO UPDATE SET used = c.used + 1
			WHERE c.used < $3
			RETURNING c.used`, g.table()),
		day, model, limit,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		current, cerr := g.used(ctx, day, model)
		if cerr != nil {
			return cerr
		}
		return &inferhub.QuotaError{Model: model, Used: current, Limit: limit}
	}
	if err != nil {
		return fmt.Errorf("inferhub/postgres: admit %s: %w", model, err)
	}
	return nil
}

func (g *Gate) used(ctx context.Context, day, model string) (int64, error) {
	var used int64
	err := g.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT used FROM %s WHERE day = $1 AND model = $2`, g.table()),
		day, model,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("inferhub/postgres: read counter: %w", err)
	}
	return used, nil
}

// Snapshot returns today's counters sorted by model.
func (g *Gate) Snapshot(ctx context.Context) ([]inferhub.QuotaUsage, error) {
	day := g.day()
	rows, err := g.pool.Query(ctx,
		fmt.Sprintf(`SELECT model, used FROM %s WHERE day = $1 ORDER BY model`, g.table()),
		day,
	)
	if err != nil {
		return nil, fmt.Errorf("inferhub/postgres: snapshot: %w", err)
	}
	defer rows.Close()

	var out []inferhub.QuotaUsage
	for rows.Next() {
		u := inferhub.QuotaUsage{Day: day}
		if err := rows.Scan(&u.Model, &u.Used); err != nil {
			return nil, fmt.Errorf("inferhub/postgres: snapshot scan: %w", err)
		}
		u.Limit = g.limits.Limit(u.Model)
		out = append(out, u)
	}
	return out, rows.Err()
}

// Prune deletes counters of days before the given number of days ago.
func (g *Gate) Prune(ctx context.Context, keepDays int) (int64, error) {
	cutoff := g.now().In(g.loc).AddDate(0, 0, -keepDays).Format(inferhub.DateLayout)
	tag, err := g.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE day < $1`, g.table()),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("inferhub/postgres: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (g *Gate) day() string {
	return g.now().In(g.loc).Format(inferhub.DateLayout)
}
