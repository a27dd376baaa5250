package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ineyio/inferhub"
)

const contextSetColumns = `id, name, persona, role, situation, goal, tone, created_at`

func (s *Store) CreateContextSet(ctx context.Context, cs *inferhub.ContextSet) error {
	cs.CreatedAt = s.now()
	query := s.db.Rebind(`INSERT INTO context_sets (name, persona, role, situation, goal, tone, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := s.db.QueryRowxContext(ctx, query,
		cs.Name, cs.Persona, cs.Role, cs.Situation, cs.Goal, cs.Tone, cs.CreatedAt,
	).Scan(&cs.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: create context set: %w", err)
	}
	return nil
}

func (s *Store) GetContextSet(ctx context.Context, id int64) (inferhub.ContextSet, error) {
	var cs inferhub.ContextSet
	query := s.db.Rebind(`SELECT ` + contextSetColumns + ` FROM context_sets WHERE id = ?`)
	if err := s.db.GetContext(ctx, &cs, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inferhub.ContextSet{}, fmt.Errorf("%w: id %d", inferhub.ErrContextNotFound, id)
		}
		return inferhub.ContextSet{}, fmt.Errorf("sqlstore: get context set: %w", err)
	}
	return cs, nil
}

// UpdateContextSet overwrites the editable fields. Existing CONTEXT stubs are
// not touched.
func (s *Store) UpdateContextSet(ctx context.Context, cs inferhub.ContextSet) error {
	query := s.db.Rebind(`UPDATE context_sets SET name = ?, persona = ?, role = ?, situation = ?, goal = ?, tone = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, cs.Name, cs.Persona, cs.Role, cs.Situation, cs.Goal, cs.Tone, cs.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update context set: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: id %d", inferhub.ErrContextNotFound, cs.ID)
	}
	return nil
}

func (s *Store) ListContextSets(ctx context.Context) ([]inferhub.ContextSet, error) {
	sets := []inferhub.ContextSet{}
	if err := s.db.SelectContext(ctx, &sets, `SELECT `+contextSetColumns+` FROM context_sets ORDER BY id`); err != nil {
		return nil, fmt.Errorf("sqlstore: list context sets: %w", err)
	}
	return sets, nil
}
