package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ineyio/inferhub"
)

// templateRow is the stored form of a Template; the context map is kept as JSON text.
type templateRow struct {
	ID          int64     `db:"id"`
	Project     string    `db:"project"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	ContextJSON string    `db:"context_json"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r templateRow) template() (inferhub.Template, error) {
	t := inferhub.Template{
		ID:          r.ID,
		Project:     r.Project,
		Name:        r.Name,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
	if r.ContextJSON != "" {
		if err := json.Unmarshal([]byte(r.ContextJSON), &t.Context); err != nil {
			return inferhub.Template{}, fmt.Errorf("sqlstore: decode template %d context: %w", r.ID, err)
		}
	}
	return t, nil
}

const templateColumns = `id, project, name, description, context_json, created_at`

func (s *Store) CreateTemplate(ctx context.Context, t *inferhub.Template) error {
	ctxJSON := []byte("{}")
	if t.Context != nil {
		var err error
		if ctxJSON, err = json.Marshal(t.Context); err != nil {
			return fmt.Errorf("sqlstore: encode template context: %w", err)
		}
	}

	t.CreatedAt = s.now()
	query := s.db.Rebind(`INSERT INTO context_templates (project, name, description, context_json, created_at)
	          VALUES (?, ?, ?, ?, ?) RETURNING id`)
	err := s.db.QueryRowxContext(ctx, query,
		t.Project, t.Name, t.Description, string(ctxJSON), t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: create template: %w", err)
	}
	return nil
}

// ListTemplates returns templates for project, or all of them when project is empty.
func (s *Store) ListTemplates(ctx context.Context, project string) ([]inferhub.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM context_templates`
	var args []any
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY id`

	var rows []templateRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: list templates: %w", err)
	}

	out := make([]inferhub.Template, 0, len(rows))
	for _, r := range rows {
		t, err := r.template()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) GetTemplate(ctx context.Context, id int64) (inferhub.Template, error) {
	var r templateRow
	query := s.db.Rebind(`SELECT ` + templateColumns + ` FROM context_templates WHERE id = ?`)
	if err := s.db.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inferhub.Template{}, fmt.Errorf("%w: template %d", inferhub.ErrNotFound, id)
		}
		return inferhub.Template{}, fmt.Errorf("sqlstore: get template: %w", err)
	}
	return r.template()
}

func (s *Store) DeleteTemplate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM context_templates WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete template: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: template %d", inferhub.ErrNotFound, id)
	}
	return nil
}
