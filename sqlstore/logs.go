package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ineyio/inferhub"
)

const logColumns = `id, request_id, project, provider, model, prompt, query_text, result, status, error_message, elapsed_ms, created_at`

func (s *Store) CreateLog(ctx context.Context, l *inferhub.InferenceLog) error {
	l.CreatedAt = s.now()
	if l.Status == "" {
		l.Status = inferhub.LogStatusOK
	}
	query := s.db.Rebind(`INSERT INTO inference_logs
	          (request_id, project, provider, model, prompt, query_text, result, status, error_message, elapsed_ms, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := s.db.QueryRowxContext(ctx, query,
		l.RequestID, l.Project, l.Provider, l.Model, l.Prompt, l.Query, l.Result,
		l.Status, l.Error, l.ElapsedMs, l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: create log: %w", err)
	}
	return nil
}

func (s *Store) GetLog(ctx context.Context, id int64) (inferhub.InferenceLog, error) {
	var l inferhub.InferenceLog
	query := s.db.Rebind(`SELECT ` + logColumns + ` FROM inference_logs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &l, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inferhub.InferenceLog{}, fmt.Errorf("%w: log %d", inferhub.ErrNotFound, id)
		}
		return inferhub.InferenceLog{}, fmt.Errorf("sqlstore: get log: %w", err)
	}
	return l, nil
}

// ListLogs applies f. With AfterID set the order is always ascending by id.
func (s *Store) ListLogs(ctx context.Context, f inferhub.LogFilter) ([]inferhub.InferenceLog, error) {
	var (
		where []string
		args  []any
	)
	if f.Project != "" {
		where = append(where, "LOWER(project) = LOWER(?)")
		args = append(args, f.Project)
	}
	if f.Provider != "" {
		where = append(where, "LOWER(provider) = LOWER(?)")
		args = append(args, f.Provider)
	}
	if f.Model != "" {
		where = append(where, "LOWER(model) = LOWER(?)")
		args = append(args, f.Model)
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.To.UTC().AddDate(0, 0, 1))
	}
	if f.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, f.AfterID)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + logColumns + ` FROM inference_logs`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if f.Desc && f.AfterID == 0 {
		sb.WriteString(" ORDER BY created_at DESC, id DESC")
	} else {
		sb.WriteString(" ORDER BY id ASC")
	}
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	logs := []inferhub.InferenceLog{}
	if err := s.db.SelectContext(ctx, &logs, s.db.Rebind(sb.String()), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: list logs: %w", err)
	}
	return logs, nil
}
