package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ineyio/inferhub"
)

const stubColumns = `id, owner_id, project, content_type, content, embedded, created_at`

func stubTable(kind inferhub.StubKind) (string, error) {
	switch kind {
	case inferhub.StubKindLog:
		return "embedding_log_metadata", nil
	case inferhub.StubKindContext:
		return "embedding_context_metadata", nil
	default:
		return "", fmt.Errorf("sqlstore: unknown stub kind %q", kind)
	}
}

// UpsertStub inserts s unless (owner_id, content_type) already exists.
func (s *Store) UpsertStub(ctx context.Context, stub *inferhub.Stub) (bool, error) {
	table, err := stubTable(stub.Kind)
	if err != nil {
		return false, err
	}

	createdAt := s.now()
	query := s.db.Rebind(`INSERT INTO ` + table + ` (owner_id, project, content_type, content, embedded, created_at)
	          VALUES (?, ?, ?, ?, FALSE, ?)
	          ON CONFLICT (owner_id, content_type) DO NOTHING
	          RETURNING id`)

	var id int64
	err = s.db.QueryRowxContext(ctx, query,
		stub.OwnerID, stub.Project, stub.ContentType, stub.Content, createdAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlstore: upsert stub: %w", err)
	}

	stub.ID = id
	stub.Embedded = false
	stub.CreatedAt = createdAt
	return true, nil
}

func (s *Store) ListStubs(ctx context.Context, kind inferhub.StubKind, ownerID int64) ([]inferhub.Stub, error) {
	table, err := stubTable(kind)
	if err != nil {
		return nil, err
	}

	stubs := []inferhub.Stub{}
	query := s.db.Rebind(`SELECT ` + stubColumns + ` FROM ` + table + ` WHERE owner_id = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &stubs, query, ownerID); err != nil {
		return nil, fmt.Errorf("sqlstore: list stubs: %w", err)
	}
	for i := range stubs {
		stubs[i].Kind = kind
	}
	return stubs, nil
}

// ListPendingStubs returns up to limit stubs not yet embedded, oldest first.
func (s *Store) ListPendingStubs(ctx context.Context, kind inferhub.StubKind, limit int) ([]inferhub.Stub, error) {
	table, err := stubTable(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	stubs := []inferhub.Stub{}
	query := s.db.Rebind(`SELECT ` + stubColumns + ` FROM ` + table + ` WHERE embedded = FALSE ORDER BY id LIMIT ?`)
	if err := s.db.SelectContext(ctx, &stubs, query, limit); err != nil {
		return nil, fmt.Errorf("sqlstore: list pending stubs: %w", err)
	}
	for i := range stubs {
		stubs[i].Kind = kind
	}
	return stubs, nil
}

func (s *Store) MarkEmbedded(ctx context.Context, kind inferhub.StubKind, id int64) error {
	table, err := stubTable(kind)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE `+table+` SET embedded = TRUE WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqlstore: mark embedded: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s stub %d", inferhub.ErrNotFound, kind, id)
	}
	return nil
}
