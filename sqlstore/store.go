package sqlstore

import (
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ineyio/inferhub"
)

// Store implements every inferhub storage interface against one database.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ inferhub.ContextSetStore = (*Store)(nil)
	_ inferhub.LogStore        = (*Store)(nil)
	_ inferhub.StubStore       = (*Store)(nil)
	_ inferhub.UsageStore      = (*Store)(nil)
	_ inferhub.TemplateStore   = (*Store)(nil)
)

// New creates a Store over an open, migrated database.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle, mainly for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }
