package sqlstore

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Migrate applies all pending migrations for driver.
func Migrate(db *sqlx.DB, driver string, logger *zap.Logger) error {
	var (
		instance database.Driver
		dir      string
		err      error
	)

	switch driver {
	case DriverSQLite:
		dir = "migrations/sqlite"
		instance, err = sqlitemigrate.WithInstance(db.DB, &sqlitemigrate.Config{})
	case DriverPostgres:
		dir = "migrations/postgres"
		instance, err = pgxmigrate.WithInstance(db.DB, &pgxmigrate.Config{})
	default:
		return fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("sqlstore: migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("sqlstore: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "inferhub", instance)
	if err != nil {
		return fmt.Errorf("sqlstore: create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlstore: run migrations: %w", err)
	}

	logger.Info("database migration was run successfully", zap.String("driver", driver))
	return nil
}
