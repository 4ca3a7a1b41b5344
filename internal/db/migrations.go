// Package db provides database migration management
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationRunner handles database migrations
type MigrationRunner struct {
	db      *sql.DB
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(db *sql.DB, logger *zap.Logger) (*MigrationRunner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &MigrationRunner{
		db:      db,
		migrate: m,
		logger:  logger,
	}, nil
}

// Up runs all pending migrations
func (mr *MigrationRunner) Up() error {
	mr.logger.Info("running database migrations")

	err := mr.migrate.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err == migrate.ErrNoChange {
		mr.logger.Info("no new migrations to apply")
		return nil
	}

	version, dirty, err := mr.migrate.Version()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		return fmt.Errorf("database is in dirty state at version %d", version)
	}

	mr.logger.Info("migrations applied", zap.Uint("version", version))
	return nil
}

// Down rolls back one migration
func (mr *MigrationRunner) Down() error {
	err := mr.migrate.Steps(-1)
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("rollback failed: %w", err)
	}

	version, dirty, err := mr.migrate.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			mr.logger.Info("rolled back all migrations")
			return nil
		}
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		return fmt.Errorf("database is in dirty state at version %d", version)
	}

	mr.logger.Info("rolled back", zap.Uint("version", version))
	return nil
}

// Version returns the current migration version
func (mr *MigrationRunner) Version() (uint, bool, error) {
	version, dirty, err := mr.migrate.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Close closes the migration runner
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("failed to close source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}

// ListMigrations returns all available migration files
func ListMigrations() ([]string, error) {
	var migrations []string

	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && len(path) > len("migrations/") {
			migrations = append(migrations, path[len("migrations/"):])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	return migrations, nil
}
