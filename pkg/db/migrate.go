package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/incidentops/sopflow/pkg/ha"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// AutoMigrate creates or updates the tables for models while holding the
// cluster-wide migration lock.
func AutoMigrate(ctx context.Context, gdb *gorm.DB, models ...any) error {
	locker := ha.NewMigrationLocker(gdb)
	return locker.WithLock(ctx, func() error {
		return gdb.WithContext(ctx).AutoMigrate(models...)
	})
}

// MigrateUp applies the embedded SQL migrations to a PostgreSQL database.
// The connection is made through lib/pq.
func MigrateUp(dsn string, logger *slog.Logger) error {
	m, closeFn, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("schema is up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}

// MigrateDown rolls back every embedded SQL migration.
func MigrateDown(dsn string, logger *slog.Logger) error {
	m, closeFn, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back migrations: %w", err)
	}
	logger.Info("migrations rolled back")
	return nil
}

func newMigrator(dsn string) (*migrate.Migrate, func(), error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("init migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, func() { _, _ = m.Close() }, nil
}
