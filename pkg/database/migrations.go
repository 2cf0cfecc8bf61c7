package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratemssql "github.com/golang-migrate/migrate/v4/database/sqlserver"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/apperrors"
)

// RunMigrations executes pending database migrations from the specified directory.
// It is idempotent and safe to call multiple times - only pending migrations will be executed.
func RunMigrations(db *sql.DB, driverName, migrationsPath string, logger *zap.Logger) error {
	driver, err := migrationDriver(db, driverName)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		driverName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("Failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("Failed to close migration database", zap.Error(dbErr))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migrations to apply (database up-to-date)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Applied migrations successfully", zap.Uint("version", newVersion))
	return nil
}

func migrationDriver(db *sql.DB, driverName string) (migratedb.Driver, error) {
	var (
		driver migratedb.Driver
		err    error
	)
	switch driverName {
	case "postgres":
		driver, err = migratepg.WithInstance(db, &migratepg.Config{})
	case "mysql":
		driver, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	case "sqlserver":
		driver, err = migratemssql.WithInstance(db, &migratemssql.Config{})
	default:
		return nil, &apperrors.UnsupportedOperationError{Driver: driverName, Operation: "migrate"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	return driver, nil
}

// Migrate applies the migrations in migrationsPath to the write endpoint of a
// named connection. It opens its own database/sql pool and closes it after.
func (m *Manager) Migrate(ctx context.Context, name, migrationsPath string) error {
	n := m.parse(name)

	cfg, err := m.cfg.Lookup(n.Base)
	if err != nil {
		return err
	}

	reg, ok := datasource.GetDriver(cfg.Driver)
	if !ok || reg.OpenDB == nil {
		return &apperrors.UnsupportedOperationError{Connection: n.Full, Driver: cfg.Driver, Operation: "migrate"}
	}

	db, err := reg.OpenDB(cfg.WriteEndpoint())
	if err != nil {
		return fmt.Errorf("open %s for migrations: %w", n.Full, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return &apperrors.ConnectionBuildError{Connection: n.Full, Err: err}
	}

	return RunMigrations(db, reg.Info.Name, migrationsPath, m.logger.With(zap.String("connection", n.Full)))
}
